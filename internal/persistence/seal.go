package persistence

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
)

// ErrSealedValue is returned when a stored value cannot be opened.
var ErrSealedValue = errors.New("sealed value rejected")

// Sealer encrypts values at rest with XChaCha20-Poly1305. A nil Sealer passes
// values through unchanged.
type Sealer struct {
	key []byte
}

// NewSealer derives a 256-bit key from passphrase. An empty passphrase yields nil.
func NewSealer(passphrase string) *Sealer {
	if passphrase == "" {
		return nil
	}
	sum := blake2b.Sum256([]byte(passphrase))
	return &Sealer{key: sum[:]}
}

// Seal returns base64(nonce || ciphertext).
func (s *Sealer) Seal(plain string) (string, error) {
	if s == nil {
		return plain, nil
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	out := aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed string) (string, error) {
	if s == nil {
		return sealed, nil
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", ErrSealedValue
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize() {
		return "", ErrSealedValue
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrSealedValue
	}
	return string(plain), nil
}
