package auth

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/sorting-kiosk/internal/clock"
	"github.com/spec-kit/sorting-kiosk/internal/domain"
	"github.com/spec-kit/sorting-kiosk/internal/persistence"
)

// Session storage keys.
const (
	KeyAccessToken = "kiosk.access_token"
	KeyTokenExpiry = "kiosk.access_token_expires_at"
	KeyRole        = "kiosk.user_role"
)

// Keys used by the older, longer-lived persistence location.
const (
	LegacyKeyAccessToken = "token"
	LegacyKeyTokenExpiry = "tokenExpiry"
	LegacyKeyRole        = "userRole"
)

// CredentialStore is the sole owner of the session's access credential.
// Storage failures are logged and read as "not authenticated".
type CredentialStore struct {
	session persistence.KeyValue
	legacy  persistence.KeyValue
	clock   clock.Clock
	logger  *zap.Logger
}

// NewCredentialStore builds a store over session; legacy may be nil.
func NewCredentialStore(session, legacy persistence.KeyValue, clk clock.Clock, logger *zap.Logger) *CredentialStore {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CredentialStore{session: session, legacy: legacy, clock: clk, logger: logger}
}

// SetCredential stores token. A positive ttl records an absolute expiry.
func (s *CredentialStore) SetCredential(ctx context.Context, token string, ttl time.Duration) error {
	if err := s.session.Set(ctx, KeyAccessToken, token); err != nil {
		s.logger.Warn("store credential", zap.Error(err))
		return err
	}
	if ttl > 0 {
		expiresAt := s.clock.Now().Add(ttl)
		if err := s.session.Set(ctx, KeyTokenExpiry, strconv.FormatInt(expiresAt.UnixMilli(), 10)); err != nil {
			s.logger.Warn("store credential expiry", zap.Error(err))
			s.clearSession(ctx)
			return err
		}
		return nil
	}
	if err := s.session.Delete(ctx, KeyTokenExpiry); err != nil {
		s.logger.Warn("drop stale credential expiry", zap.Error(err))
	}
	return nil
}

// Credential returns the token if it has not expired. An expired credential is
// evicted on read.
func (s *CredentialStore) Credential(ctx context.Context) (string, bool) {
	token, ok, err := s.session.Get(ctx, KeyAccessToken)
	if err != nil {
		s.logger.Warn("read credential", zap.Error(err))
		return "", false
	}
	if !ok || token == "" {
		return "", false
	}

	expiresAt, hasExpiry, err := s.expiry(ctx)
	if err != nil {
		s.logger.Warn("read credential expiry", zap.Error(err))
		return "", false
	}
	if hasExpiry && !s.clock.Now().Before(expiresAt) {
		s.logger.Info("credential expired", zap.Time("expires_at", expiresAt))
		s.clearSession(ctx)
		return "", false
	}
	return token, true
}

// ExpiresAt returns the stored absolute expiry, if any.
func (s *CredentialStore) ExpiresAt(ctx context.Context) (time.Time, bool) {
	expiresAt, ok, err := s.expiry(ctx)
	if err != nil {
		return time.Time{}, false
	}
	return expiresAt, ok
}

// Current returns the live credential with its expiry and cached role.
func (s *CredentialStore) Current(ctx context.Context) (domain.Credential, bool) {
	token, ok := s.Credential(ctx)
	if !ok {
		return domain.Credential{}, false
	}
	cred := domain.Credential{AccessToken: token}
	if exp, ok := s.ExpiresAt(ctx); ok {
		cred.ExpiresAt = &exp
	}
	if role, ok := s.Role(ctx); ok {
		cred.Role = &role
	}
	return cred, true
}

// IsAuthenticated reports whether a live credential is held.
func (s *CredentialStore) IsAuthenticated(ctx context.Context) bool {
	_, ok := s.Credential(ctx)
	return ok
}

// SetRole caches the operator role.
func (s *CredentialStore) SetRole(ctx context.Context, role domain.Role) error {
	if err := s.session.Set(ctx, KeyRole, string(role)); err != nil {
		s.logger.Warn("store role", zap.Error(err))
		return err
	}
	return nil
}

// Role returns the cached role.
func (s *CredentialStore) Role(ctx context.Context) (domain.Role, bool) {
	raw, ok, err := s.session.Get(ctx, KeyRole)
	if err != nil {
		s.logger.Warn("read role", zap.Error(err))
		return "", false
	}
	if !ok {
		return "", false
	}
	return domain.ParseRole(raw)
}

// ClearAll wipes credential, expiry and role from the session store and the
// legacy location.
func (s *CredentialStore) ClearAll(ctx context.Context) {
	s.clearSession(ctx)
	if err := s.session.Delete(ctx, KeyRole); err != nil {
		s.logger.Warn("clear role", zap.Error(err))
	}
	s.clearLegacy(ctx)
}

// MigrateLegacy moves a credential found in the legacy location into the
// session store and removes it from the legacy location. It reports whether a
// credential was moved. Nothing is written or removed unless every legacy key
// could be read and the expiry parsed; an already expired legacy credential
// is discarded.
func (s *CredentialStore) MigrateLegacy(ctx context.Context) (bool, error) {
	if s.legacy == nil {
		return false, nil
	}
	token, ok, err := s.legacy.Get(ctx, LegacyKeyAccessToken)
	if err != nil {
		return false, fmt.Errorf("read legacy credential: %w", err)
	}
	if !ok || token == "" {
		return false, nil
	}
	rawExpiry, hasExpiry, err := s.legacy.Get(ctx, LegacyKeyTokenExpiry)
	if err != nil {
		return false, fmt.Errorf("read legacy credential expiry: %w", err)
	}
	rawRole, hasRole, err := s.legacy.Get(ctx, LegacyKeyRole)
	if err != nil {
		return false, fmt.Errorf("read legacy role: %w", err)
	}

	var expiresAt time.Time
	if hasExpiry {
		millis, err := strconv.ParseInt(rawExpiry, 10, 64)
		if err != nil {
			return false, fmt.Errorf("parse legacy credential expiry %q: %w", rawExpiry, err)
		}
		expiresAt = time.UnixMilli(millis)
		if !s.clock.Now().Before(expiresAt) {
			s.clearLegacy(ctx)
			s.logger.Info("discarded expired legacy credential", zap.Time("expires_at", expiresAt))
			return false, nil
		}
	}

	if hasExpiry {
		if err := s.session.Set(ctx, KeyTokenExpiry, strconv.FormatInt(expiresAt.UnixMilli(), 10)); err != nil {
			return false, err
		}
	}
	if err := s.session.Set(ctx, KeyAccessToken, token); err != nil {
		s.clearSession(ctx)
		return false, err
	}
	if role, known := domain.ParseRole(rawRole); hasRole && known {
		if err := s.session.Set(ctx, KeyRole, string(role)); err != nil {
			s.logger.Warn("legacy role not migrated", zap.Error(err))
		}
	}

	s.clearLegacy(ctx)
	s.logger.Info("migrated credential from legacy storage")
	return true, nil
}

func (s *CredentialStore) expiry(ctx context.Context) (time.Time, bool, error) {
	raw, ok, err := s.session.Get(ctx, KeyTokenExpiry)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(millis), true, nil
}

func (s *CredentialStore) clearSession(ctx context.Context) {
	if err := s.session.Delete(ctx, KeyAccessToken, KeyTokenExpiry); err != nil {
		s.logger.Warn("clear credential", zap.Error(err))
	}
}

func (s *CredentialStore) clearLegacy(ctx context.Context) {
	if s.legacy == nil {
		return
	}
	if err := s.legacy.Delete(ctx, LegacyKeyAccessToken, LegacyKeyTokenExpiry, LegacyKeyRole); err != nil {
		s.logger.Warn("clear legacy credential", zap.Error(err))
	}
}
