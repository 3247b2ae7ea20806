package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/sorting-kiosk/internal/config"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Set(ctx, "a", "1"))
	require.NoError(t, m.Set(ctx, "b", "2"))

	val, ok, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", val)

	require.NoError(t, m.Delete(ctx, "a", "b", "missing"))
	_, ok, err = m.Get(ctx, "b")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStoreNamespacesAndSeals(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	store := NewRedis(config.RedisConfig{Addr: mr.Addr(), Prefix: "kiosk"}, "session-1", time.Hour, NewSealer("secret"), zap.NewNop())
	t.Cleanup(store.Close)

	require.NoError(t, store.Ping(ctx))
	require.NoError(t, store.Set(ctx, "kiosk.access_token", "tok"))

	raw, err := mr.Get("kiosk:session-1:kiosk.access_token")
	require.NoError(t, err)
	assert.NotEqual(t, "tok", raw, "value must be sealed at rest")
	assert.Equal(t, time.Hour, mr.TTL("kiosk:session-1:kiosk.access_token"))

	val, ok, err := store.Get(ctx, "kiosk.access_token")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tok", val)

	other := NewRedis(config.RedisConfig{Addr: mr.Addr(), Prefix: "kiosk"}, "session-2", time.Hour, NewSealer("secret"), zap.NewNop())
	t.Cleanup(other.Close)
	_, ok, err = other.Get(ctx, "kiosk.access_token")
	require.NoError(t, err)
	assert.False(t, ok, "sessions must not see each other's keys")

	require.NoError(t, store.Delete(ctx, "kiosk.access_token"))
	_, ok, err = store.Get(ctx, "kiosk.access_token")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStoreExpiresWithSession(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	store := NewRedis(config.RedisConfig{Addr: mr.Addr()}, "s", time.Minute, nil, zap.NewNop())
	t.Cleanup(store.Close)

	require.NoError(t, store.Set(ctx, "k", "v"))
	mr.FastForward(2 * time.Minute)

	_, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSealerRoundTripAndTamper(t *testing.T) {
	s := NewSealer("passphrase")
	sealed, err := s.Seal("value")
	require.NoError(t, err)

	plain, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "value", plain)

	_, err = NewSealer("other").Open(sealed)
	assert.ErrorIs(t, err, ErrSealedValue)

	_, err = s.Open("not-base64!")
	assert.ErrorIs(t, err, ErrSealedValue)
}

func TestNilSealerPassesThrough(t *testing.T) {
	var s *Sealer
	assert.Nil(t, NewSealer(""))

	sealed, err := s.Seal("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", sealed)
}

func TestOpenMemoryDriver(t *testing.T) {
	cfg := config.Config{Storage: config.StorageConfig{Driver: DriverMemory}}
	stores, err := Open(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(stores.Close)

	assert.NotEmpty(t, stores.SessionID)
	assert.Nil(t, stores.Legacy)
	assert.NoError(t, stores.Ping(context.Background()))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	cfg := config.Config{Storage: config.StorageConfig{Driver: "etcd"}}
	_, err := Open(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestPendingMigrationsSkipsAppliedAndNonSQL(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"002_b.sql", "001_a.sql", "003_c.sql", "README.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "004_dir.sql"), 0o700))

	pending, err := pendingMigrations(dir, map[string]bool{"002_b.sql": true})
	require.NoError(t, err)
	assert.Equal(t, []string{"001_a.sql", "003_c.sql"}, pending)

	_, err = pendingMigrations(filepath.Join(dir, "missing"), nil)
	assert.Error(t, err)
}
