package persistence

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/sorting-kiosk/internal/config"
)

// Driver identifiers for session-scoped storage.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

// Pinger reports backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Stores bundles the session-scoped store and the optional legacy location.
type Stores struct {
	Session   KeyValue
	Legacy    KeyValue
	SessionID string

	pinger   Pinger
	redis    *RedisStore
	postgres *Postgres
}

// Open builds the session store selected by cfg.Storage.Driver and, when a
// Postgres DSN is configured, the legacy store.
func Open(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Stores, error) {
	sessionID := cfg.Storage.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	stores := &Stores{SessionID: sessionID}
	sealer := NewSealer(cfg.Storage.SealKey)

	switch cfg.Storage.Driver {
	case "", DriverMemory:
		mem := NewMemory()
		stores.Session = mem
		stores.pinger = mem
	case DriverRedis:
		r := NewRedis(cfg.Redis, sessionID, cfg.Storage.SessionTTL, sealer, logger)
		stores.Session = r
		stores.pinger = r
		stores.redis = r
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Storage.Driver)
	}

	if cfg.Storage.Legacy {
		pg, err := NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			stores.Close()
			return nil, fmt.Errorf("connect legacy storage: %w", err)
		}
		if pool := pg.PoolHandle(); pool != nil {
			if cfg.Postgres.RunMigrations {
				if err := RunMigrations(ctx, pool, cfg.Postgres.MigrationsDir, logger); err != nil {
					pg.Close()
					stores.Close()
					return nil, err
				}
			}
			stores.postgres = pg
			stores.Legacy = NewPostgresStore(pool)
		}
	}

	return stores, nil
}

// Ping verifies the session store is reachable.
func (s *Stores) Ping(ctx context.Context) error {
	if s == nil || s.pinger == nil {
		return fmt.Errorf("session store not configured")
	}
	return s.pinger.Ping(ctx)
}

// Close releases backend connections.
func (s *Stores) Close() {
	if s == nil {
		return
	}
	s.redis.Close()
	s.postgres.Close()
}
