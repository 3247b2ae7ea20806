package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/sorting-kiosk/internal/config"
)

// RedisStore is a session-scoped store on Redis. Every key lives under the
// session namespace and carries the session TTL.
type RedisStore struct {
	Client *redis.Client
	prefix string
	ttl    time.Duration
	sealer *Sealer
}

// NewRedis connects to Redis using the provided configuration.
func NewRedis(cfg config.RedisConfig, sessionID string, ttl time.Duration, sealer *Sealer, logger *zap.Logger) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		logger.Warn("unable to reach redis", zap.Error(err))
	} else {
		logger.Info("connected to redis", zap.String("session_id", sessionID))
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "kiosk"
	}

	return &RedisStore{
		Client: client,
		prefix: fmt.Sprintf("%s:%s:", prefix, sessionID),
		ttl:    ttl,
		sealer: sealer,
	}
}

func (r *RedisStore) key(k string) string {
	return r.prefix + k
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	raw, err := r.Client.Get(ctx, r.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	val, err := r.sealer.Open(raw)
	if err != nil {
		return "", false, fmt.Errorf("open %s: %w", key, err)
	}
	return val, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key, value string) error {
	sealed, err := r.sealer.Seal(value)
	if err != nil {
		return fmt.Errorf("seal %s: %w", key, err)
	}
	return r.Client.Set(ctx, r.key(key), sealed, r.ttl).Err()
}

func (r *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, 0, len(keys))
	for _, k := range keys {
		full = append(full, r.key(k))
	}
	return r.Client.Del(ctx, full...).Err()
}

// Close closes the client.
func (r *RedisStore) Close() {
	if r != nil && r.Client != nil {
		_ = r.Client.Close()
	}
}

// Ping verifies Redis connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return errors.New("redis client not configured")
	}
	return r.Client.Ping(ctx).Err()
}
