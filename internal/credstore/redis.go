package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tastygate/pkg/utils"
)

const credKeyPrefix = "tastygate:cred:"

// RedisLayer is a read-through hot cache in front of a durable Store.
// Writes go through to the durable store first; the cache entry is only
// touched after the durable write succeeds, so a storage failure never
// leaves the cache ahead of the source of truth.
type RedisLayer struct {
	inner  Store
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisLayer connects to Redis and wraps inner. ttl bounds staleness if
// another process writes the durable store directly.
func NewRedisLayer(inner Store, addr, pass string, db int, ttl time.Duration, logger *zap.Logger) (*RedisLayer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: pass,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	if ttl == 0 {
		ttl = 10 * time.Minute
	}
	return &RedisLayer{inner: inner, rdb: rdb, ttl: ttl, logger: logger}, nil
}

func (s *RedisLayer) Put(ctx context.Context, cred Credential) error {
	if err := s.inner.Put(ctx, cred); err != nil {
		return err
	}
	s.cache(ctx, cred)
	return nil
}

func (s *RedisLayer) Get(ctx context.Context, tenantKey string) (*Credential, error) {
	raw, err := s.rdb.Get(ctx, credKeyPrefix+tenantKey).Result()
	if err == nil {
		var cred Credential
		if jerr := json.Unmarshal([]byte(raw), &cred); jerr == nil {
			return &cred, nil
		}
		// Unreadable entry: drop it and fall through to the durable store.
		s.rdb.Del(ctx, credKeyPrefix+tenantKey)
	} else if !errors.Is(err, redis.Nil) {
		s.logger.Warn("credstore.redis.get_failed",
			zap.String("tenant", utils.KeyPreview(tenantKey)),
			zap.Error(err))
	}

	cred, err := s.inner.Get(ctx, tenantKey)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, *cred)
	return cred, nil
}

func (s *RedisLayer) List(ctx context.Context) ([]Entry, error) {
	return s.inner.List(ctx)
}

func (s *RedisLayer) Delete(ctx context.Context, tenantKey string) error {
	if err := s.inner.Delete(ctx, tenantKey); err != nil {
		return err
	}
	if err := s.rdb.Del(ctx, credKeyPrefix+tenantKey).Err(); err != nil {
		s.logger.Warn("credstore.redis.del_failed",
			zap.String("tenant", utils.KeyPreview(tenantKey)),
			zap.Error(err))
	}
	return nil
}

func (s *RedisLayer) HealthCheck(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: redis: %v", ErrStorage, err)
	}
	return s.inner.HealthCheck(ctx)
}

func (s *RedisLayer) Close() error {
	_ = s.rdb.Close()
	return s.inner.Close()
}

func (s *RedisLayer) cache(ctx context.Context, cred Credential) {
	data, err := json.Marshal(cred)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, credKeyPrefix+cred.TenantKey, data, s.ttl).Err(); err != nil {
		s.logger.Warn("credstore.redis.set_failed",
			zap.String("tenant", utils.KeyPreview(cred.TenantKey)),
			zap.Error(err))
	}
}
