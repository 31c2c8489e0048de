package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/guild-relay-service/internal/model"
)

// CachedConfigStore puts a redis read-through cache in front of GetOrCreate.
// Writes invalidate the tenant's key. ListEnabledForFeed is never cached.
type CachedConfigStore struct {
	ConfigStore
	redis RedisClient
	ttl   time.Duration
}

func NewCachedConfigStore(inner ConfigStore, rdb RedisClient, ttl time.Duration) *CachedConfigStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedConfigStore{ConfigStore: inner, redis: rdb, ttl: ttl}
}

func cacheKey(tenantID string) string {
	return fmt.Sprintf("tenant_config:%s", tenantID)
}

func (s *CachedConfigStore) GetOrCreate(ctx context.Context, tenantID string) (*model.TenantConfig, error) {
	key := cacheKey(tenantID)
	cached, err := s.redis.Get(ctx, key).Result()
	if err == nil {
		cfg := &model.TenantConfig{}
		if err := json.Unmarshal([]byte(cached), cfg); err == nil {
			return cfg, nil
		}
	}

	cfg, err := s.ConfigStore.GetOrCreate(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(cfg)
	if err == nil {
		if err := s.redis.SetEx(ctx, key, data, s.ttl).Err(); err != nil {
			log.Warn().Err(err).Str("tenant_id", tenantID).Msg("Failed to cache tenant config")
		}
	}
	return cfg, nil
}

func (s *CachedConfigStore) UpdateField(ctx context.Context, tenantID string, field model.SettingField, value any) error {
	if err := s.ConfigStore.UpdateField(ctx, tenantID, field, value); err != nil {
		return err
	}
	s.invalidate(ctx, tenantID)
	return nil
}

// Uncached returns the store behind the cache.
func (s *CachedConfigStore) Uncached() ConfigStore {
	return s.ConfigStore
}

func (s *CachedConfigStore) invalidate(ctx context.Context, tenantID string) {
	if err := s.redis.Del(ctx, cacheKey(tenantID)).Err(); err != nil {
		log.Warn().Err(err).Str("tenant_id", tenantID).Msg("Failed to invalidate tenant config cache")
	}
}

func (s *CachedConfigStore) Close() error {
	innerErr := s.ConfigStore.Close()
	if err := s.redis.Close(); err != nil {
		return err
	}
	return innerErr
}
