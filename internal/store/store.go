package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/teresa-solution/guild-relay-service/internal/model"
)

// ErrNotFound is returned when a tenant config, provisioned channel or session does not exist
var ErrNotFound = errors.New("not found")

// ConfigStore persists per-tenant settings and provisioned channel records.
type ConfigStore interface {
	// GetOrCreate never fails on a missing record; it creates the defaults.
	GetOrCreate(ctx context.Context, tenantID string) (*model.TenantConfig, error)
	// Get reads without creating; a missing record is ErrNotFound.
	Get(ctx context.Context, tenantID string) (*model.TenantConfig, error)
	// UpdateField upserts a single column.
	UpdateField(ctx context.Context, tenantID string, field model.SettingField, value any) error
	// ListEnabledForFeed always reads committed state.
	ListEnabledForFeed(ctx context.Context) ([]*model.TenantConfig, error)

	SaveProvisionedChannel(ctx context.Context, rec *model.ProvisionedChannel) error
	GetProvisionedChannel(ctx context.Context, tenantID, channelID string) (*model.ProvisionedChannel, error)
	DeleteProvisionedChannel(ctx context.Context, tenantID, channelID string) error
	ListProvisionedChannels(ctx context.Context, tenantID, ownerID string) ([]*model.ProvisionedChannel, error)

	Close() error
}

// Fresh strips any cache layer from s. Read-modify-write callers use it so a
// stale cached record cannot feed the write.
func Fresh(s ConfigStore) ConfigStore {
	if c, ok := s.(interface{ Uncached() ConfigStore }); ok {
		return c.Uncached()
	}
	return s
}

// RedisClient is the subset of *redis.Client used for caching and sessions.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetEx(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// LedgerClient is the subset of *redis.Client used by RedisLedger.
type LedgerClient interface {
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	ZRemRangeByScore(ctx context.Context, key, min, max string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// DeliveryLedger remembers feed items delivered to a tenant above its
// watermark, so a held-back watermark does not cause duplicate deliveries.
type DeliveryLedger interface {
	Delivered(ctx context.Context, tenantID string) (map[string]bool, error)
	Record(ctx context.Context, tenantID string, item model.FeedItem) error
	// Prune drops entries at or before the watermark.
	Prune(ctx context.Context, tenantID string, watermark time.Time) error
}

// SessionStore keeps settings workflow sessions between menu steps.
type SessionStore interface {
	Put(ctx context.Context, s *model.SettingsSession, ttl time.Duration) error
	Get(ctx context.Context, id string) (*model.SettingsSession, error)
	Delete(ctx context.Context, id string) error
}
