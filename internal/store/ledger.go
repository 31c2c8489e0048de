package store

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/teresa-solution/guild-relay-service/internal/model"
)

// RedisLedger keeps one sorted set per tenant, scored by item creation time.
type RedisLedger struct {
	client LedgerClient
	ttl    time.Duration
}

func NewRedisLedger(client LedgerClient, ttl time.Duration) *RedisLedger {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisLedger{client: client, ttl: ttl}
}

func ledgerKey(tenantID string) string {
	return fmt.Sprintf("feed_delivered:%s", tenantID)
}

func (l *RedisLedger) Delivered(ctx context.Context, tenantID string) (map[string]bool, error) {
	ids, err := l.client.ZRange(ctx, ledgerKey(tenantID), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("zrange: %w", err)
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

func (l *RedisLedger) Record(ctx context.Context, tenantID string, item model.FeedItem) error {
	key := ledgerKey(tenantID)
	if err := l.client.ZAdd(ctx, key, redis.Z{Score: float64(item.CreatedAt.UnixMilli()), Member: item.ID}).Err(); err != nil {
		return fmt.Errorf("zadd: %w", err)
	}
	if err := l.client.Expire(ctx, key, l.ttl).Err(); err != nil {
		return fmt.Errorf("expire: %w", err)
	}
	return nil
}

// Prune drops entries strictly older than the watermark's millisecond. Entries
// in that millisecond stay until the next advance or the key TTL.
func (l *RedisLedger) Prune(ctx context.Context, tenantID string, watermark time.Time) error {
	max := "(" + strconv.FormatInt(watermark.UnixMilli(), 10)
	if err := l.client.ZRemRangeByScore(ctx, ledgerKey(tenantID), "-inf", max).Err(); err != nil {
		return fmt.Errorf("zremrangebyscore: %w", err)
	}
	return nil
}

// MemoryLedger is the in-process DeliveryLedger.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]map[string]time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]map[string]time.Time)}
}

func (l *MemoryLedger) Delivered(_ context.Context, tenantID string) (map[string]bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]bool, len(l.entries[tenantID]))
	for id := range l.entries[tenantID] {
		out[id] = true
	}
	return out, nil
}

func (l *MemoryLedger) Record(_ context.Context, tenantID string, item model.FeedItem) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.entries[tenantID] == nil {
		l.entries[tenantID] = make(map[string]time.Time)
	}
	l.entries[tenantID][item.ID] = item.CreatedAt
	return nil
}

func (l *MemoryLedger) Prune(_ context.Context, tenantID string, watermark time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, created := range l.entries[tenantID] {
		if !created.After(watermark) {
			delete(l.entries[tenantID], id)
		}
	}
	return nil
}
