package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teresa-solution/guild-relay-service/internal/model"
)

func setupTestDB(t *testing.T) (*TenantRepository, func()) {
	dsn := os.Getenv("RELAY_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("RELAY_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	repo, err := NewTenantRepository(ctx, PoolConfig{DSN: dsn})
	require.NoError(t, err)

	// Clear the database before each test
	_, err = repo.pool.Exec(ctx, "TRUNCATE TABLE provisioned_channels, tenant_configs CASCADE")
	require.NoError(t, err)

	return repo, func() { repo.Close() }
}

func TestTenantRepository_GetOrCreate(t *testing.T) {
	repo, teardown := setupTestDB(t)
	defer teardown()
	ctx := context.Background()

	first, err := repo.GetOrCreate(ctx, "guild-1")
	require.NoError(t, err)
	second, err := repo.GetOrCreate(ctx, "guild-1")
	require.NoError(t, err)
	assert.Equal(t, first.TenantID, second.TenantID)
	assert.Empty(t, second.AdminRecipients)
	assert.Nil(t, second.FeedWatermark)

	var count int
	require.NoError(t, repo.pool.QueryRow(ctx, "SELECT COUNT(*) FROM tenant_configs WHERE tenant_id = $1", "guild-1").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestTenantRepository_GetDoesNotCreate(t *testing.T) {
	repo, teardown := setupTestDB(t)
	defer teardown()
	ctx := context.Background()

	_, err := repo.Get(ctx, "guild-1")
	assert.ErrorIs(t, err, ErrNotFound)

	var count int
	require.NoError(t, repo.pool.QueryRow(ctx, "SELECT COUNT(*) FROM tenant_configs").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestTenantRepository_UpdateField(t *testing.T) {
	repo, teardown := setupTestDB(t)
	defer teardown()
	ctx := context.Background()

	require.NoError(t, repo.UpdateField(ctx, "guild-1", model.FieldAdminRecipients, []string{"a", "b"}))
	require.NoError(t, repo.UpdateField(ctx, "guild-1", model.FieldFeedEnabled, true))
	wm := time.Date(2024, 2, 2, 2, 2, 2, 0, time.UTC)
	require.NoError(t, repo.UpdateField(ctx, "guild-1", model.FieldFeedWatermark, wm))

	cfg, err := repo.GetOrCreate(ctx, "guild-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, cfg.AdminRecipients)
	assert.True(t, cfg.FeedEnabled)
	require.NotNil(t, cfg.FeedWatermark)
	assert.True(t, wm.Equal(*cfg.FeedWatermark))

	enabled, err := repo.ListEnabledForFeed(ctx)
	require.NoError(t, err)
	assert.Len(t, enabled, 1)
}

func TestTenantRepository_ProvisionedChannels(t *testing.T) {
	repo, teardown := setupTestDB(t)
	defer teardown()
	ctx := context.Background()

	_, err := repo.GetOrCreate(ctx, "guild-1")
	require.NoError(t, err)
	rec := &model.ProvisionedChannel{
		ID: uuid.New(), TenantID: "guild-1", OwnerID: "user-1", Purpose: model.PurposeIntroduction,
		ChannelID: "chan-1", ChannelName: "ghost-introduction", CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.SaveProvisionedChannel(ctx, rec))

	got, err := repo.GetProvisionedChannel(ctx, "guild-1", "chan-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)

	require.NoError(t, repo.DeleteProvisionedChannel(ctx, "guild-1", "chan-1"))
	_, err = repo.GetProvisionedChannel(ctx, "guild-1", "chan-1")
	assert.ErrorIs(t, err, ErrNotFound)
}
