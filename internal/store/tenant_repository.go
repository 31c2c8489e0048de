package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/teresa-solution/guild-relay-service/internal/model"
)

// PoolConfig sizes the Postgres connection pool.
type PoolConfig struct {
	DSN      string
	MaxConns int32
	MinConns int32
}

// TenantRepository is the Postgres-backed ConfigStore
type TenantRepository struct {
	pool *pgxpool.Pool
}

var _ ConfigStore = (*TenantRepository)(nil)

func NewTenantRepository(ctx context.Context, cfg PoolConfig) (*TenantRepository, error) {
	config, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}
	config.MaxConns = 10
	config.MinConns = 2
	if cfg.MaxConns > 0 {
		config.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		config.MinConns = cfg.MinConns
	}
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &TenantRepository{pool: pool}, nil
}

func (r *TenantRepository) Close() error {
	r.pool.Close()
	return nil
}

const selectTenantConfig = `SELECT tenant_id, private_channel_container_id, admin_recipients, feed_enabled,
       feed_delivery_channel_id, feed_watermark, created_at, updated_at
  FROM tenant_configs`

func scanTenantConfig(row pgx.Row) (*model.TenantConfig, error) {
	cfg := &model.TenantConfig{}
	err := row.Scan(&cfg.TenantID, &cfg.PrivateChannelContainerID, &cfg.AdminRecipients, &cfg.FeedEnabled,
		&cfg.FeedDeliveryChannelID, &cfg.FeedWatermark, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if cfg.AdminRecipients == nil {
		cfg.AdminRecipients = []string{}
	}
	return cfg, nil
}

// GetOrCreate inserts the default row if needed and reads it back in one transaction
func (r *TenantRepository) GetOrCreate(ctx context.Context, tenantID string) (*model.TenantConfig, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `INSERT INTO tenant_configs (tenant_id) VALUES ($1) ON CONFLICT (tenant_id) DO NOTHING`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("insert tenant config: %w", err)
	}
	cfg, err := scanTenantConfig(tx.QueryRow(ctx, selectTenantConfig+` WHERE tenant_id = $1`, tenantID))
	if err != nil {
		return nil, fmt.Errorf("select tenant config: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return cfg, nil
}

func (r *TenantRepository) Get(ctx context.Context, tenantID string) (*model.TenantConfig, error) {
	cfg, err := scanTenantConfig(r.pool.QueryRow(ctx, selectTenantConfig+` WHERE tenant_id = $1`, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select tenant config: %w", err)
	}
	return cfg, nil
}

func columnFor(field model.SettingField) (string, error) {
	switch field {
	case model.FieldPrivateChannelContainer, model.FieldAdminRecipients, model.FieldFeedEnabled,
		model.FieldFeedDeliveryChannel, model.FieldFeedWatermark:
		return string(field), nil
	}
	return "", fmt.Errorf("unknown setting %q", field)
}

// columnValue converts a setting value into its SQL argument; nil clears the column.
func columnValue(field model.SettingField, value any) any {
	switch field {
	case model.FieldPrivateChannelContainer, model.FieldFeedDeliveryChannel:
		s, _ := value.(string)
		return s
	case model.FieldAdminRecipients:
		ids, _ := value.([]string)
		if ids == nil {
			ids = []string{}
		}
		return ids
	case model.FieldFeedWatermark:
		switch t := value.(type) {
		case time.Time:
			return t.UTC()
		case *time.Time:
			if t != nil {
				return t.UTC()
			}
		}
		return nil
	}
	return value
}

// UpdateField upserts one column of the tenant's row
func (r *TenantRepository) UpdateField(ctx context.Context, tenantID string, field model.SettingField, value any) error {
	col, err := columnFor(field)
	if err != nil {
		return err
	}
	if err := field.CheckValue(value); err != nil {
		return err
	}
	query := fmt.Sprintf(`INSERT INTO tenant_configs (tenant_id, %[1]s) VALUES ($1, $2)
              ON CONFLICT (tenant_id) DO UPDATE SET %[1]s = EXCLUDED.%[1]s, updated_at = now()`, col)
	if _, err := r.pool.Exec(ctx, query, tenantID, columnValue(field, value)); err != nil {
		return fmt.Errorf("update %s: %w", col, err)
	}
	return nil
}

func (r *TenantRepository) ListEnabledForFeed(ctx context.Context) ([]*model.TenantConfig, error) {
	rows, err := r.pool.Query(ctx, selectTenantConfig+` WHERE feed_enabled ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("list feed tenants: %w", err)
	}
	defer rows.Close()

	var out []*model.TenantConfig
	for rows.Next() {
		cfg, err := scanTenantConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tenant config: %w", err)
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

func (r *TenantRepository) SaveProvisionedChannel(ctx context.Context, rec *model.ProvisionedChannel) error {
	query := `INSERT INTO provisioned_channels (id, tenant_id, owner_id, purpose, channel_id, channel_name, created_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.pool.Exec(ctx, query, rec.ID, rec.TenantID, rec.OwnerID, string(rec.Purpose),
		rec.ChannelID, rec.ChannelName, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert provisioned channel: %w", err)
	}
	return nil
}

const selectProvisionedChannel = `SELECT id, tenant_id, owner_id, purpose, channel_id, channel_name, created_at
  FROM provisioned_channels`

func scanProvisionedChannel(row pgx.Row) (*model.ProvisionedChannel, error) {
	rec := &model.ProvisionedChannel{}
	var purpose string
	if err := row.Scan(&rec.ID, &rec.TenantID, &rec.OwnerID, &purpose, &rec.ChannelID, &rec.ChannelName, &rec.CreatedAt); err != nil {
		return nil, err
	}
	rec.Purpose = model.Purpose(purpose)
	return rec, nil
}

func (r *TenantRepository) GetProvisionedChannel(ctx context.Context, tenantID, channelID string) (*model.ProvisionedChannel, error) {
	rec, err := scanProvisionedChannel(r.pool.QueryRow(ctx,
		selectProvisionedChannel+` WHERE tenant_id = $1 AND channel_id = $2`, tenantID, channelID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get provisioned channel: %w", err)
	}
	return rec, nil
}

func (r *TenantRepository) DeleteProvisionedChannel(ctx context.Context, tenantID, channelID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM provisioned_channels WHERE tenant_id = $1 AND channel_id = $2`, tenantID, channelID)
	if err != nil {
		return fmt.Errorf("delete provisioned channel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *TenantRepository) ListProvisionedChannels(ctx context.Context, tenantID, ownerID string) ([]*model.ProvisionedChannel, error) {
	rows, err := r.pool.Query(ctx,
		selectProvisionedChannel+` WHERE tenant_id = $1 AND owner_id = $2 ORDER BY created_at`, tenantID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list provisioned channels: %w", err)
	}
	defer rows.Close()

	var out []*model.ProvisionedChannel
	for rows.Next() {
		rec, err := scanProvisionedChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan provisioned channel: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
