package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-memdb"
	"github.com/teresa-solution/guild-relay-service/internal/model"
)

const (
	tenantConfigTable       = "tenant_config"
	provisionedChannelTable = "provisioned_channel"
)

func memorySchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tenantConfigTable: {
				Name: tenantConfigTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "TenantID"},
					},
					"feed_enabled": {
						Name:    "feed_enabled",
						Indexer: &memdb.BoolFieldIndex{Field: "FeedEnabled"},
					},
				},
			},
			provisionedChannelTable: {
				Name: provisionedChannelTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:   "id",
						Unique: true,
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "TenantID"},
								&memdb.StringFieldIndex{Field: "ChannelID"},
							},
						},
					},
					"owner": {
						Name: "owner",
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "TenantID"},
								&memdb.StringFieldIndex{Field: "OwnerID"},
							},
						},
					},
				},
			},
		},
	}
}

// MemoryConfigStore is an in-process ConfigStore used for development and tests.
// Stored objects are never mutated in place; every write inserts a copy.
type MemoryConfigStore struct {
	db *memdb.MemDB
}

var _ ConfigStore = (*MemoryConfigStore)(nil)

func NewMemoryConfigStore() (*MemoryConfigStore, error) {
	db, err := memdb.NewMemDB(memorySchema())
	if err != nil {
		return nil, fmt.Errorf("create memdb: %w", err)
	}
	return &MemoryConfigStore{db: db}, nil
}

func (s *MemoryConfigStore) Close() error { return nil }

func (s *MemoryConfigStore) GetOrCreate(_ context.Context, tenantID string) (*model.TenantConfig, error) {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tenantConfigTable, "id", tenantID)
	if err != nil {
		return nil, err
	}
	if raw != nil {
		return raw.(*model.TenantConfig).Clone(), nil
	}

	cfg := model.NewTenantConfig(tenantID)
	if err := txn.Insert(tenantConfigTable, cfg); err != nil {
		return nil, err
	}
	txn.Commit()
	return cfg.Clone(), nil
}

func (s *MemoryConfigStore) Get(_ context.Context, tenantID string) (*model.TenantConfig, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tenantConfigTable, "id", tenantID)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	return raw.(*model.TenantConfig).Clone(), nil
}

func (s *MemoryConfigStore) UpdateField(_ context.Context, tenantID string, field model.SettingField, value any) error {
	if err := field.CheckValue(value); err != nil {
		return err
	}

	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tenantConfigTable, "id", tenantID)
	if err != nil {
		return err
	}
	var cfg *model.TenantConfig
	if raw != nil {
		cfg = raw.(*model.TenantConfig).Clone()
	} else {
		cfg = model.NewTenantConfig(tenantID)
	}
	if err := field.Apply(cfg, value); err != nil {
		return err
	}
	cfg.UpdatedAt = time.Now().UTC()
	if err := txn.Insert(tenantConfigTable, cfg); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *MemoryConfigStore) ListEnabledForFeed(_ context.Context) ([]*model.TenantConfig, error) {
	txn := s.db.Txn(false)
	it, err := txn.Get(tenantConfigTable, "feed_enabled", true)
	if err != nil {
		return nil, err
	}
	var out []*model.TenantConfig
	for obj := it.Next(); obj != nil; obj = it.Next() {
		out = append(out, obj.(*model.TenantConfig).Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out, nil
}

func (s *MemoryConfigStore) SaveProvisionedChannel(_ context.Context, rec *model.ProvisionedChannel) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	cp := *rec
	if err := txn.Insert(provisionedChannelTable, &cp); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *MemoryConfigStore) GetProvisionedChannel(_ context.Context, tenantID, channelID string) (*model.ProvisionedChannel, error) {
	txn := s.db.Txn(false)
	raw, err := txn.First(provisionedChannelTable, "id", tenantID, channelID)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	cp := *raw.(*model.ProvisionedChannel)
	return &cp, nil
}

func (s *MemoryConfigStore) DeleteProvisionedChannel(_ context.Context, tenantID, channelID string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(provisionedChannelTable, "id", tenantID, channelID)
	if err != nil {
		return err
	}
	if raw == nil {
		return ErrNotFound
	}
	if err := txn.Delete(provisionedChannelTable, raw); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *MemoryConfigStore) ListProvisionedChannels(_ context.Context, tenantID, ownerID string) ([]*model.ProvisionedChannel, error) {
	txn := s.db.Txn(false)
	it, err := txn.Get(provisionedChannelTable, "owner", tenantID, ownerID)
	if err != nil {
		return nil, err
	}
	var out []*model.ProvisionedChannel
	for obj := it.Next(); obj != nil; obj = it.Next() {
		cp := *obj.(*model.ProvisionedChannel)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
