package model

import (
	"time"

	"github.com/google/uuid"
)

// TenantConfig represents the tenant_configs table
type TenantConfig struct {
	TenantID                  string     `json:"tenant_id"`
	PrivateChannelContainerID string     `json:"private_channel_container_id,omitempty"`
	AdminRecipients           []string   `json:"admin_recipients"`
	FeedEnabled               bool       `json:"feed_enabled"`
	FeedDeliveryChannelID     string     `json:"feed_delivery_channel_id,omitempty"`
	FeedWatermark             *time.Time `json:"feed_watermark,omitempty"`
	CreatedAt                 time.Time  `json:"created_at"`
	UpdatedAt                 time.Time  `json:"updated_at"`
}

// NewTenantConfig returns the all-defaults record for a tenant.
func NewTenantConfig(tenantID string) *TenantConfig {
	now := time.Now().UTC()
	return &TenantConfig{
		TenantID:        tenantID,
		AdminRecipients: []string{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// NeedsSetup reports whether the tenant has never been configured.
func (c *TenantConfig) NeedsSetup() bool {
	return c.PrivateChannelContainerID == "" && len(c.AdminRecipients) == 0
}

// Watermark returns the feed watermark, or the Unix epoch when nothing has
// been delivered yet.
func (c *TenantConfig) Watermark() time.Time {
	if c.FeedWatermark == nil {
		return time.Unix(0, 0).UTC()
	}
	return *c.FeedWatermark
}

// Clone returns a deep copy so callers can't mutate stored state.
func (c *TenantConfig) Clone() *TenantConfig {
	out := *c
	out.AdminRecipients = append([]string{}, c.AdminRecipients...)
	if c.FeedWatermark != nil {
		wm := *c.FeedWatermark
		out.FeedWatermark = &wm
	}
	return &out
}

// ProvisionedChannel represents the provisioned_channels table
type ProvisionedChannel struct {
	ID          uuid.UUID `json:"id"`
	TenantID    string    `json:"tenant_id"`
	OwnerID     string    `json:"owner_id"`
	Purpose     Purpose   `json:"purpose"`
	ChannelID   string    `json:"channel_id"`
	ChannelName string    `json:"channel_name"`
	CreatedAt   time.Time `json:"created_at"`
}
