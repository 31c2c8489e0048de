package model

import (
	"fmt"
	"strings"
	"time"
)

// SettingField names a mutable column of TenantConfig.
type SettingField string

const (
	FieldPrivateChannelContainer SettingField = "private_channel_container_id"
	FieldAdminRecipients         SettingField = "admin_recipients"
	FieldFeedEnabled             SettingField = "feed_enabled"
	FieldFeedDeliveryChannel     SettingField = "feed_delivery_channel_id"
	FieldFeedWatermark           SettingField = "feed_watermark"
)

// AdminSettings lists the fields an administrator may edit, in menu order.
var AdminSettings = []SettingField{
	FieldPrivateChannelContainer,
	FieldAdminRecipients,
	FieldFeedEnabled,
	FieldFeedDeliveryChannel,
}

// ParseSettingField accepts the column name or a short alias.
func ParseSettingField(s string) (SettingField, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(FieldPrivateChannelContainer), "container", "category", "private_channels_category":
		return FieldPrivateChannelContainer, nil
	case string(FieldAdminRecipients), "admins", "admin_user_ids", "recipients":
		return FieldAdminRecipients, nil
	case string(FieldFeedEnabled), "feed":
		return FieldFeedEnabled, nil
	case string(FieldFeedDeliveryChannel), "feed_channel":
		return FieldFeedDeliveryChannel, nil
	}
	return "", fmt.Errorf("unknown setting %q", s)
}

// AdminEditable reports whether the field can be changed from the settings menu.
func (f SettingField) AdminEditable() bool {
	for _, s := range AdminSettings {
		if s == f {
			return true
		}
	}
	return false
}

// CheckValue verifies that v has the Go type stored in field f. A nil value
// clears optional fields.
func (f SettingField) CheckValue(v any) error {
	switch f {
	case FieldPrivateChannelContainer, FieldFeedDeliveryChannel:
		if _, ok := v.(string); ok || v == nil {
			return nil
		}
	case FieldAdminRecipients:
		if _, ok := v.([]string); ok || v == nil {
			return nil
		}
	case FieldFeedEnabled:
		if _, ok := v.(bool); ok {
			return nil
		}
	case FieldFeedWatermark:
		switch v.(type) {
		case time.Time, *time.Time, nil:
			return nil
		}
	default:
		return fmt.Errorf("unknown setting %q", f)
	}
	return fmt.Errorf("invalid value type %T for setting %q", v, f)
}

// Apply writes v into the matching field of c. CheckValue must pass first.
func (f SettingField) Apply(c *TenantConfig, v any) error {
	if err := f.CheckValue(v); err != nil {
		return err
	}
	switch f {
	case FieldPrivateChannelContainer:
		c.PrivateChannelContainerID, _ = v.(string)
	case FieldFeedDeliveryChannel:
		c.FeedDeliveryChannelID, _ = v.(string)
	case FieldAdminRecipients:
		ids, _ := v.([]string)
		c.AdminRecipients = append([]string{}, ids...)
	case FieldFeedEnabled:
		c.FeedEnabled = v.(bool)
	case FieldFeedWatermark:
		switch t := v.(type) {
		case time.Time:
			wm := t.UTC()
			c.FeedWatermark = &wm
		case *time.Time:
			if t == nil {
				c.FeedWatermark = nil
			} else {
				wm := t.UTC()
				c.FeedWatermark = &wm
			}
		default:
			c.FeedWatermark = nil
		}
	}
	return nil
}

// Label is the human-facing name shown in the settings menu.
func (f SettingField) Label() string {
	switch f {
	case FieldPrivateChannelContainer:
		return "Private Channels Category"
	case FieldAdminRecipients:
		return "Admin User IDs"
	case FieldFeedEnabled:
		return "Feed Relay"
	case FieldFeedDeliveryChannel:
		return "Feed Channel"
	case FieldFeedWatermark:
		return "Feed Watermark"
	}
	return string(f)
}

func (f SettingField) Description() string {
	switch f {
	case FieldPrivateChannelContainer:
		return "Set the category for private channels"
	case FieldAdminRecipients:
		return "Set the admin users who get notified"
	case FieldFeedEnabled:
		return "Turn feed relaying on or off"
	case FieldFeedDeliveryChannel:
		return "Set the channel that receives feed posts"
	}
	return ""
}

func (f SettingField) Placeholder() string {
	switch f {
	case FieldPrivateChannelContainer:
		return "Category ID"
	case FieldAdminRecipients:
		return "Comma-separated user IDs"
	case FieldFeedEnabled:
		return "true, false or toggle"
	case FieldFeedDeliveryChannel:
		return "Channel ID"
	}
	return ""
}

// Display renders the current value of f for form defaults.
func (f SettingField) Display(c *TenantConfig) string {
	const unset = "Not set"
	switch f {
	case FieldPrivateChannelContainer:
		if c.PrivateChannelContainerID == "" {
			return unset
		}
		return c.PrivateChannelContainerID
	case FieldAdminRecipients:
		if len(c.AdminRecipients) == 0 {
			return unset
		}
		return strings.Join(c.AdminRecipients, ",")
	case FieldFeedEnabled:
		if c.FeedEnabled {
			return "true"
		}
		return "false"
	case FieldFeedDeliveryChannel:
		if c.FeedDeliveryChannelID == "" {
			return unset
		}
		return c.FeedDeliveryChannelID
	case FieldFeedWatermark:
		if c.FeedWatermark == nil {
			return unset
		}
		return c.FeedWatermark.Format(time.RFC3339)
	}
	return ""
}
