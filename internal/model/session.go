package model

import "time"

// SettingsSession tracks one open settings form between the field selection
// and the submit. It expires if the form is abandoned.
type SettingsSession struct {
	ID        string       `json:"id"`
	TenantID  string       `json:"tenant_id"`
	UserID    string       `json:"user_id"`
	Field     SettingField `json:"field"`
	CreatedAt time.Time    `json:"created_at"`
}
