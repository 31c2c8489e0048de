package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/guild-relay-service/internal/model"
	"github.com/teresa-solution/guild-relay-service/internal/monitoring"
	"github.com/teresa-solution/guild-relay-service/internal/platform"
	"github.com/teresa-solution/guild-relay-service/internal/store"
)

const (
	menuPrompt  = "Please select a setting to update:"
	setupPrompt = "This server has not been set up yet. Start by choosing the category for private channels, then add the admin users who get notified."
)

// SettingsWorkflow validates and applies administrator changes to a tenant's
// configuration. Values are validated in full before anything is written.
type SettingsWorkflow struct {
	store     store.ConfigStore
	transport platform.Transport
	sessions  store.SessionStore
	ttl       time.Duration
}

func NewSettingsWorkflow(s store.ConfigStore, t platform.Transport, sessions store.SessionStore, ttl time.Duration) *SettingsWorkflow {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &SettingsWorkflow{store: s, transport: t, sessions: sessions, ttl: ttl}
}

type MenuOption struct {
	Field       model.SettingField `json:"field"`
	Label       string             `json:"label"`
	Description string             `json:"description"`
	Current     string             `json:"current"`
}

type Menu struct {
	TenantID   string       `json:"tenant_id"`
	NeedsSetup bool         `json:"needs_setup"`
	Prompt     string       `json:"prompt"`
	Options    []MenuOption `json:"options"`
}

// Form is the input step for one field, bound to a session.
type Form struct {
	SessionID   string             `json:"session_id"`
	Field       model.SettingField `json:"field"`
	Title       string             `json:"title"`
	Placeholder string             `json:"placeholder"`
	Default     string             `json:"default"`
}

// Menu lists the editable fields. An unconfigured tenant gets setup guidance
// in place of the plain prompt.
func (w *SettingsWorkflow) Menu(ctx context.Context, tenantID string) (*Menu, error) {
	cfg, err := w.store.GetOrCreate(ctx, tenantID)
	if err != nil {
		return nil, newError(KindInternal, UserMessage(err), err)
	}

	menu := &Menu{TenantID: tenantID, NeedsSetup: cfg.NeedsSetup(), Prompt: menuPrompt}
	if menu.NeedsSetup {
		menu.Prompt = setupPrompt
	}
	for _, f := range model.AdminSettings {
		menu.Options = append(menu.Options, MenuOption{
			Field:       f,
			Label:       f.Label(),
			Description: f.Description(),
			Current:     f.Display(cfg),
		})
	}
	return menu, nil
}

// Begin opens a settings session for one field and returns its form.
func (w *SettingsWorkflow) Begin(ctx context.Context, tenantID, userID string, field model.SettingField) (*Form, error) {
	if !field.AdminEditable() {
		return nil, invalidReference(fmt.Sprintf("Unknown setting %q.", field), string(field))
	}
	cfg, err := w.store.GetOrCreate(ctx, tenantID)
	if err != nil {
		return nil, newError(KindInternal, UserMessage(err), err)
	}

	sess := &model.SettingsSession{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		UserID:    userID,
		Field:     field,
		CreatedAt: time.Now().UTC(),
	}
	if err := w.sessions.Put(ctx, sess, w.ttl); err != nil {
		return nil, newError(KindInternal, UserMessage(err), err)
	}

	return &Form{
		SessionID:   sess.ID,
		Field:       field,
		Title:       fmt.Sprintf("Update %s", field.Label()),
		Placeholder: field.Placeholder(),
		Default:     field.Display(cfg),
	}, nil
}

// Submit completes a session opened by Begin. A rejected value keeps the
// session open so the form can be corrected.
func (w *SettingsWorkflow) Submit(ctx context.Context, sessionID, userID, raw string) (string, error) {
	sess, err := w.sessions.Get(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return "", invalidReference("This settings form has expired. Open the settings menu again.", sessionID)
	}
	if err != nil {
		return "", newError(KindInternal, UserMessage(err), err)
	}
	if sess.UserID != userID {
		return "", newError(KindPermissionDenied, "This settings form belongs to another user.", nil)
	}

	msg, err := w.Apply(ctx, sess.TenantID, sess.Field, raw)
	if err != nil {
		return "", err
	}
	if err := w.sessions.Delete(ctx, sessionID); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to delete settings session")
	}
	return msg, nil
}

// Apply validates raw for field and writes it. Validation failures never
// reach the store.
func (w *SettingsWorkflow) Apply(ctx context.Context, tenantID string, field model.SettingField, raw string) (string, error) {
	value, err := w.validate(ctx, tenantID, field, strings.TrimSpace(raw))
	if err != nil {
		monitoring.SettingsUpdates.WithLabelValues(string(field), "rejected").Inc()
		log.Info().Str("tenant_id", tenantID).Str("field", string(field)).Str("reason", UserMessage(err)).Msg("Settings update rejected")
		return "", err
	}

	if err := w.store.UpdateField(ctx, tenantID, field, value); err != nil {
		monitoring.SettingsUpdates.WithLabelValues(string(field), "error").Inc()
		log.Error().Err(err).Str("tenant_id", tenantID).Str("field", string(field)).Msg("Failed to store setting")
		return "", newError(KindInternal, UserMessage(err), err)
	}

	monitoring.SettingsUpdates.WithLabelValues(string(field), "success").Inc()
	log.Info().Str("tenant_id", tenantID).Str("field", string(field)).Msg("Settings updated")
	return fmt.Sprintf("Successfully updated %s!", field.Label()), nil
}

func (w *SettingsWorkflow) validate(ctx context.Context, tenantID string, field model.SettingField, raw string) (any, error) {
	switch field {
	case model.FieldPrivateChannelContainer:
		return w.validateChannel(ctx, tenantID, raw, platform.ChannelKindContainer,
			"Invalid category ID. Please provide a valid category ID.")
	case model.FieldFeedDeliveryChannel:
		return w.validateChannel(ctx, tenantID, raw, platform.ChannelKindText,
			"Invalid channel ID. Please provide a valid text channel ID.")
	case model.FieldAdminRecipients:
		return w.validateRecipients(ctx, tenantID, raw)
	case model.FieldFeedEnabled:
		cfg, err := store.Fresh(w.store).GetOrCreate(ctx, tenantID)
		if err != nil {
			return nil, newError(KindInternal, UserMessage(err), err)
		}
		return parseToggle(raw, cfg.FeedEnabled)
	}
	return nil, invalidReference(fmt.Sprintf("Unknown setting %q.", field), string(field))
}

func (w *SettingsWorkflow) validateChannel(ctx context.Context, tenantID, raw string, kind platform.ChannelKind, invalidMsg string) (any, error) {
	if raw == "" {
		return nil, invalidReference(invalidMsg, raw)
	}
	ch, err := w.transport.ResolveChannel(ctx, tenantID, raw)
	switch {
	case errors.Is(err, platform.ErrNotFound):
		return nil, invalidReference(invalidMsg, raw)
	case err != nil:
		return nil, platformFault(err, "I don't have permission to look up that channel!")
	case ch.Kind != kind:
		return nil, invalidReference(invalidMsg, raw)
	}
	return ch.ID, nil
}

// validateRecipients resolves every identifier and rejects the whole list if
// any of them is not a current member.
func (w *SettingsWorkflow) validateRecipients(ctx context.Context, tenantID, raw string) (any, error) {
	var ids, invalid []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		m, err := w.transport.ResolveMember(ctx, tenantID, part)
		switch {
		case errors.Is(err, platform.ErrNotFound):
			invalid = append(invalid, part)
			continue
		case err != nil:
			return nil, platformFault(err, "I don't have permission to look up members!")
		}
		if !seen[m.ID] {
			seen[m.ID] = true
			ids = append(ids, m.ID)
		}
	}
	if len(invalid) > 0 {
		return nil, invalidReference(
			fmt.Sprintf("Invalid user IDs: %s. Please provide valid user IDs.", joinIDs(invalid)),
			invalid...)
	}
	if len(ids) == 0 {
		return nil, invalidReference("Please provide at least one user ID.")
	}
	return ids, nil
}

func parseToggle(raw string, current bool) (any, error) {
	switch strings.ToLower(raw) {
	case "", "toggle":
		return !current, nil
	case "on", "yes", "enable", "enabled":
		return true, nil
	case "off", "no", "disable", "disabled":
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, invalidReference("Invalid value. Use true, false or toggle.", raw)
	}
	return b, nil
}
