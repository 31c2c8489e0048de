package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/guild-relay-service/internal/model"
	"github.com/teresa-solution/guild-relay-service/internal/platform"
)

const (
	CodeOK      = "ok"
	CodeSkipped = "skipped"
	// CodeUnavailable is returned when the feed relay is not configured.
	CodeUnavailable = "unavailable"

	msgAdminRequired = "This command requires administrator permissions!"
)

// Caller is the identity the command shell attaches to every request.
type Caller struct {
	TenantID    string
	UserID      string
	DisplayName string
	IsAdmin     bool
}

// CommandResult is a short outcome for the person who ran a command.
type CommandResult struct {
	OK        bool         `json:"ok"`
	Code      string       `json:"code"`
	Message   string       `json:"message"`
	Invalid   []string     `json:"invalid,omitempty"`
	ChannelID string       `json:"channel_id,omitempty"`
	Menu      *Menu        `json:"menu,omitempty"`
	Form      *Form        `json:"form,omitempty"`
	Report    *CycleReport `json:"report,omitempty"`
}

func success(msg string) *CommandResult {
	return &CommandResult{OK: true, Code: CodeOK, Message: msg}
}

func failure(err error) *CommandResult {
	res := &CommandResult{Code: string(KindOf(err)), Message: UserMessage(err)}
	var e *Error
	if errors.As(err, &e) {
		res.Invalid = e.Invalid
	}
	return res
}

// CommandService is the user-facing command surface. Domain failures are
// returned as results, never as errors.
type CommandService struct {
	provisioner *Provisioner
	settings    *SettingsWorkflow
	engine      *FeedEngine
}

func NewCommandService(p *Provisioner, s *SettingsWorkflow, e *FeedEngine) *CommandService {
	return &CommandService{provisioner: p, settings: s, engine: e}
}

func (s *CommandService) Provision(ctx context.Context, c Caller, purpose string) *CommandResult {
	p, err := model.ParsePurpose(purpose)
	if err != nil {
		return failure(invalidReference(fmt.Sprintf("Unknown channel type %q. Use introduction or help.", purpose), purpose))
	}
	name := c.DisplayName
	if strings.TrimSpace(name) == "" {
		name = c.UserID
	}

	ch, err := s.provisioner.Provision(ctx, ProvisionRequest{
		TenantID: c.TenantID,
		Owner:    platform.Member{ID: c.UserID, DisplayName: name},
		Purpose:  p,
	})
	if err != nil {
		return failure(err)
	}
	res := success(fmt.Sprintf("Created your private %s channel: %s", p, ch.Mention()))
	res.ChannelID = ch.ID
	return res
}

// Cleanup deletes the channel the command was run in.
func (s *CommandService) Cleanup(ctx context.Context, c Caller, channelID string) *CommandResult {
	if !c.IsAdmin {
		return adminRequired()
	}
	rec, err := s.provisioner.Cleanup(ctx, c.TenantID, channelID)
	if err != nil {
		return failure(err)
	}
	res := success(fmt.Sprintf("Deleted #%s.", rec.ChannelName))
	res.ChannelID = rec.ChannelID
	return res
}

// Configure sets one field in a single step.
func (s *CommandService) Configure(ctx context.Context, c Caller, field, value string) *CommandResult {
	if !c.IsAdmin {
		return adminRequired()
	}
	f, err := model.ParseSettingField(field)
	if err != nil || !f.AdminEditable() {
		return failure(invalidReference(fmt.Sprintf("Unknown setting %q.", field), field))
	}
	msg, err := s.settings.Apply(ctx, c.TenantID, f, value)
	if err != nil {
		return failure(err)
	}
	return success(msg)
}

func (s *CommandService) SettingsMenu(ctx context.Context, c Caller) *CommandResult {
	if !c.IsAdmin {
		return adminRequired()
	}
	menu, err := s.settings.Menu(ctx, c.TenantID)
	if err != nil {
		return failure(err)
	}
	res := success(menu.Prompt)
	res.Menu = menu
	return res
}

func (s *CommandService) BeginSetting(ctx context.Context, c Caller, field string) *CommandResult {
	if !c.IsAdmin {
		return adminRequired()
	}
	f, err := model.ParseSettingField(field)
	if err != nil {
		return failure(invalidReference(fmt.Sprintf("Unknown setting %q.", field), field))
	}
	form, err := s.settings.Begin(ctx, c.TenantID, c.UserID, f)
	if err != nil {
		return failure(err)
	}
	res := success(form.Title)
	res.Form = form
	return res
}

func (s *CommandService) SubmitSetting(ctx context.Context, c Caller, sessionID, value string) *CommandResult {
	if !c.IsAdmin {
		return adminRequired()
	}
	msg, err := s.settings.Submit(ctx, sessionID, c.UserID, value)
	if err != nil {
		return failure(err)
	}
	return success(msg)
}

// TriggerPoll runs a feed cycle now, unless one is already running.
func (s *CommandService) TriggerPoll(ctx context.Context) *CommandResult {
	if s.engine == nil {
		return &CommandResult{Code: CodeUnavailable, Message: "The feed relay is not configured."}
	}
	report, err := s.engine.RunCycle(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Manual feed poll failed")
		res := failure(err)
		res.Report = report
		return res
	}
	if report.Skipped {
		return &CommandResult{Code: CodeSkipped, Message: "A poll cycle is already running.", Report: report}
	}
	res := success(fmt.Sprintf("Poll cycle finished: %d delivered, %d failed.", report.Delivered, report.Failed))
	res.Report = report
	return res
}

func adminRequired() *CommandResult {
	return &CommandResult{Code: string(KindPermissionDenied), Message: msgAdminRequired}
}
