package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/guild-relay-service/internal/model"
	"github.com/teresa-solution/guild-relay-service/internal/monitoring"
	"github.com/teresa-solution/guild-relay-service/internal/platform"
	"github.com/teresa-solution/guild-relay-service/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "github.com/teresa-solution/guild-relay-service/internal/service"

const (
	msgContainerMissing  = "Private channels are not set up yet. Ask an administrator to choose a category in the settings menu."
	msgContainerNotFound = "Could not find the specified category for channels!"
	msgCreateDenied      = "I don't have permission to create channels!"
	msgSeedDenied        = "I don't have permission to send messages in the new channel!"
	msgDeleteDenied      = "I don't have permission to delete this channel!"
	msgNotProvisioned    = "This command can only be used in introduction or help channels!"
)

// Provisioner creates private channels for a single member inside the
// tenant's configured container. Provisioning is not idempotent: two calls
// for the same member and purpose create two channels.
type Provisioner struct {
	store     store.ConfigStore
	transport platform.Transport
	composer  *Composer
}

func NewProvisioner(s store.ConfigStore, t platform.Transport, c *Composer) *Provisioner {
	return &Provisioner{store: s, transport: t, composer: c}
}

type ProvisionRequest struct {
	TenantID string
	Owner    platform.Member
	Purpose  model.Purpose
	// Seed overrides the purpose's default first message.
	Seed *platform.OutboundMessage
}

// Provision creates the channel, records it and posts the seed message.
func (p *Provisioner) Provision(ctx context.Context, req ProvisionRequest) (*platform.Channel, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "provisioner.provision")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant_id", req.TenantID),
		attribute.String("purpose", string(req.Purpose)),
	)

	timer := prometheus.NewTimer(monitoring.ProvisioningDuration)
	defer timer.ObserveDuration()

	ch, err := p.provision(ctx, req)
	if err != nil {
		monitoring.ChannelsProvisioned.WithLabelValues(string(KindOf(err))).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
		log.Error().Err(err).
			Str("tenant_id", req.TenantID).
			Str("user_id", req.Owner.ID).
			Str("purpose", string(req.Purpose)).
			Msg("Provisioning failed")
		return nil, err
	}

	monitoring.ChannelsProvisioned.WithLabelValues("success").Inc()
	log.Info().
		Str("tenant_id", req.TenantID).
		Str("user_id", req.Owner.ID).
		Str("channel_id", ch.ID).
		Str("channel_name", ch.Name).
		Msg("Provisioned private channel")
	return ch, nil
}

func (p *Provisioner) provision(ctx context.Context, req ProvisionRequest) (*platform.Channel, error) {
	cfg, err := p.store.GetOrCreate(ctx, req.TenantID)
	if err != nil {
		return nil, newError(KindInternal, UserMessage(err), err)
	}
	if cfg.PrivateChannelContainerID == "" {
		return nil, newError(KindConfigurationMissing, msgContainerMissing, nil)
	}

	container, err := p.transport.ResolveChannel(ctx, req.TenantID, cfg.PrivateChannelContainerID)
	switch {
	case errors.Is(err, platform.ErrNotFound):
		return nil, newError(KindContainerNotFound, msgContainerNotFound, err)
	case err != nil:
		return nil, platformFault(err, msgCreateDenied)
	case container.Kind != platform.ChannelKindContainer:
		return nil, newError(KindContainerNotFound, msgContainerNotFound, nil)
	}

	overwrites := []platform.Overwrite{
		{Target: platform.TargetEveryone, Deny: platform.PermView},
		{Target: platform.TargetMember, TargetID: req.Owner.ID, Allow: platform.PermView | platform.PermSend},
	}
	if self := p.transport.SelfID(); self != "" {
		overwrites = append(overwrites, platform.Overwrite{
			Target: platform.TargetMember, TargetID: self, Allow: platform.PermView | platform.PermSend,
		})
	}

	ch, err := p.transport.CreateChannel(ctx, platform.CreateChannelRequest{
		TenantID:   req.TenantID,
		Name:       model.ChannelName(req.Owner.DisplayName, req.Purpose),
		ParentID:   container.ID,
		Overwrites: overwrites,
	})
	if err != nil {
		return nil, platformFault(err, msgCreateDenied)
	}

	rec := &model.ProvisionedChannel{
		ID:          uuid.New(),
		TenantID:    req.TenantID,
		OwnerID:     req.Owner.ID,
		Purpose:     req.Purpose,
		ChannelID:   ch.ID,
		ChannelName: ch.Name,
		CreatedAt:   time.Now().UTC(),
	}
	if err := p.store.SaveProvisionedChannel(ctx, rec); err != nil {
		return nil, newError(KindInternal, fmt.Sprintf("Created %s but could not record it: %v", ch.Mention(), err), err)
	}

	seed := req.Seed
	if seed == nil {
		recipients := p.composer.ResolveRecipients(ctx, req.TenantID, cfg.AdminRecipients)
		msg := ComposeSeed(req.Purpose, &req.Owner, recipients)
		seed = &msg
	}
	if err := p.transport.SendMessage(ctx, ch.ID, *seed); err != nil {
		return nil, platformFault(err, msgSeedDenied)
	}
	return ch, nil
}

// Cleanup deletes a provisioned channel and its record. Channels without a
// record are refused.
func (p *Provisioner) Cleanup(ctx context.Context, tenantID, channelID string) (*model.ProvisionedChannel, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "provisioner.cleanup")
	defer span.End()
	span.SetAttributes(attribute.String("tenant_id", tenantID), attribute.String("channel_id", channelID))

	rec, err := p.store.GetProvisionedChannel(ctx, tenantID, channelID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, invalidReference(msgNotProvisioned, channelID)
	}
	if err != nil {
		return nil, newError(KindInternal, UserMessage(err), err)
	}

	if err := p.transport.DeleteChannel(ctx, channelID); err != nil {
		if !errors.Is(err, platform.ErrNotFound) {
			span.RecordError(err)
			return nil, platformFault(err, msgDeleteDenied)
		}
		log.Warn().Str("tenant_id", tenantID).Str("channel_id", channelID).Msg("Provisioned channel already gone, dropping record")
	}

	if err := p.store.DeleteProvisionedChannel(ctx, tenantID, channelID); err != nil {
		return nil, newError(KindInternal, UserMessage(err), err)
	}

	log.Info().Str("tenant_id", tenantID).Str("channel_id", channelID).Str("owner_id", rec.OwnerID).Msg("Cleaned up provisioned channel")
	return rec, nil
}
