package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/guild-relay-service/internal/feed"
	"github.com/teresa-solution/guild-relay-service/internal/model"
	"github.com/teresa-solution/guild-relay-service/internal/monitoring"
	"github.com/teresa-solution/guild-relay-service/internal/platform"
	"github.com/teresa-solution/guild-relay-service/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type EngineConfig struct {
	Interval time.Duration
	// BootstrapPageSize is used while no tenant has received anything yet.
	BootstrapPageSize int
	CatchUpPageSize   int
	MaxPages          int
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.BootstrapPageSize <= 0 {
		c.BootstrapPageSize = 1
	}
	if c.CatchUpPageSize <= 0 {
		c.CatchUpPageSize = 10
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 5
	}
	return c
}

// CycleReport summarizes one poll cycle.
type CycleReport struct {
	ID        string `json:"id"`
	Skipped   bool   `json:"skipped"`
	Fetched   int    `json:"fetched"`
	Tenants   int    `json:"tenants"`
	Delivered int    `json:"delivered"`
	Failed    int    `json:"failed"`
}

// FeedEngine relays new feed items to every tenant with the feed enabled.
// At most one cycle runs at a time; a cycle requested while another is in
// flight is skipped.
type FeedEngine struct {
	store     store.ConfigStore
	transport platform.Transport
	source    feed.Source
	ledger    store.DeliveryLedger
	composer  *Composer
	cfg       EngineConfig

	running atomic.Bool
}

func NewFeedEngine(s store.ConfigStore, t platform.Transport, src feed.Source, ledger store.DeliveryLedger, c *Composer, cfg EngineConfig) *FeedEngine {
	return &FeedEngine{
		store:     s,
		transport: t,
		source:    src,
		ledger:    ledger,
		composer:  c,
		cfg:       cfg.withDefaults(),
	}
}

// Run polls immediately and then on every interval until ctx is done.
func (e *FeedEngine) Run(ctx context.Context) error {
	log.Info().Dur("interval", e.cfg.Interval).Msg("Feed poller started")
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := e.RunCycle(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Feed poll cycle aborted")
		}
		select {
		case <-ctx.Done():
			log.Info().Msg("Feed poller stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunCycle executes one poll cycle. It returns a skipped report when another
// cycle is still running.
func (e *FeedEngine) RunCycle(ctx context.Context) (*CycleReport, error) {
	if !e.running.CompareAndSwap(false, true) {
		monitoring.PollCycles.WithLabelValues("skipped").Inc()
		log.Warn().Msg("Feed poll cycle still running, skipping")
		return &CycleReport{Skipped: true}, nil
	}
	defer e.running.Store(false)

	report := &CycleReport{ID: uuid.NewString()}
	logger := log.With().Str("cycle_id", report.ID).Logger()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "feed.poll_cycle",
		trace.WithAttributes(attribute.String("cycle_id", report.ID)))
	defer span.End()

	timer := prometheus.NewTimer(monitoring.PollCycleDuration)
	defer timer.ObserveDuration()

	outcome, err := e.cycle(ctx, logger, report)
	if errors.Is(err, context.Canceled) {
		outcome = "canceled"
	}
	monitoring.PollCycles.WithLabelValues(outcome).Inc()
	span.SetAttributes(
		attribute.Int("fetched", report.Fetched),
		attribute.Int("delivered", report.Delivered),
		attribute.Int("failed", report.Failed),
	)
	if outcome == "canceled" {
		logger.Info().Int("delivered", report.Delivered).Msg("Feed poll cycle canceled")
		return report, err
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		monitoring.Alert("Feed poll cycle aborted", map[string]string{
			"cycle_id": report.ID,
			"outcome":  outcome,
			"error":    err.Error(),
		})
		return report, err
	}

	logger.Info().
		Int("fetched", report.Fetched).
		Int("tenants", report.Tenants).
		Int("delivered", report.Delivered).
		Int("failed", report.Failed).
		Msg("Feed poll cycle completed")
	return report, nil
}

func (e *FeedEngine) cycle(ctx context.Context, logger zerolog.Logger, report *CycleReport) (string, error) {
	if e.source.HasCredentials() {
		if err := e.source.Authenticate(ctx); err != nil {
			return "auth_failed", newError(KindUpstreamAuth, "feed authentication failed", err)
		}
	}

	tenants, err := e.store.ListEnabledForFeed(ctx)
	if err != nil {
		return "store_error", fmt.Errorf("failed to list feed tenants: %w", err)
	}
	report.Tenants = len(tenants)
	if len(tenants) == 0 {
		logger.Debug().Msg("No tenants have the feed enabled")
		return "no_tenants", nil
	}

	items, err := e.fetch(ctx, logger, tenants)
	if err != nil {
		if errors.Is(err, feed.ErrUnauthorized) {
			return "auth_failed", newError(KindUpstreamAuth, "feed rejected the session", err)
		}
		return "fetch_failed", fmt.Errorf("failed to fetch feed: %w", err)
	}
	report.Fetched = len(items)

	for _, t := range tenants {
		if ctx.Err() != nil {
			return "canceled", ctx.Err()
		}
		delivered, failed := e.deliverTenant(ctx, logger, t, items)
		report.Delivered += delivered
		report.Failed += failed
	}
	return "completed", nil
}

// fetch reads pages newest first until a page reaches the oldest tenant
// watermark, the source runs out, or MaxPages is hit. The result is sorted
// oldest first.
func (e *FeedEngine) fetch(ctx context.Context, logger zerolog.Logger, tenants []*model.TenantConfig) ([]model.FeedItem, error) {
	var oldest *time.Time
	for _, t := range tenants {
		if t.FeedWatermark == nil {
			continue
		}
		if oldest == nil || t.FeedWatermark.Before(*oldest) {
			wm := *t.FeedWatermark
			oldest = &wm
		}
	}

	limit, maxPages := e.cfg.CatchUpPageSize, e.cfg.MaxPages
	if oldest == nil {
		limit, maxPages = e.cfg.BootstrapPageSize, 1
	}

	var (
		items   []model.FeedItem
		seen    = make(map[string]bool)
		cursor  string
		reached = oldest == nil
		pages   int
	)
	for pages < maxPages {
		page, err := e.source.Fetch(ctx, feed.FetchRequest{Limit: limit, Cursor: cursor})
		if err != nil {
			return nil, err
		}
		pages++
		for _, it := range page.Items {
			if seen[it.ID] {
				continue
			}
			seen[it.ID] = true
			items = append(items, it)
			if oldest != nil && !it.CreatedAt.After(*oldest) {
				reached = true
			}
		}
		if reached || page.NextCursor == "" || len(page.Items) == 0 {
			reached = true
			break
		}
		cursor = page.NextCursor
	}
	if !reached {
		logger.Warn().Int("pages", pages).Time("oldest_watermark", *oldest).
			Msg("Catch-up window exhausted before reaching the oldest watermark, older items may be skipped")
	}

	model.SortChronological(items)
	logger.Debug().Int("items", len(items)).Int("pages", pages).Int("limit", limit).Msg("Fetched feed")
	return items, nil
}

// deliverTenant sends every item newer than the tenant's watermark, oldest
// first. A failed item holds the watermark below its timestamp; items sent
// after it are kept in the ledger so the retry does not repeat them.
func (e *FeedEngine) deliverTenant(ctx context.Context, logger zerolog.Logger, cfg *model.TenantConfig, items []model.FeedItem) (delivered, failed int) {
	tlog := logger.With().Str("tenant_id", cfg.TenantID).Logger()

	if cfg.FeedDeliveryChannelID == "" {
		tlog.Warn().Msg("Feed enabled without a delivery channel, skipping tenant")
		return 0, 0
	}
	ch, err := e.transport.ResolveChannel(ctx, cfg.TenantID, cfg.FeedDeliveryChannelID)
	if err != nil {
		tlog.Warn().Err(err).Str("channel_id", cfg.FeedDeliveryChannelID).Msg("Cannot resolve feed channel, skipping tenant")
		return 0, 0
	}
	if ch.Kind != platform.ChannelKindText {
		tlog.Warn().Str("channel_id", ch.ID).Str("kind", ch.Kind.String()).Msg("Feed channel is not a text channel, skipping tenant")
		return 0, 0
	}

	sent, err := e.ledger.Delivered(ctx, cfg.TenantID)
	if err != nil {
		tlog.Error().Err(err).Msg("Cannot read delivery ledger, skipping tenant")
		return 0, 0
	}

	watermark := cfg.Watermark()
	var candidates []model.FeedItem
	for _, it := range items {
		if it.CreatedAt.After(watermark) {
			candidates = append(candidates, it)
		}
	}
	if len(candidates) == 0 {
		return 0, 0
	}

	recipients := e.composer.ResolveRecipients(ctx, cfg.TenantID, cfg.AdminRecipients)

	var firstFailure *time.Time
	done := make(map[string]bool, len(candidates))
	for _, it := range candidates {
		if sent[it.ID] {
			done[it.ID] = true
			continue
		}
		if err := e.transport.SendMessage(ctx, ch.ID, ComposeFeedItem(it, recipients)); err != nil {
			failed++
			monitoring.ItemsDelivered.WithLabelValues("failed").Inc()
			tlog.Error().Err(newError(KindItemDelivery, "feed item delivery failed", err)).
				Str("item_id", it.ID).
				Time("created_at", it.CreatedAt).
				Msg("Failed to deliver feed item")
			if firstFailure == nil {
				at := it.CreatedAt
				firstFailure = &at
			}
			continue
		}
		delivered++
		done[it.ID] = true
		monitoring.ItemsDelivered.WithLabelValues("delivered").Inc()
		if err := e.ledger.Record(ctx, cfg.TenantID, it); err != nil {
			tlog.Error().Err(err).Str("item_id", it.ID).Msg("Failed to record delivered item")
		}
	}

	next := watermark
	for _, it := range candidates {
		if !done[it.ID] {
			continue
		}
		if firstFailure != nil && !it.CreatedAt.Before(*firstFailure) {
			continue
		}
		if it.CreatedAt.After(next) {
			next = it.CreatedAt
		}
	}

	if next.After(watermark) {
		if err := e.store.UpdateField(ctx, cfg.TenantID, model.FieldFeedWatermark, next); err != nil {
			tlog.Error().Err(err).Time("watermark", next).Msg("Failed to advance feed watermark")
			return delivered, failed
		}
		if err := e.ledger.Prune(ctx, cfg.TenantID, next); err != nil {
			tlog.Warn().Err(err).Msg("Failed to prune delivery ledger")
		}
		tlog.Info().Time("watermark", next).Int("delivered", delivered).Msg("Advanced feed watermark")
	}
	if failed > 0 {
		tlog.Warn().Int("failed", failed).Time("watermark", next).Msg("Feed watermark held back by failed items")
	}
	return delivered, failed
}
