package service

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teresa-solution/guild-relay-service/internal/feed"
	"github.com/teresa-solution/guild-relay-service/internal/model"
	"github.com/teresa-solution/guild-relay-service/internal/platform"
	"github.com/teresa-solution/guild-relay-service/internal/store"
)

type engineFixture struct {
	store     *store.MemoryConfigStore
	transport *fakeTransport
	source    *fakeSource
	ledger    *store.MemoryLedger
	engine    *FeedEngine
}

func newEngineFixture(t *testing.T, items ...model.FeedItem) *engineFixture {
	f := &engineFixture{
		store:     newMemoryStore(t),
		transport: newFakeTransport(),
		source:    newFakeSource(items...),
		ledger:    store.NewMemoryLedger(),
	}
	f.engine = NewFeedEngine(f.store, f.transport, f.source, f.ledger, NewComposer(f.transport), EngineConfig{
		Interval:          time.Minute,
		BootstrapPageSize: 1,
		CatchUpPageSize:   10,
		MaxPages:          3,
	})
	return f
}

func (f *engineFixture) setWatermark(t *testing.T, tenantID string, wm time.Time) {
	require.NoError(t, f.store.UpdateField(context.Background(), tenantID, model.FieldFeedWatermark, wm))
}

func (f *engineFixture) watermark(t *testing.T, tenantID string) time.Time {
	cfg, err := f.store.GetOrCreate(context.Background(), tenantID)
	require.NoError(t, err)
	return cfg.Watermark()
}

func deliveredIDs(msgs []platform.OutboundMessage) []string {
	var ids []string
	for _, m := range msgs {
		ids = append(ids, m.Embed.URL[len("https://feed.example/bungie/status/"):])
	}
	return ids
}

func TestFeedEngine_DeliversInChronologicalOrder(t *testing.T) {
	f := newEngineFixture(t, item("t3", 3), item("t1", 1), item("t2", 2))
	configureTenant(t, f.store, testTenant, true)
	f.setWatermark(t, testTenant, baseTime)

	report, err := f.engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Delivered)

	assert.Equal(t, []string{"t1", "t2", "t3"}, deliveredIDs(f.transport.sentTo(testFeedChan)))
	assert.Equal(t, baseTime.Add(3*time.Minute), f.watermark(t, testTenant))
}

func TestFeedEngine_OnlyItemsAfterWatermark(t *testing.T) {
	f := newEngineFixture(t, item("old", 1), item("edge", 2), item("new", 3))
	configureTenant(t, f.store, testTenant, true)
	f.setWatermark(t, testTenant, baseTime.Add(2*time.Minute))

	_, err := f.engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, deliveredIDs(f.transport.sentTo(testFeedChan)))
}

func TestFeedEngine_SecondRunIsIdempotent(t *testing.T) {
	f := newEngineFixture(t, item("a", 1), item("b", 2))
	configureTenant(t, f.store, testTenant, true)
	f.setWatermark(t, testTenant, baseTime)
	ctx := context.Background()

	_, err := f.engine.RunCycle(ctx)
	require.NoError(t, err)
	wm := f.watermark(t, testTenant)
	require.Len(t, f.transport.sentTo(testFeedChan), 2)

	report, err := f.engine.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Delivered)
	assert.Len(t, f.transport.sentTo(testFeedChan), 2)
	assert.Equal(t, wm, f.watermark(t, testTenant))
}

func TestFeedEngine_FailedNewestItemHoldsWatermark(t *testing.T) {
	f := newEngineFixture(t, item("a", 1), item("b", 2), item("c", 3))
	configureTenant(t, f.store, testTenant, true)
	f.setWatermark(t, testTenant, baseTime)
	f.transport.sendErr = func(_ string, msg platform.OutboundMessage) error {
		if msg.Embed.Description == "post c" {
			return errors.New("gateway timeout")
		}
		return nil
	}

	report, err := f.engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Delivered)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, baseTime.Add(2*time.Minute), f.watermark(t, testTenant))

	f.transport.sendErr = nil
	_, err = f.engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, deliveredIDs(f.transport.sentTo(testFeedChan)))
	assert.Equal(t, baseTime.Add(3*time.Minute), f.watermark(t, testTenant))
}

func TestFeedEngine_FailedMiddleItemIsRetriedWithoutDuplicates(t *testing.T) {
	f := newEngineFixture(t, item("a", 1), item("b", 2), item("c", 3))
	configureTenant(t, f.store, testTenant, true)
	f.setWatermark(t, testTenant, baseTime)
	f.transport.sendErr = func(_ string, msg platform.OutboundMessage) error {
		if msg.Embed.Description == "post b" {
			return errors.New("rate limited")
		}
		return nil
	}
	ctx := context.Background()

	_, err := f.engine.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, deliveredIDs(f.transport.sentTo(testFeedChan)))
	assert.Equal(t, baseTime.Add(1*time.Minute), f.watermark(t, testTenant))

	f.transport.sendErr = nil
	_, err = f.engine.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "b"}, deliveredIDs(f.transport.sentTo(testFeedChan)))
	assert.Equal(t, baseTime.Add(3*time.Minute), f.watermark(t, testTenant))

	delivered, err := f.ledger.Delivered(ctx, testTenant)
	require.NoError(t, err)
	assert.Empty(t, delivered)
}

func TestFeedEngine_FailureAtSameTimestampIsNotSkipped(t *testing.T) {
	f := newEngineFixture(t, item("a", 1), item("b", 1))
	configureTenant(t, f.store, testTenant, true)
	f.setWatermark(t, testTenant, baseTime)
	f.transport.sendErr = func(_ string, msg platform.OutboundMessage) error {
		if msg.Embed.Description == "post b" {
			return errors.New("rate limited")
		}
		return nil
	}
	ctx := context.Background()

	_, err := f.engine.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, baseTime, f.watermark(t, testTenant))

	f.transport.sendErr = nil
	_, err = f.engine.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, deliveredIDs(f.transport.sentTo(testFeedChan)))
}

func TestFeedEngine_DisabledTenantUntouched(t *testing.T) {
	f := newEngineFixture(t, item("a", 1))
	configureTenant(t, f.store, testTenant, false)
	f.setWatermark(t, testTenant, baseTime)

	report, err := f.engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Tenants)
	assert.Empty(t, f.transport.sentTo(testFeedChan))
	assert.Equal(t, baseTime, f.watermark(t, testTenant))
	assert.Empty(t, f.source.requests)
}

func TestFeedEngine_UnresolvableChannelSkipsOnlyThatTenant(t *testing.T) {
	f := newEngineFixture(t, item("a", 1))
	ctx := context.Background()
	configureTenant(t, f.store, testTenant, true)
	f.setWatermark(t, testTenant, baseTime)

	configureTenant(t, f.store, "guild-0", true)
	require.NoError(t, f.store.UpdateField(ctx, "guild-0", model.FieldFeedDeliveryChannel, "deleted-channel"))
	f.setWatermark(t, "guild-0", baseTime)

	report, err := f.engine.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Tenants)
	assert.Equal(t, 1, report.Delivered)
	assert.Equal(t, baseTime, f.watermark(t, "guild-0"))
	assert.Equal(t, baseTime.Add(time.Minute), f.watermark(t, testTenant))
}

func TestFeedEngine_AuthFailureAbortsCycle(t *testing.T) {
	f := newEngineFixture(t, item("a", 1))
	configureTenant(t, f.store, testTenant, true)
	f.source.creds = true
	f.source.authErr = feed.ErrUnauthorized

	_, err := f.engine.RunCycle(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindUpstreamAuth, KindOf(err))
	assert.Empty(t, f.source.requests)
	assert.Empty(t, f.transport.sentTo(testFeedChan))
}

func TestFeedEngine_NoCredentialsSkipsAuthentication(t *testing.T) {
	f := newEngineFixture(t, item("a", 1))
	configureTenant(t, f.store, testTenant, true)

	_, err := f.engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, f.source.authN)
}

func TestFeedEngine_FetchFailureSendsNothing(t *testing.T) {
	f := newEngineFixture(t)
	configureTenant(t, f.store, testTenant, true)
	f.source.fetchErr = errors.New("connection refused")

	_, err := f.engine.RunCycle(context.Background())
	require.Error(t, err)
	assert.Empty(t, f.transport.sentTo(testFeedChan))
}

func TestFeedEngine_BootstrapUsesMinimalPage(t *testing.T) {
	f := newEngineFixture(t, item("latest", 5))
	configureTenant(t, f.store, testTenant, true)

	_, err := f.engine.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, f.source.requests, 1)
	assert.Equal(t, 1, f.source.requests[0].Limit)
	assert.Equal(t, []string{"latest"}, deliveredIDs(f.transport.sentTo(testFeedChan)))

	_, err = f.engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, f.source.requests[1].Limit)
}

func TestFeedEngine_PaginatesUntilWatermark(t *testing.T) {
	f := newEngineFixture(t)
	f.source.pages = map[string]*feed.Page{
		"":   {Items: []model.FeedItem{item("e", 5), item("d", 4)}, NextCursor: "p2"},
		"p2": {Items: []model.FeedItem{item("c", 3), item("b", 2)}, NextCursor: "p3"},
		"p3": {Items: []model.FeedItem{item("a", 1)}, NextCursor: "p4"},
	}
	configureTenant(t, f.store, testTenant, true)
	f.setWatermark(t, testTenant, baseTime.Add(2*time.Minute))

	_, err := f.engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Len(t, f.source.requests, 2)
	assert.Equal(t, "p2", f.source.requests[1].Cursor)
	assert.Equal(t, []string{"c", "d", "e"}, deliveredIDs(f.transport.sentTo(testFeedChan)))
}

func TestFeedEngine_PaginationStopsAtMaxPages(t *testing.T) {
	f := newEngineFixture(t)
	f.source.pages = map[string]*feed.Page{
		"":   {Items: []model.FeedItem{item("f", 6)}, NextCursor: "p2"},
		"p2": {Items: []model.FeedItem{item("e", 5)}, NextCursor: "p3"},
		"p3": {Items: []model.FeedItem{item("d", 4)}, NextCursor: "p4"},
		"p4": {Items: []model.FeedItem{item("c", 3)}},
	}
	configureTenant(t, f.store, testTenant, true)
	f.setWatermark(t, testTenant, baseTime)

	_, err := f.engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Len(t, f.source.requests, 3)
}

func TestFeedEngine_NewTenantGetsCurrentWindow(t *testing.T) {
	f := newEngineFixture(t, item("a", 1), item("b", 2))
	ctx := context.Background()
	configureTenant(t, f.store, testTenant, true)
	f.setWatermark(t, testTenant, baseTime.Add(time.Minute))

	configureTenant(t, f.store, "guild-2", true)
	f.transport.channels["feed-2"] = &platform.Channel{ID: "feed-2", TenantID: "guild-2", Kind: platform.ChannelKindText}
	require.NoError(t, f.store.UpdateField(ctx, "guild-2", model.FieldFeedDeliveryChannel, "feed-2"))

	_, err := f.engine.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, deliveredIDs(f.transport.sentTo(testFeedChan)))
	assert.Equal(t, []string{"a", "b"}, deliveredIDs(f.transport.sentTo("feed-2")))
}

func TestFeedEngine_OverlappingCycleIsSkipped(t *testing.T) {
	f := newEngineFixture(t, item("a", 1))
	configureTenant(t, f.store, testTenant, true)
	f.source.block = make(chan struct{})
	started := make(chan struct{})
	f.source.started = started

	done := make(chan *CycleReport)
	go func() {
		report, _ := f.engine.RunCycle(context.Background())
		done <- report
	}()
	<-started

	report, err := f.engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Skipped)

	close(f.source.block)
	first := <-done
	assert.False(t, first.Skipped)
	assert.Equal(t, 1, first.Delivered)
}

func TestFeedEngine_MentionsConfiguredRecipients(t *testing.T) {
	f := newEngineFixture(t, item("a", 1))
	ctx := context.Background()
	configureTenant(t, f.store, testTenant, true)
	require.NoError(t, f.store.UpdateField(ctx, testTenant, model.FieldAdminRecipients, []string{"100", "departed"}))
	f.setWatermark(t, testTenant, baseTime)

	_, err := f.engine.RunCycle(ctx)
	require.NoError(t, err)
	msgs := f.transport.sentTo(testFeedChan)
	require.Len(t, msgs, 1)
	assert.Equal(t, "<@100>", msgs[0].Content)
	assert.Equal(t, []string{"100"}, msgs[0].MentionIDs)
}

func TestFeedEngine_RunStopsOnCancel(t *testing.T) {
	f := newEngineFixture(t, item("a", 1))
	configureTenant(t, f.store, testTenant, true)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error)
	go func() { errCh <- f.engine.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(f.transport.sentTo(testFeedChan)) == 1
	}, time.Second, 10*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
}

func captureLog(t *testing.T) *bytes.Buffer {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })
	return &buf
}

func TestFeedEngine_CanceledCycleDoesNotAlert(t *testing.T) {
	f := newEngineFixture(t, item("a", 1))
	configureTenant(t, f.store, testTenant, true)
	f.source.block = make(chan struct{})
	f.source.started = make(chan struct{})
	started := f.source.started
	buf := captureLog(t)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error)
	go func() {
		_, err := f.engine.RunCycle(ctx)
		errCh <- err
	}()
	<-started
	cancel()

	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.NotContains(t, buf.String(), "ALERT")
	assert.Contains(t, buf.String(), "Feed poll cycle canceled")
}

func TestFeedEngine_AbortedCycleAlerts(t *testing.T) {
	f := newEngineFixture(t, item("a", 1))
	configureTenant(t, f.store, testTenant, true)
	f.source.fetchErr = errors.New("connection refused")
	buf := captureLog(t)

	_, err := f.engine.RunCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, buf.String(), "ALERT")
	assert.Contains(t, buf.String(), "fetch_failed")
}
