package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/teresa-solution/guild-relay-service/internal/feed"
	"github.com/teresa-solution/guild-relay-service/internal/model"
	"github.com/teresa-solution/guild-relay-service/internal/platform"
	"github.com/teresa-solution/guild-relay-service/internal/store"
)

const (
	testTenant    = "guild-1"
	testSelfID    = "bot-1"
	testContainer = "cat-1"
	testFeedChan  = "feed-1"
)

type sentMessage struct {
	ChannelID string
	Msg       platform.OutboundMessage
}

// fakeTransport is an in-memory chat platform.
type fakeTransport struct {
	mu       sync.Mutex
	channels map[string]*platform.Channel
	members  map[string]*platform.Member
	created  []platform.CreateChannelRequest
	deleted  []string
	sent     []sentMessage
	nextID   int

	createErr  error
	deleteErr  error
	resolveErr error
	// sendErr decides per message whether the send fails.
	sendErr func(channelID string, msg platform.OutboundMessage) error
}

func newFakeTransport() *fakeTransport {
	f := &fakeTransport{
		channels: make(map[string]*platform.Channel),
		members:  make(map[string]*platform.Member),
	}
	f.addChannel(testContainer, "Private", platform.ChannelKindContainer)
	f.addChannel(testFeedChan, "feed", platform.ChannelKindText)
	f.addChannel("general", "general", platform.ChannelKindText)
	f.addMember("100", "zavala", "Zavala")
	f.addMember("200", "ikora", "Ikora")
	f.addMember("300", "cayde", "Cayde-6")
	f.addMember("400", "ghost", "Ghost")
	return f
}

func (f *fakeTransport) addChannel(id, name string, kind platform.ChannelKind) {
	f.channels[id] = &platform.Channel{ID: id, TenantID: testTenant, Name: name, Kind: kind}
}

func (f *fakeTransport) addMember(id, username, display string) {
	f.members[id] = &platform.Member{ID: id, Username: username, DisplayName: display}
}

func (f *fakeTransport) SelfID() string { return testSelfID }

func (f *fakeTransport) CreateChannel(_ context.Context, req platform.CreateChannelRequest) (*platform.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	ch := &platform.Channel{
		ID:       fmt.Sprintf("chan-%d", f.nextID),
		TenantID: req.TenantID,
		Name:     req.Name,
		Kind:     platform.ChannelKindText,
		ParentID: req.ParentID,
	}
	f.channels[ch.ID] = ch
	f.created = append(f.created, req)
	return ch, nil
}

func (f *fakeTransport) DeleteChannel(_ context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.channels[channelID]; !ok {
		return fmt.Errorf("%w: channel %s", platform.ErrNotFound, channelID)
	}
	delete(f.channels, channelID)
	f.deleted = append(f.deleted, channelID)
	return nil
}

func (f *fakeTransport) SendMessage(_ context.Context, channelID string, msg platform.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		if err := f.sendErr(channelID, msg); err != nil {
			return err
		}
	}
	f.sent = append(f.sent, sentMessage{ChannelID: channelID, Msg: msg})
	return nil
}

func (f *fakeTransport) ResolveMember(_ context.Context, tenantID, nameOrID string) (*platform.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	ref := strings.Trim(nameOrID, "<@!>")
	if m, ok := f.members[ref]; ok {
		cp := *m
		return &cp, nil
	}
	for _, m := range f.members {
		if strings.EqualFold(m.Username, ref) {
			cp := *m
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: member %q", platform.ErrNotFound, nameOrID)
}

func (f *fakeTransport) ResolveChannel(_ context.Context, tenantID, channelID string) (*platform.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	ch, ok := f.channels[channelID]
	if !ok || ch.TenantID != tenantID {
		return nil, fmt.Errorf("%w: channel %q", platform.ErrNotFound, channelID)
	}
	cp := *ch
	return &cp, nil
}

func (f *fakeTransport) sentTo(channelID string) []platform.OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []platform.OutboundMessage
	for _, s := range f.sent {
		if s.ChannelID == channelID {
			out = append(out, s.Msg)
		}
	}
	return out
}

// fakeSource serves pages keyed by cursor; the empty cursor is the newest page.
type fakeSource struct {
	mu       sync.Mutex
	creds    bool
	authErr  error
	fetchErr error
	pages    map[string]*feed.Page
	requests []feed.FetchRequest
	authN    int
	// block, when set, holds Fetch until it is closed.
	block   chan struct{}
	started chan struct{}
}

func newFakeSource(items ...model.FeedItem) *fakeSource {
	return &fakeSource{pages: map[string]*feed.Page{"": {Items: items}}}
}

func (s *fakeSource) HasCredentials() bool { return s.creds }

func (s *fakeSource) Authenticate(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authN++
	return s.authErr
}

func (s *fakeSource) Fetch(ctx context.Context, req feed.FetchRequest) (*feed.Page, error) {
	if s.started != nil {
		close(s.started)
		s.started = nil
	}
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	page, ok := s.pages[req.Cursor]
	if !ok {
		return &feed.Page{}, nil
	}
	cp := *page
	return &cp, nil
}

func (s *fakeSource) setItems(items ...model.FeedItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages = map[string]*feed.Page{"": {Items: items}}
}

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func item(id string, minute int) model.FeedItem {
	return model.FeedItem{
		ID:        id,
		Author:    "bungie",
		CreatedAt: baseTime.Add(time.Duration(minute) * time.Minute),
		Text:      "post " + id,
		Permalink: "https://feed.example/bungie/status/" + id,
	}
}

func newMemoryStore(t *testing.T) *store.MemoryConfigStore {
	s, err := store.NewMemoryConfigStore()
	require.NoError(t, err)
	return s
}

// configureTenant stores a fully configured tenant.
func configureTenant(t *testing.T, s store.ConfigStore, tenantID string, feedEnabled bool) {
	ctx := context.Background()
	require.NoError(t, s.UpdateField(ctx, tenantID, model.FieldPrivateChannelContainer, testContainer))
	require.NoError(t, s.UpdateField(ctx, tenantID, model.FieldAdminRecipients, []string{"100", "200"}))
	require.NoError(t, s.UpdateField(ctx, tenantID, model.FieldFeedDeliveryChannel, testFeedChan))
	require.NoError(t, s.UpdateField(ctx, tenantID, model.FieldFeedEnabled, feedEnabled))
}
