package feed

import (
	"context"
	"errors"

	"github.com/teresa-solution/guild-relay-service/internal/model"
)

// ErrUnauthorized means the feed rejected the session or the credential pair.
var ErrUnauthorized = errors.New("feed: unauthorized")

type FetchRequest struct {
	Limit int
	// Cursor continues from an older page; empty means the newest page.
	Cursor string
}

type Page struct {
	Items      []model.FeedItem
	NextCursor string
}

// Source is the external timeline the engine relays from. Items inside a
// page may come in any order.
type Source interface {
	// HasCredentials reports whether Authenticate should be called before fetching.
	HasCredentials() bool
	Authenticate(ctx context.Context) error
	Fetch(ctx context.Context, req FetchRequest) (*Page, error)
}
