package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/teresa-solution/guild-relay-service/internal/model"
)

type ClientConfig struct {
	BaseURL  string
	Author   string
	Username string
	Password string
	Timeout  time.Duration
}

// Client reads an author timeline from a JSON feed API.
type Client struct {
	cfg  ClientConfig
	http *http.Client

	mu    sync.RWMutex
	token string
}

var _ Source = (*Client)(nil)

func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

func (c *Client) HasCredentials() bool {
	return c.cfg.Username != "" && c.cfg.Password != ""
}

type sessionRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Token string `json:"token"`
}

func (c *Client) Authenticate(ctx context.Context) error {
	body, err := json.Marshal(sessionRequest{Username: c.cfg.Username, Password: c.cfg.Password})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/v1/sessions", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: session rejected with %s", ErrUnauthorized, resp.Status)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("create session: unexpected status %s", resp.Status)
	}

	var sess sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return fmt.Errorf("decode session: %w", err)
	}
	if sess.Token == "" {
		return fmt.Errorf("%w: empty session token", ErrUnauthorized)
	}

	c.mu.Lock()
	c.token = sess.Token
	c.mu.Unlock()
	return nil
}

type postsResponse struct {
	Data []struct {
		ID        string    `json:"id"`
		Author    string    `json:"author"`
		CreatedAt time.Time `json:"created_at"`
		Text      string    `json:"text"`
	} `json:"data"`
	Meta struct {
		NextCursor string `json:"next_cursor"`
	} `json:"meta"`
}

func (c *Client) Fetch(ctx context.Context, fr FetchRequest) (*Page, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(fr.Limit))
	if fr.Cursor != "" {
		q.Set("cursor", fr.Cursor)
	}
	endpoint := fmt.Sprintf("%s/api/v1/users/%s/posts?%s", c.cfg.BaseURL, url.PathEscape(c.cfg.Author), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch timeline: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: timeline rejected with %s", ErrUnauthorized, resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch timeline: unexpected status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	var posts postsResponse
	if err := json.NewDecoder(resp.Body).Decode(&posts); err != nil {
		return nil, fmt.Errorf("decode timeline: %w", err)
	}

	page := &Page{NextCursor: posts.Meta.NextCursor}
	for _, p := range posts.Data {
		author := p.Author
		if author == "" {
			author = c.cfg.Author
		}
		page.Items = append(page.Items, model.FeedItem{
			ID:        p.ID,
			Author:    author,
			CreatedAt: p.CreatedAt.UTC(),
			Text:      p.Text,
			Permalink: c.Permalink(author, p.ID),
		})
	}
	return page, nil
}

// Permalink builds the canonical link of a post from its author and id.
func (c *Client) Permalink(author, id string) string {
	return fmt.Sprintf("%s/%s/status/%s", c.cfg.BaseURL, url.PathEscape(author), url.PathEscape(id))
}
