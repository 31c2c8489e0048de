// Package discord implements platform.Transport on top of discordgo.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/guild-relay-service/internal/platform"
)

// Discord JSON error codes that carry meaning beyond the HTTP status.
const (
	apiCodeUnknownChannel     = 10003
	apiCodeUnknownGuild       = 10004
	apiCodeUnknownMember      = 10007
	apiCodeUnknownUser        = 10013
	apiCodeMissingAccess      = 50001
	apiCodeMissingPermissions = 50013
)

type Client struct {
	session *discordgo.Session
	timeout time.Duration
}

var _ platform.Transport = (*Client)(nil)

func New(token string, timeout time.Duration) (*Client, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers
	if timeout > 0 {
		s.Client.Timeout = timeout
	}
	return &Client{session: s, timeout: timeout}, nil
}

// Open connects the gateway so the session learns its own identity.
func (c *Client) Open() error {
	c.session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		log.Info().Str("user", r.User.Username).Int("guilds", len(r.Guilds)).Msg("Discord session ready")
	})
	return c.session.Open()
}

func (c *Client) Close() error {
	return c.session.Close()
}

func (c *Client) SelfID() string {
	if c.session.State == nil || c.session.State.User == nil {
		return ""
	}
	return c.session.State.User.ID
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) CreateChannel(ctx context.Context, req platform.CreateChannelRequest) (*platform.Channel, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	ch, err := c.session.GuildChannelCreateComplex(req.TenantID, discordgo.GuildChannelCreateData{
		Name:                 req.Name,
		Type:                 discordgo.ChannelTypeGuildText,
		ParentID:             req.ParentID,
		PermissionOverwrites: toOverwrites(req.TenantID, req.Overwrites),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return nil, translateError(err)
	}
	return toChannel(ch), nil
}

func (c *Client) DeleteChannel(ctx context.Context, channelID string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	_, err := c.session.ChannelDelete(channelID, discordgo.WithContext(ctx))
	return translateError(err)
}

func (c *Client) SendMessage(ctx context.Context, channelID string, msg platform.OutboundMessage) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	_, err := c.session.ChannelMessageSendComplex(channelID, toMessageSend(msg), discordgo.WithContext(ctx))
	return translateError(err)
}

func (c *Client) ResolveMember(ctx context.Context, tenantID, nameOrID string) (*platform.Member, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	ref := stripMention(nameOrID)
	if isSnowflake(ref) {
		m, err := c.session.GuildMember(tenantID, ref, discordgo.WithContext(ctx))
		if err != nil {
			return nil, translateError(err)
		}
		return toMember(m), nil
	}

	candidates, err := c.session.GuildMembersSearch(tenantID, ref, 10, discordgo.WithContext(ctx))
	if err != nil {
		return nil, translateError(err)
	}
	for _, m := range candidates {
		if m.User == nil {
			continue
		}
		if strings.EqualFold(m.User.Username, ref) || strings.EqualFold(m.User.GlobalName, ref) || strings.EqualFold(m.Nick, ref) {
			return toMember(m), nil
		}
	}
	return nil, fmt.Errorf("%w: member %q", platform.ErrNotFound, nameOrID)
}

func (c *Client) ResolveChannel(ctx context.Context, tenantID, channelID string) (*platform.Channel, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	ref := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(channelID), "<#"), ">")
	if !isSnowflake(ref) {
		return nil, fmt.Errorf("%w: channel %q", platform.ErrNotFound, channelID)
	}
	ch, err := c.session.Channel(ref, discordgo.WithContext(ctx))
	if err != nil {
		return nil, translateError(err)
	}
	if ch.GuildID != tenantID {
		return nil, fmt.Errorf("%w: channel %s is not in guild %s", platform.ErrNotFound, ref, tenantID)
	}
	return toChannel(ch), nil
}

func toChannel(ch *discordgo.Channel) *platform.Channel {
	kind := platform.ChannelKindOther
	switch ch.Type {
	case discordgo.ChannelTypeGuildText:
		kind = platform.ChannelKindText
	case discordgo.ChannelTypeGuildCategory:
		kind = platform.ChannelKindContainer
	}
	return &platform.Channel{
		ID:       ch.ID,
		TenantID: ch.GuildID,
		Name:     ch.Name,
		Kind:     kind,
		ParentID: ch.ParentID,
	}
}

func toMember(m *discordgo.Member) *platform.Member {
	out := &platform.Member{}
	if m.User != nil {
		out.ID = m.User.ID
		out.Username = m.User.Username
		out.DisplayName = m.User.GlobalName
		if out.DisplayName == "" {
			out.DisplayName = m.User.Username
		}
	}
	if m.Nick != "" {
		out.DisplayName = m.Nick
	}
	return out
}

func toPermissionBits(p platform.Permission) int64 {
	var bits int64
	if p&platform.PermView != 0 {
		bits |= discordgo.PermissionViewChannel
	}
	if p&platform.PermSend != 0 {
		bits |= discordgo.PermissionSendMessages
	}
	return bits
}

// toOverwrites maps the tenant-wide audience onto the @everyone role, whose
// id equals the guild id.
func toOverwrites(guildID string, in []platform.Overwrite) []*discordgo.PermissionOverwrite {
	out := make([]*discordgo.PermissionOverwrite, 0, len(in))
	for _, o := range in {
		ow := &discordgo.PermissionOverwrite{
			Allow: toPermissionBits(o.Allow),
			Deny:  toPermissionBits(o.Deny),
		}
		switch o.Target {
		case platform.TargetEveryone:
			ow.ID = guildID
			ow.Type = discordgo.PermissionOverwriteTypeRole
		default:
			ow.ID = o.TargetID
			ow.Type = discordgo.PermissionOverwriteTypeMember
		}
		out = append(out, ow)
	}
	return out
}

func toMessageSend(msg platform.OutboundMessage) *discordgo.MessageSend {
	send := &discordgo.MessageSend{
		Content: msg.Content,
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Users: msg.MentionIDs,
		},
	}
	if e := msg.Embed; e != nil {
		embed := &discordgo.MessageEmbed{
			Title:       e.Title,
			Description: e.Description,
			URL:         e.URL,
			Color:       e.Color,
		}
		if !e.Timestamp.IsZero() {
			embed.Timestamp = e.Timestamp.UTC().Format(time.RFC3339)
		}
		if e.AuthorName != "" {
			embed.Author = &discordgo.MessageEmbedAuthor{Name: e.AuthorName}
		}
		send.Embeds = []*discordgo.MessageEmbed{embed}
	}
	return send
}

func translateError(err error) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return err
	}
	if restErr.Message != nil {
		switch restErr.Message.Code {
		case apiCodeMissingAccess, apiCodeMissingPermissions:
			return fmt.Errorf("%w: %s", platform.ErrPermissionDenied, restErr.Message.Message)
		case apiCodeUnknownChannel, apiCodeUnknownGuild, apiCodeUnknownMember, apiCodeUnknownUser:
			return fmt.Errorf("%w: %s", platform.ErrNotFound, restErr.Message.Message)
		}
	}
	if restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusForbidden:
			return fmt.Errorf("%w: %v", platform.ErrPermissionDenied, err)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", platform.ErrNotFound, err)
		}
	}
	return err
}

func stripMention(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "<@") && strings.HasSuffix(s, ">") {
		s = strings.TrimSuffix(strings.TrimPrefix(s, "<@"), ">")
		s = strings.TrimPrefix(s, "!")
	}
	return s
}

func isSnowflake(s string) bool {
	if len(s) < 15 || len(s) > 20 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
