package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/guild-relay-service/internal/model"
	"github.com/teresa-solution/guild-relay-service/internal/platform"
)

const feedEmbedColor = 0x1DA1F2

// Composer builds outbound messages. Recipients are resolved against the
// current tenant membership on every call.
type Composer struct {
	transport platform.Transport
}

func NewComposer(transport platform.Transport) *Composer {
	return &Composer{transport: transport}
}

// ResolveRecipients maps configured recipient identifiers to members.
// Identifiers that no longer resolve are dropped and logged.
func (c *Composer) ResolveRecipients(ctx context.Context, tenantID string, recipients []string) []*platform.Member {
	members := make([]*platform.Member, 0, len(recipients))
	seen := make(map[string]bool, len(recipients))
	for _, r := range recipients {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		m, err := c.transport.ResolveMember(ctx, tenantID, r)
		if err != nil {
			log.Warn().Err(err).Str("tenant_id", tenantID).Str("recipient", r).Msg("Dropping unresolved recipient from mentions")
			continue
		}
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		members = append(members, m)
	}
	return members
}

// ComposeFeedItem maps a feed item and its recipients to a message. The
// embed timestamp is the item's creation time, not the delivery time.
func ComposeFeedItem(item model.FeedItem, recipients []*platform.Member) platform.OutboundMessage {
	return platform.OutboundMessage{
		Content: mentionLine(recipients),
		Embed: &platform.Embed{
			Title:       fmt.Sprintf("New post from @%s", item.Author),
			Description: item.Text,
			URL:         item.Permalink,
			Color:       feedEmbedColor,
			AuthorName:  item.Author,
			Timestamp:   item.CreatedAt,
		},
		MentionIDs: mentionIDs(recipients),
	}
}

// ComposeSeed renders the first message of a provisioned channel.
func ComposeSeed(p model.Purpose, owner *platform.Member, recipients []*platform.Member) platform.OutboundMessage {
	admins := mentionLine(recipients)
	var content string
	switch p {
	case model.PurposeHelp:
		content = fmt.Sprintf("%s would like to speak with you.", owner.Mention())
		if admins != "" {
			content = admins + ", " + content
		}
	default:
		content = fmt.Sprintf("Eyes up, %s! A new ally is here!", owner.Mention())
		if admins != "" {
			content += fmt.Sprintf("\n%s, can you welcome the new Guardian?", admins)
		}
	}
	return platform.OutboundMessage{
		Content:    content,
		MentionIDs: append(mentionIDs(recipients), owner.ID),
	}
}

func mentionLine(members []*platform.Member) string {
	parts := make([]string, 0, len(members))
	for _, m := range members {
		parts = append(parts, m.Mention())
	}
	return strings.Join(parts, ", ")
}

func mentionIDs(members []*platform.Member) []string {
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	return ids
}
