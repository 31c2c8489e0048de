// Package platform defines what the service needs from the chat platform.
// Adapters translate their own failures into ErrPermissionDenied and
// ErrNotFound so callers can tell a capability gap from a missing object.
package platform

import (
	"context"
	"errors"
	"time"
)

var (
	ErrPermissionDenied = errors.New("platform: permission denied")
	ErrNotFound         = errors.New("platform: not found")
)

type ChannelKind int

const (
	ChannelKindText ChannelKind = iota
	ChannelKindContainer
	ChannelKindOther
)

func (k ChannelKind) String() string {
	switch k {
	case ChannelKindText:
		return "text"
	case ChannelKindContainer:
		return "container"
	}
	return "other"
}

type Channel struct {
	ID       string
	TenantID string
	Name     string
	Kind     ChannelKind
	ParentID string
}

// Mention renders the platform link to the channel.
func (c *Channel) Mention() string {
	return "<#" + c.ID + ">"
}

type Member struct {
	ID          string
	Username    string
	DisplayName string
}

func (m *Member) Mention() string {
	return "<@" + m.ID + ">"
}

// Permission is a bit set of channel capabilities.
type Permission uint8

const (
	PermView Permission = 1 << iota
	PermSend
)

type TargetKind int

const (
	// TargetEveryone is the tenant-wide default audience.
	TargetEveryone TargetKind = iota
	TargetMember
)

// Overwrite sets channel visibility for one audience.
type Overwrite struct {
	Target   TargetKind
	TargetID string
	Allow    Permission
	Deny     Permission
}

type CreateChannelRequest struct {
	TenantID   string
	Name       string
	ParentID   string
	Overwrites []Overwrite
}

type Embed struct {
	Title       string
	Description string
	URL         string
	Color       int
	AuthorName  string
	Timestamp   time.Time
}

type OutboundMessage struct {
	Content string
	Embed   *Embed
	// MentionIDs restricts which members the message may ping.
	MentionIDs []string
}

// Transport is the chat platform as seen by the provisioner, the settings
// workflow and the feed engine.
type Transport interface {
	SelfID() string
	CreateChannel(ctx context.Context, req CreateChannelRequest) (*Channel, error)
	DeleteChannel(ctx context.Context, channelID string) error
	SendMessage(ctx context.Context, channelID string, msg OutboundMessage) error
	// ResolveMember accepts a member id or a username.
	ResolveMember(ctx context.Context, tenantID, nameOrID string) (*Member, error)
	// ResolveChannel returns ErrNotFound for channels outside the tenant.
	ResolveChannel(ctx context.Context, tenantID, channelID string) (*Channel, error)
}
