package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/teresa-solution/guild-relay-service/internal/feed"
	"github.com/teresa-solution/guild-relay-service/internal/platform"
)

type Kind string

const (
	// KindConfigurationMissing means an administrator must configure the tenant first.
	KindConfigurationMissing Kind = "configuration_missing"
	KindContainerNotFound    Kind = "container_not_found"
	// KindInvalidReference is bad user input; nothing was written.
	KindInvalidReference Kind = "invalid_reference"
	KindPermissionDenied Kind = "permission_denied"
	// KindTransientDelivery is a platform or network fault. It is never retried automatically.
	KindTransientDelivery Kind = "transient_delivery"
	KindUpstreamAuth      Kind = "upstream_auth"
	KindItemDelivery      Kind = "item_delivery"
	KindInternal          Kind = "internal"
)

// Error is a classified failure with a message safe to show the caller.
type Error struct {
	Kind    Kind
	Message string
	// Invalid lists the rejected identifiers of an InvalidReference.
	Invalid []string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func invalidReference(msg string, invalid ...string) *Error {
	return &Error{Kind: KindInvalidReference, Message: msg, Invalid: invalid}
}

// KindOf classifies err. Unclassified errors are internal faults.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, feed.ErrUnauthorized) {
		return KindUpstreamAuth
	}
	return KindInternal
}

// UserMessage returns the text shown to the person who triggered err.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return fmt.Sprintf("An error occurred: %v", err)
}

// platformFault classifies a transport error on a user-triggered path.
// Permission gaps are reported as such, everything else is transient.
func platformFault(err error, deniedMsg string) *Error {
	if errors.Is(err, platform.ErrPermissionDenied) {
		return newError(KindPermissionDenied, deniedMsg, err)
	}
	return newError(KindTransientDelivery, fmt.Sprintf("An error occurred: %v", err), err)
}

func joinIDs(ids []string) string {
	return strings.Join(ids, ", ")
}
