package model

import (
	"fmt"
	"strings"
)

// Purpose is the suffix of a provisioned channel and selects its seed message.
type Purpose string

const (
	PurposeIntroduction Purpose = "introduction"
	PurposeHelp         Purpose = "help"
)

// Purposes lists every purpose the provisioner accepts.
var Purposes = []Purpose{PurposeIntroduction, PurposeHelp}

func ParsePurpose(s string) (Purpose, error) {
	p := Purpose(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Purposes {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown channel purpose %q", s)
}

// ChannelName derives the provisioned channel name from the requesting
// user's display name. Whitespace collapses to dashes the way the platform
// normalizes text channel names.
func ChannelName(displayName string, p Purpose) string {
	name := strings.Join(strings.Fields(strings.ToLower(displayName)), "-")
	return fmt.Sprintf("%s-%s", name, p)
}
