// Package domain contains chat entities and the rules that make them valid.
package domain

import "strings"

const (
	MaxUsernameLen    = 64
	MaxDisplayNameLen = 128
)

// Identity is a self-asserted user key plus a display name.
// Two identities are the same user when their usernames match.
type Identity struct {
	Username    string `json:"username" validate:"required,max=64,excludesall=:0x2C"`
	DisplayName string `json:"displayName,omitempty" validate:"max=128"`
}

// NewIdentity is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewIdentity(username, displayName string) (Identity, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return Identity{}, ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return Identity{}, ErrUsernameTooLong
	}
	if displayName == "" {
		displayName = username
	}
	return Identity{Username: username, DisplayName: displayName}, nil
}

func (i Identity) Key() string { return i.Username }

func (i Identity) Equal(o Identity) bool { return i.Username == o.Username }

func (i Identity) Target() Target {
	return Target{Username: i.Username, DisplayName: i.DisplayName}
}

func (i Identity) String() string {
	if i.DisplayName != "" {
		return i.DisplayName
	}
	return i.Username
}

// Target is the resolvable address of a payload endpoint: a user or a group.
type Target struct {
	Username    string `json:"username" validate:"required,max=64,excludesall=:0x2C"`
	DisplayName string `json:"displayName,omitempty"`
	Group       bool   `json:"group,omitempty"`
}

func (t Target) Identity() Identity {
	return Identity{Username: t.Username, DisplayName: t.DisplayName}
}

// Payload is anything that travels between two addressable endpoints.
type Payload interface {
	Sender() Target
	Recipient() Target
}
