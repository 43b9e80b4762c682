// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const MaxDisplayNameLen = 64

var (
	ErrDisplayNameEmpty   = errors.New("display name empty")
	ErrDisplayNameTooLong = errors.New("display name too long")
)

// Identity is supplied by an external authentication collaborator.
// The core only attaches it to outbound join/request messages.
type Identity struct {
	DisplayName string `json:"name"`
	Email       string `json:"email,omitempty"`
	AvatarURL   string `json:"photo,omitempty"`
}

// NewIdentity is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewIdentity(name, email, avatarURL string) (Identity, error) {
	if len(name) == 0 {
		return Identity{}, ErrDisplayNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return Identity{}, ErrDisplayNameTooLong
	}
	return Identity{DisplayName: name, Email: email, AvatarURL: avatarURL}, nil
}
