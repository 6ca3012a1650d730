// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"time"
)

const MaxUserIDLen = 64

var (
	ErrUserIDTooLong = errors.New("user id too long")
	ErrUserIDEmpty   = errors.New("user id empty")
)

type UserID string

// ParseUserID avoids accepting raw client strings in adapters.
func ParseUserID(raw string) (UserID, error) {
	if len(raw) == 0 {
		return "", ErrUserIDEmpty
	}
	if len(raw) > MaxUserIDLen {
		return "", ErrUserIDTooLong
	}
	return UserID(raw), nil
}

// Presence is the relay's view of a user's reachability.
type Presence struct {
	UserID     UserID    `json:"userId"`
	Online     bool      `json:"online"`
	LastSeenAt time.Time `json:"lastSeenAt,omitzero"`
}
