package domain

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

const roomIDPrefix = "call_"

var ErrRoomIDEmpty = errors.New("room id empty")

// RoomID correlates every signaling message of one call attempt.
type RoomID string

// NewRoomID returns a fresh token. Retries get a new one too.
func NewRoomID() RoomID {
	return RoomID(roomIDPrefix + uuid.NewString())
}

func ParseRoomID(raw string) (RoomID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrRoomIDEmpty
	}
	return RoomID(raw), nil
}
