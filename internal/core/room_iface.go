package core

import (
	"time"

	"github.com/dkeye/Dialtone/internal/domain"
)

// Route binds a room to its two participants. It carries no call phase.
type Route struct {
	RoomID    domain.RoomID
	CallerID  domain.UserID
	CalleeID  domain.UserID
	CallType  domain.CallType
	CreatedAt time.Time
	TouchedAt time.Time
}

// Peer returns the other participant, or false when user is not part of the route.
func (r Route) Peer(user domain.UserID) (domain.UserID, bool) {
	switch user {
	case r.CallerID:
		return r.CalleeID, true
	case r.CalleeID:
		return r.CallerID, true
	}
	return "", false
}

type RouteTable interface {
	Bind(r Route) bool
	Get(id domain.RoomID) (Route, bool)
	Touch(id domain.RoomID)
	Remove(id domain.RoomID) (Route, bool)
	RemoveUser(user domain.UserID, boundBefore time.Time) []Route
	Prune(idle time.Duration) int
}
