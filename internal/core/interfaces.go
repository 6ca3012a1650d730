package core

import (
	"context"

	"github.com/dkeye/Dialtone/internal/domain"
)

// Summary is what an out-of-band notification says about the missed signal.
type Summary struct {
	Kind     string
	RoomID   domain.RoomID
	CallerID domain.UserID
	CallType domain.CallType
}

// OfflineNotifier is invoked when a routed message targets an offline user.
// Implementations must not block the caller for long; the relay calls it
// from its own goroutine with a bounded context.
type OfflineNotifier interface {
	Notify(ctx context.Context, target domain.UserID, s Summary) error
}

// ContactLookup resolves the users that should hear about a user's presence.
type ContactLookup interface {
	ContactsOf(user domain.UserID) []domain.UserID
}

// PresenceStore persists presence beyond process memory.
type PresenceStore interface {
	SetOnline(ctx context.Context, user domain.UserID) error
	SetOffline(ctx context.Context, p domain.Presence) error
	Get(ctx context.Context, user domain.UserID) (domain.Presence, bool, error)
}

// Authenticator resolves a bearer credential to a stable user identity.
type Authenticator interface {
	Authenticate(token string) (domain.UserID, error)
}
