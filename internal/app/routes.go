package app

import (
	"sync"
	"time"

	"github.com/dkeye/Dialtone/internal/core"
	"github.com/dkeye/Dialtone/internal/domain"
)

// RouteTableImpl keeps roomId -> participants so negotiation messages reach
// exactly the other party of the call.
type RouteTableImpl struct {
	mu     sync.RWMutex
	routes map[domain.RoomID]*core.Route
	now    func() time.Time
}

func NewRouteTable() *RouteTableImpl {
	return &RouteTableImpl{
		routes: make(map[domain.RoomID]*core.Route),
		now:    time.Now,
	}
}

// Bind stores a new route. An existing room id is never rebound to other
// participants; false is returned in that case.
func (t *RouteTableImpl) Bind(r core.Route) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.routes[r.RoomID]; ok {
		return old.CallerID == r.CallerID && old.CalleeID == r.CalleeID
	}
	now := t.now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.TouchedAt = now
	t.routes[r.RoomID] = &r
	return true
}

func (t *RouteTableImpl) Get(id domain.RoomID) (core.Route, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.routes[id]
	if !ok {
		return core.Route{}, false
	}
	return *r, true
}

func (t *RouteTableImpl) Touch(id domain.RoomID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.routes[id]; ok {
		r.TouchedAt = t.now()
	}
}

func (t *RouteTableImpl) Remove(id domain.RoomID) (core.Route, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.routes[id]
	if !ok {
		return core.Route{}, false
	}
	delete(t.routes, id)
	return *r, true
}

// RemoveUser drops the routes the user participates in that were bound
// before boundBefore and returns them. Later routes belong to a newer
// connection of the user and stay.
func (t *RouteTableImpl) RemoveUser(user domain.UserID, boundBefore time.Time) []core.Route {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []core.Route
	for id, r := range t.routes {
		if r.CreatedAt.After(boundBefore) {
			continue
		}
		if r.CallerID == user || r.CalleeID == user {
			out = append(out, *r)
			delete(t.routes, id)
		}
	}
	return out
}

// Prune removes routes untouched for longer than idle.
func (t *RouteTableImpl) Prune(idle time.Duration) int {
	cutoff := t.now().Add(-idle)
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, r := range t.routes {
		if r.TouchedAt.Before(cutoff) {
			delete(t.routes, id)
			n++
		}
	}
	return n
}

func (t *RouteTableImpl) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.routes)
}
