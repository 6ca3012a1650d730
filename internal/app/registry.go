package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/Dialtone/internal/core"
	"github.com/dkeye/Dialtone/internal/domain"
	"github.com/dkeye/Dialtone/internal/metrics"
	"github.com/rs/zerolog/log"
)

const storeTimeout = 2 * time.Second

// registryEntry is never deleted; an offline user keeps its last-seen time.
type registryEntry struct {
	Conn     core.SignalConnection
	Online   bool
	LastSeen time.Time
}

// Registry maps a user to its single live signaling connection.
// Writes come only from connect/disconnect; routing and presence queries read.
type Registry struct {
	mu      sync.RWMutex
	entries map[domain.UserID]*registryEntry

	store   core.PresenceStore
	metrics *metrics.Metrics
	now     func() time.Time

	hookMu     sync.RWMutex
	onPresence []func(domain.Presence)
}

type RegistryOption func(*Registry)

// WithPresenceStore mirrors online/last-seen into a persistent store.
func WithPresenceStore(s core.PresenceStore) RegistryOption {
	return func(r *Registry) { r.store = s }
}

func WithRegistryMetrics(m *metrics.Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		entries: make(map[domain.UserID]*registryEntry),
		now:     time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// OnPresence adds a listener fired after every online/offline transition.
func (r *Registry) OnPresence(fn func(domain.Presence)) {
	r.hookMu.Lock()
	r.onPresence = append(r.onPresence, fn)
	r.hookMu.Unlock()
}

// Register binds conn as the user's live connection and returns the one it
// replaced, if any. The caller owns closing the previous connection.
func (r *Registry) Register(user domain.UserID, conn core.SignalConnection) core.SignalConnection {
	r.mu.Lock()
	e, ok := r.entries[user]
	if !ok {
		e = &registryEntry{}
		r.entries[user] = e
	}
	prev := e.Conn
	e.Conn = conn
	e.Online = true
	e.LastSeen = r.now()
	online := r.countOnlineLocked()
	r.mu.Unlock()

	r.metrics.SetOnlineUsers(online)
	if prev != nil {
		log.Info().Str("module", "app.registry").Str("user", string(user)).
			Str("prev_conn", string(prev.ID())).Str("conn", string(conn.ID())).Msg("connection replaced")
	} else {
		log.Info().Str("module", "app.registry").Str("user", string(user)).Str("conn", string(conn.ID())).Msg("registered")
	}

	if r.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		if err := r.store.SetOnline(ctx, user); err != nil {
			log.Warn().Err(err).Str("module", "app.registry").Str("user", string(user)).Msg("presence store online")
		}
		cancel()
	}
	r.firePresence(domain.Presence{UserID: user, Online: true})
	return prev
}

// Unregister marks the user offline, but only while connID is still the live
// connection; a replaced connection closing late must not evict its successor.
func (r *Registry) Unregister(user domain.UserID, connID core.ConnID) bool {
	r.mu.Lock()
	e, ok := r.entries[user]
	if !ok || e.Conn == nil || e.Conn.ID() != connID {
		r.mu.Unlock()
		return false
	}
	e.Conn = nil
	e.Online = false
	e.LastSeen = r.now()
	p := domain.Presence{UserID: user, Online: false, LastSeenAt: e.LastSeen}
	online := r.countOnlineLocked()
	r.mu.Unlock()

	r.metrics.SetOnlineUsers(online)
	log.Info().Str("module", "app.registry").Str("user", string(user)).Str("conn", string(connID)).Msg("unregistered")

	if r.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		if err := r.store.SetOffline(ctx, p); err != nil {
			log.Warn().Err(err).Str("module", "app.registry").Str("user", string(user)).Msg("presence store offline")
		}
		cancel()
	}
	r.firePresence(p)
	return true
}

func (r *Registry) Lookup(user domain.UserID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[user]
	if !ok || !e.Online || e.Conn == nil {
		return nil, false
	}
	return e.Conn, true
}

// StatusOf answers on-demand presence queries. Users never seen by this
// process are looked up in the presence store when one is configured.
func (r *Registry) StatusOf(ctx context.Context, user domain.UserID) domain.Presence {
	r.mu.RLock()
	e, ok := r.entries[user]
	var p domain.Presence
	if ok {
		p = domain.Presence{UserID: user, Online: e.Online}
		if !e.Online {
			p.LastSeenAt = e.LastSeen
		}
	}
	r.mu.RUnlock()
	if ok || r.store == nil {
		p.UserID = user
		return p
	}

	stored, found, err := r.store.Get(ctx, user)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.registry").Str("user", string(user)).Msg("presence store get")
	}
	if err != nil || !found {
		return domain.Presence{UserID: user}
	}
	// A process that does not hold the connection cannot vouch for it.
	stored.Online = false
	return stored
}

// Online returns the users with a live connection, sorted.
func (r *Registry) Online() []domain.UserID {
	r.mu.RLock()
	out := make([]domain.UserID, 0, len(r.entries))
	for u, e := range r.entries {
		if e.Online {
			out = append(out, u)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) countOnlineLocked() int {
	n := 0
	for _, e := range r.entries {
		if e.Online {
			n++
		}
	}
	return n
}

func (r *Registry) firePresence(p domain.Presence) {
	r.hookMu.RLock()
	hooks := make([]func(domain.Presence), len(r.onPresence))
	copy(hooks, r.onPresence)
	r.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(p)
	}
}
