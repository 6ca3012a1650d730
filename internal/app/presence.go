package app

import (
	"github.com/dkeye/Dialtone/internal/core"
	"github.com/dkeye/Dialtone/internal/domain"
	"github.com/dkeye/Dialtone/internal/protocol"
	"github.com/rs/zerolog/log"
)

// StaticDirectory is a fixed contact graph, usually loaded from config.
// Edges are made symmetric on construction.
type StaticDirectory struct {
	contacts map[domain.UserID][]domain.UserID
}

func NewStaticDirectory(graph map[string][]string) *StaticDirectory {
	set := make(map[domain.UserID]map[domain.UserID]struct{})
	add := func(a, b domain.UserID) {
		if a == b {
			return
		}
		if set[a] == nil {
			set[a] = make(map[domain.UserID]struct{})
		}
		set[a][b] = struct{}{}
	}
	for u, cs := range graph {
		for _, c := range cs {
			add(domain.UserID(u), domain.UserID(c))
			add(domain.UserID(c), domain.UserID(u))
		}
	}
	d := &StaticDirectory{contacts: make(map[domain.UserID][]domain.UserID, len(set))}
	for u, cs := range set {
		for c := range cs {
			d.contacts[u] = append(d.contacts[u], c)
		}
	}
	return d
}

func (d *StaticDirectory) ContactsOf(user domain.UserID) []domain.UserID {
	return d.contacts[user]
}

// EveryoneDirectory treats every online user as a contact of everyone else.
type EveryoneDirectory struct {
	Registry *Registry
}

func (d EveryoneDirectory) ContactsOf(user domain.UserID) []domain.UserID {
	return d.Registry.Online()
}

// PresenceFanout pushes presence changes to the affected user's online contacts.
type PresenceFanout struct {
	Registry *Registry
	Contacts core.ContactLookup
}

func (f *PresenceFanout) Publish(p domain.Presence) {
	frame, err := protocol.Encode(protocol.PresenceMessage(p))
	if err != nil {
		log.Error().Err(err).Str("module", "app.presence").Msg("encode presence")
		return
	}
	sent := 0
	for _, c := range f.Contacts.ContactsOf(p.UserID) {
		if c == p.UserID {
			continue
		}
		conn, ok := f.Registry.Lookup(c)
		if !ok {
			continue
		}
		if err := conn.TrySend(frame); err != nil {
			log.Debug().Err(err).Str("module", "app.presence").Str("to", string(c)).Msg("presence dropped")
			continue
		}
		sent++
	}
	log.Debug().Str("module", "app.presence").Str("user", string(p.UserID)).Bool("online", p.Online).Int("sent_to", sent).Msg("presence published")
}
