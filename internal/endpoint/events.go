package endpoint

import "github.com/rs/zerolog/log"

const subscriberBuffer = 32

// Subscribe returns a channel receiving a session copy after every
// transition. The returned func detaches the subscriber and closes the channel.
func (m *Machine) Subscribe() (<-chan CallSession, func()) {
	ch := make(chan CallSession, subscriberBuffer)
	m.subsMu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = ch
	m.subsMu.Unlock()

	return ch, func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
	}
}

// OnStateChange calls fn for every transition on a dedicated goroutine.
func (m *Machine) OnStateChange(fn func(CallSession)) func() {
	ch, cancel := m.Subscribe()
	go func() {
		for s := range ch {
			fn(s)
		}
	}()
	return cancel
}

func (m *Machine) publish() {
	snap := m.sess.clone()
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for id, ch := range m.subs {
		select {
		case ch <- snap:
		default:
			log.Warn().Str("module", "endpoint").Int("subscriber", id).Str("phase", string(snap.Phase)).Msg("slow observer, snapshot dropped")
		}
	}
}
