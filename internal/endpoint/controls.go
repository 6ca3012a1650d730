package endpoint

import (
	"github.com/dkeye/Dialtone/internal/domain"
	"github.com/rs/zerolog/log"
)

// ToggleMute flips the local audio track. Outside a connected call it does nothing.
func (m *Machine) ToggleMute() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess.Phase != domain.PhaseConnected || !m.setKindEnabled(KindAudio, m.sess.Muted) {
		return
	}
	m.sess.Muted = !m.sess.Muted
	m.syncLocalInfo()
	log.Debug().Str("module", "endpoint.controls").Str("room_id", string(m.sess.RoomID)).Bool("muted", m.sess.Muted).Msg("mute")
	m.publish()
}

// ToggleVideo flips the local video track. Calls started without video stay that way.
func (m *Machine) ToggleVideo() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess.Phase != domain.PhaseConnected || !m.setKindEnabled(KindVideo, !m.sess.VideoEnabled) {
		return
	}
	m.sess.VideoEnabled = !m.sess.VideoEnabled
	m.syncLocalInfo()
	log.Debug().Str("module", "endpoint.controls").Str("room_id", string(m.sess.RoomID)).Bool("video", m.sess.VideoEnabled).Msg("video")
	m.publish()
}

// ToggleSpeaker switches playback output when the platform allows it.
func (m *Machine) ToggleSpeaker() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess.Phase != domain.PhaseConnected || m.playback == nil {
		return
	}
	on := !m.sess.SpeakerOn
	if err := m.playback.SetSpeaker(on); err != nil {
		log.Debug().Err(err).Str("module", "endpoint.controls").Msg("speaker routing unavailable")
		return
	}
	m.sess.SpeakerOn = on
	m.publish()
}

func (m *Machine) setKindEnabled(kind string, enabled bool) bool {
	if m.local == nil {
		return false
	}
	found := false
	for _, t := range m.local.Tracks() {
		if t.Kind() == kind {
			t.SetEnabled(enabled)
			found = true
		}
	}
	return found
}
