package endpoint

import (
	"context"
	"fmt"

	"github.com/dkeye/Dialtone/internal/domain"
	"github.com/dkeye/Dialtone/internal/protocol"
	"github.com/rs/zerolog/log"
)

// answerOffer applies a remote offer, drains buffered candidates and sends the answer.
func (m *Machine) answerOffer(ctx context.Context, offer protocol.Description) error {
	if err := m.transport.ApplyRemote(offer); err != nil {
		return fmt.Errorf("%w: apply offer: %w", ErrNegotiation, err)
	}
	m.drainCandidates()
	answer, err := m.transport.CreateAnswer(ctx)
	if err != nil {
		return fmt.Errorf("%w: create answer: %w", ErrNegotiation, err)
	}
	m.send(&protocol.Message{Type: protocol.KindAnswer, RoomID: m.sess.RoomID, Answer: &answer})
	return nil
}

func (m *Machine) onOffer(offer *protocol.Description) {
	if offer == nil {
		return
	}
	if m.sess.Direction == domain.DirectionOutgoing {
		log.Debug().Str("module", "endpoint").Str("room_id", string(m.sess.RoomID)).Msg("offer on outgoing call ignored")
		return
	}
	if m.transport == nil {
		o := *offer
		m.pendingOffer = &o
		log.Debug().Str("module", "endpoint").Str("room_id", string(m.sess.RoomID)).Msg("offer buffered")
		return
	}
	if st := m.transport.SignalingState(); st != SignalingStable || m.transport.HasRemoteDescription() {
		log.Debug().Str("module", "endpoint").Str("room_id", string(m.sess.RoomID)).Str("signaling", st.String()).Msg("duplicate offer ignored")
		return
	}
	if err := m.answerOffer(context.Background(), *offer); err != nil {
		m.end(domain.EndNegotiationFailed, err, m.controlMessage(protocol.KindEndCall))
	}
}

func (m *Machine) onAnswer(answer *protocol.Description) {
	if answer == nil || m.transport == nil {
		return
	}
	if st := m.transport.SignalingState(); st != SignalingHaveLocalOffer {
		log.Debug().Str("module", "endpoint").Str("room_id", string(m.sess.RoomID)).Str("signaling", st.String()).Msg("answer ignored")
		return
	}
	if err := m.transport.ApplyRemote(*answer); err != nil {
		m.end(domain.EndNegotiationFailed, fmt.Errorf("%w: apply answer: %w", ErrNegotiation, err), m.controlMessage(protocol.KindEndCall))
		return
	}
	m.drainCandidates()
}

func (m *Machine) onRemoteCandidate(c *protocol.Candidate) {
	if c == nil {
		return
	}
	if m.transport == nil || !m.transport.HasRemoteDescription() {
		m.pendingCandidates = append(m.pendingCandidates, *c)
		log.Debug().Str("module", "endpoint").Str("room_id", string(m.sess.RoomID)).
			Int("buffered", len(m.pendingCandidates)).Msg("candidate buffered")
		return
	}
	m.applyCandidate(*c)
}

// drainCandidates applies buffered candidates in arrival order.
func (m *Machine) drainCandidates() {
	if len(m.pendingCandidates) == 0 {
		return
	}
	queued := m.pendingCandidates
	m.pendingCandidates = nil
	log.Debug().Str("module", "endpoint").Str("room_id", string(m.sess.RoomID)).Int("count", len(queued)).Msg("draining candidates")
	for _, c := range queued {
		m.applyCandidate(c)
	}
}

// applyCandidate never fails the call; a bad candidate is skipped.
func (m *Machine) applyCandidate(c protocol.Candidate) {
	if err := m.transport.AddCandidate(c); err != nil {
		m.metrics.CandidateFailed()
		log.Warn().Err(err).Str("module", "endpoint").Str("room_id", string(m.sess.RoomID)).
			Str("candidate", c.Candidate).Msg("candidate skipped")
	}
}
