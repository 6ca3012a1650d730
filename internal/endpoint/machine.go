package endpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Dialtone/internal/domain"
	"github.com/dkeye/Dialtone/internal/metrics"
	"github.com/dkeye/Dialtone/internal/protocol"
	"github.com/rs/zerolog/log"
)

const (
	DefaultEstablishTimeout = 30 * time.Second
	DefaultDropGrace        = 5 * time.Second
)

// Machine runs the call state machine of one endpoint. Every transition
// happens under mu, whether it is caused by a local action, an inbound
// message or a transport callback. Media acquisition is the one step that
// runs with mu released.
type Machine struct {
	mu sync.Mutex

	self       domain.UserID
	signaler   Signaler
	media      MediaSource
	transports TransportFactory
	playback   Playback
	metrics    *metrics.Metrics
	now        func() time.Time

	establishTimeout time.Duration
	dropGrace        time.Duration

	sess CallSession
	// gen changes on every new call and on every end; callbacks and timers
	// carrying an older gen are stale.
	gen uint64
	// acquiring is set while StartCall or AcceptCall waits on media.
	acquiring bool
	transport Transport
	local     LocalMedia
	remote    []RemoteTrack

	pendingOffer      *protocol.Description
	pendingCandidates []protocol.Candidate

	establishTimer *time.Timer
	graceTimer     *time.Timer

	subsMu sync.Mutex
	subs   map[int]chan CallSession
	nextID int
}

type Option func(*Machine)

// Non-positive durations keep the defaults.
func WithEstablishTimeout(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.establishTimeout = d
		}
	}
}

func WithDropGrace(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.dropGrace = d
		}
	}
}

func WithPlayback(p Playback) Option {
	return func(m *Machine) { m.playback = p }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Machine) { m.metrics = mt }
}

func New(self domain.UserID, sig Signaler, media MediaSource, tf TransportFactory, opts ...Option) *Machine {
	m := &Machine{
		self:             self,
		signaler:         sig,
		media:            media,
		transports:       tf,
		now:              time.Now,
		establishTimeout: DefaultEstablishTimeout,
		dropGrace:        DefaultDropGrace,
		sess:             CallSession{Phase: domain.PhaseIdle},
		subs:             make(map[int]chan CallSession),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Machine) Self() domain.UserID { return m.self }

// Snapshot returns a copy of the current session.
func (m *Machine) Snapshot() CallSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess.clone()
}

func (m *Machine) StartVoiceCall(ctx context.Context, callee domain.UserID) error {
	return m.StartCall(ctx, callee, domain.CallVoice)
}

func (m *Machine) StartVideoCall(ctx context.Context, callee domain.UserID) error {
	return m.StartCall(ctx, callee, domain.CallVideo)
}

// StartCall places an outgoing call. The offer travels inside start-call.
func (m *Machine) StartCall(ctx context.Context, callee domain.UserID, ct domain.CallType) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.busy() {
		return ErrCallInProgress
	}
	if callee == "" || callee == m.self {
		return ErrInvalidCallee
	}
	if _, err := domain.ParseCallType(string(ct)); err != nil {
		return err
	}

	m.gen++
	m.resetPending()
	m.sess = CallSession{
		RoomID:    domain.NewRoomID(),
		CallerID:  m.self,
		CalleeID:  callee,
		CallType:  ct,
		Direction: domain.DirectionOutgoing,
		Phase:     domain.PhaseIdle,
		StartedAt: m.now(),
	}
	logger := log.With().Str("module", "endpoint").Str("user", string(m.self)).Str("room_id", string(m.sess.RoomID)).Logger()

	local, current, err := m.acquireMedia(ctx, Constraints{Audio: true, Video: ct.HasVideo()})
	if !current {
		logger.Info().Msg("call abandoned while acquiring media")
		return ErrNoCall
	}
	if err != nil {
		logger.Warn().Err(err).Msg("media acquire failed")
		m.end(domain.EndMediaFailed, err, nil)
		return err
	}
	m.adoptLocal(local)

	if err := m.openTransport(); err != nil {
		m.end(domain.EndNegotiationFailed, err, nil)
		return err
	}
	offer, err := m.transport.CreateOffer(ctx)
	if err != nil {
		err = fmt.Errorf("%w: create offer: %w", ErrNegotiation, err)
		m.end(domain.EndNegotiationFailed, err, nil)
		return err
	}

	msg := &protocol.Message{
		Type:       protocol.KindStartCall,
		RoomID:     m.sess.RoomID,
		CallerID:   m.self,
		ReceiverID: callee,
		CallType:   ct,
		Offer:      &offer,
	}
	if err := m.signaler.Send(ctx, msg); err != nil {
		m.end(domain.EndSignalingClosed, err, nil)
		return fmt.Errorf("send start-call: %w", err)
	}

	m.sess.Phase = domain.PhaseOutgoing
	m.armEstablishTimer()
	logger.Info().Str("callee", string(callee)).Str("call_type", string(ct)).Msg("call started")
	m.publish()
	return nil
}

// AcceptCall answers the pending incoming call.
func (m *Machine) AcceptCall(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess.Phase != domain.PhaseIncoming || m.acquiring {
		return ErrNoCall
	}
	room := m.sess.RoomID
	hangup := m.controlMessage(protocol.KindEndCall)

	local, current, err := m.acquireMedia(ctx, Constraints{Audio: true, Video: m.sess.CallType.HasVideo()})
	if !current || m.sess.Phase != domain.PhaseIncoming {
		if local != nil {
			local.Release()
		}
		log.Info().Str("module", "endpoint").Str("room_id", string(room)).Msg("call ended while acquiring media")
		return ErrNoCall
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "endpoint").Str("room_id", string(room)).Msg("media acquire failed")
		m.end(domain.EndMediaFailed, err, hangup)
		return err
	}
	m.adoptLocal(local)

	if err := m.openTransport(); err != nil {
		m.end(domain.EndNegotiationFailed, err, hangup)
		return err
	}
	if m.pendingOffer != nil {
		offer := *m.pendingOffer
		m.pendingOffer = nil
		if err := m.answerOffer(ctx, offer); err != nil {
			m.end(domain.EndNegotiationFailed, err, hangup)
			return err
		}
	}

	accept := m.controlMessage(protocol.KindAcceptCall)
	if err := m.signaler.Send(ctx, accept); err != nil {
		m.end(domain.EndSignalingClosed, err, nil)
		return fmt.Errorf("send accept-call: %w", err)
	}
	m.sess.Phase = domain.PhaseNegotiating
	log.Info().Str("module", "endpoint").Str("user", string(m.self)).Str("room_id", string(room)).Msg("call accepted")
	m.publish()
	return nil
}

func (m *Machine) RejectCall() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess.Phase != domain.PhaseIncoming {
		return ErrNoCall
	}
	m.end(domain.EndRejected, nil, m.controlMessage(protocol.KindRejectCall))
	return nil
}

// EndCall hangs up from any active phase, including an outgoing call that
// is still waiting on media and has not been announced yet.
func (m *Machine) EndCall() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.busy() {
		return ErrNoCall
	}
	var notify *protocol.Message
	if m.sess.Phase.Busy() {
		notify = m.controlMessage(protocol.KindEndCall)
	}
	m.end(domain.EndLocalHangup, nil, notify)
	return nil
}

// HandleMessage applies one message received from the relay.
func (m *Machine) HandleMessage(msg *protocol.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.Type == protocol.KindIncomingCall {
		m.onIncoming(msg)
		return
	}
	if !m.sess.Phase.Busy() || msg.RoomID != m.sess.RoomID {
		if msg.Type.IsNegotiation() || msg.Type == protocol.KindCallAccepted ||
			msg.Type == protocol.KindCallRejected || msg.Type == protocol.KindCallEnded {
			log.Debug().Str("module", "endpoint").Str("kind", string(msg.Type)).Str("room_id", string(msg.RoomID)).
				Str("phase", string(m.sess.Phase)).Msg("message for another call ignored")
		}
		return
	}

	switch msg.Type {
	case protocol.KindCallAccepted:
		m.onAccepted()
	case protocol.KindCallRejected:
		if m.sess.Direction == domain.DirectionOutgoing {
			m.end(domain.EndRejected, nil, nil)
		}
	case protocol.KindCallEnded:
		reason := domain.EndRemoteHangup
		if msg.Reason == string(domain.EndSignalingClosed) {
			reason = domain.EndSignalingClosed
		}
		m.end(reason, nil, nil)
	case protocol.KindOffer:
		m.onOffer(msg.Offer)
	case protocol.KindAnswer:
		m.onAnswer(msg.Answer)
	case protocol.KindCandidate:
		m.onRemoteCandidate(msg.Candidate)
	}
}

// SignalingClosed ends any active call when the relay connection is lost.
func (m *Machine) SignalingClosed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy() {
		m.end(domain.EndSignalingClosed, nil, nil)
	}
}

func (m *Machine) onIncoming(msg *protocol.Message) {
	if m.busy() {
		if msg.RoomID == m.sess.RoomID {
			return
		}
		reject := &protocol.Message{
			Type:       protocol.KindRejectCall,
			RoomID:     msg.RoomID,
			CallerID:   msg.CallerID,
			ReceiverID: m.self,
			Reason:     string(domain.EndBusy),
		}
		if err := m.signaler.Send(context.Background(), reject); err != nil {
			log.Warn().Err(err).Str("module", "endpoint").Str("room_id", string(msg.RoomID)).Msg("busy reject")
		}
		log.Info().Str("module", "endpoint").Str("caller", string(msg.CallerID)).Str("room_id", string(msg.RoomID)).Msg("busy, call rejected")
		return
	}
	ct, err := domain.ParseCallType(string(msg.CallType))
	if msg.CallType == "" {
		ct, err = domain.CallVoice, nil
	}
	if err != nil || msg.RoomID == "" || msg.CallerID == "" {
		log.Warn().Str("module", "endpoint").Str("room_id", string(msg.RoomID)).Msg("malformed incoming-call ignored")
		return
	}

	m.gen++
	m.resetPending()
	m.sess = CallSession{
		RoomID:    msg.RoomID,
		CallerID:  msg.CallerID,
		CalleeID:  m.self,
		CallType:  ct,
		Direction: domain.DirectionIncoming,
		Phase:     domain.PhaseIncoming,
		StartedAt: m.now(),
	}
	if msg.Offer != nil {
		offer := *msg.Offer
		m.pendingOffer = &offer
	}
	m.armEstablishTimer()
	log.Info().Str("module", "endpoint").Str("user", string(m.self)).Str("caller", string(msg.CallerID)).
		Str("room_id", string(msg.RoomID)).Bool("offer", msg.Offer != nil).Msg("incoming call")
	m.publish()
}

func (m *Machine) onAccepted() {
	if m.sess.Direction != domain.DirectionOutgoing || m.sess.Phase != domain.PhaseOutgoing {
		return
	}
	if m.transport == nil {
		if err := m.openTransport(); err != nil {
			m.end(domain.EndNegotiationFailed, err, m.controlMessage(protocol.KindEndCall))
			return
		}
		offer, err := m.transport.CreateOffer(context.Background())
		if err != nil {
			m.end(domain.EndNegotiationFailed, fmt.Errorf("%w: create offer: %w", ErrNegotiation, err), m.controlMessage(protocol.KindEndCall))
			return
		}
		m.send(&protocol.Message{Type: protocol.KindOffer, RoomID: m.sess.RoomID, Offer: &offer})
	}
	m.sess.Phase = domain.PhaseNegotiating
	log.Info().Str("module", "endpoint").Str("user", string(m.self)).Str("room_id", string(m.sess.RoomID)).Msg("callee accepted")
	m.publish()
}

func (m *Machine) openTransport() error {
	tr, err := m.transports.NewTransport()
	if err != nil {
		return fmt.Errorf("%w: new transport: %w", ErrNegotiation, err)
	}
	gen := m.gen
	tr.OnStateChange(func(s ConnState) { m.onConnState(gen, s) })
	tr.OnLocalCandidate(func(c protocol.Candidate) { m.onLocalCandidate(gen, c) })
	tr.OnRemoteTrack(func(t RemoteTrack) { m.onRemoteTrack(gen, t) })
	m.transport = tr
	if m.local != nil {
		if err := tr.AddLocalMedia(m.local); err != nil {
			return fmt.Errorf("%w: add local media: %w", ErrNegotiation, err)
		}
	}
	return nil
}

func (m *Machine) busy() bool {
	return m.sess.Phase.Busy() || m.acquiring
}

// acquireMedia asks the media source for tracks with mu released, since the
// source may wait on a permission prompt. It is entered and left with mu
// held. current is false when the call ended or was replaced meanwhile; the
// acquired media is then already released.
func (m *Machine) acquireMedia(ctx context.Context, c Constraints) (local LocalMedia, current bool, err error) {
	gen := m.gen
	m.acquiring = true
	m.mu.Unlock()
	local, err = m.media.Acquire(ctx, c)
	m.mu.Lock()
	m.acquiring = false
	if gen != m.gen {
		if local != nil {
			local.Release()
		}
		return nil, false, err
	}
	return local, true, err
}

func (m *Machine) adoptLocal(local LocalMedia) {
	m.local = local
	m.sess.Muted = false
	m.sess.VideoEnabled = false
	for _, t := range local.Tracks() {
		t.SetEnabled(true)
		if t.Kind() == KindVideo {
			m.sess.VideoEnabled = true
		}
	}
	m.syncLocalInfo()
}

func (m *Machine) syncLocalInfo() {
	m.sess.LocalMedia = m.sess.LocalMedia[:0]
	if m.local == nil {
		m.sess.LocalMedia = nil
		return
	}
	for _, t := range m.local.Tracks() {
		m.sess.LocalMedia = append(m.sess.LocalMedia, TrackInfo{ID: t.ID(), Kind: t.Kind(), Enabled: t.Enabled()})
	}
}

func (m *Machine) onConnState(gen uint64, s ConnState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}
	log.Debug().Str("module", "endpoint").Str("room_id", string(m.sess.RoomID)).Str("state", s.String()).
		Str("phase", string(m.sess.Phase)).Msg("transport state")

	switch s {
	case ConnConnected:
		m.stopGrace()
		switch m.sess.Phase {
		case domain.PhaseOutgoing, domain.PhaseNegotiating:
			m.stopEstablish()
			m.sess.Phase = domain.PhaseConnected
			m.sess.ConnectedAt = m.now()
			log.Info().Str("module", "endpoint").Str("user", string(m.self)).Str("room_id", string(m.sess.RoomID)).Msg("call connected")
			m.publish()
		case domain.PhaseConnected:
			log.Info().Str("module", "endpoint").Str("room_id", string(m.sess.RoomID)).Msg("transport recovered")
		}
	case ConnDisconnected, ConnFailed, ConnClosed:
		if m.sess.Phase == domain.PhaseConnected {
			m.armGrace(gen)
			return
		}
		if s != ConnDisconnected && m.sess.Phase.Busy() {
			m.end(domain.EndTransportFailed, nil, m.controlMessage(protocol.KindEndCall))
		}
	}
}

func (m *Machine) onLocalCandidate(gen uint64, c protocol.Candidate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || !m.sess.Phase.Busy() {
		return
	}
	m.send(&protocol.Message{Type: protocol.KindCandidate, RoomID: m.sess.RoomID, Candidate: &c})
}

func (m *Machine) onRemoteTrack(gen uint64, t RemoteTrack) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || !m.sess.Phase.Busy() {
		return
	}
	m.remote = append(m.remote, t)
	m.sess.RemoteMedia = append(m.sess.RemoteMedia, TrackInfo{ID: t.ID(), Kind: t.Kind(), Enabled: true})
	if m.playback != nil {
		m.playback.Attach(t)
	}
	log.Info().Str("module", "endpoint").Str("room_id", string(m.sess.RoomID)).Str("kind", t.Kind()).Str("track_id", t.ID()).Msg("remote track")
	m.publish()
}

func (m *Machine) armEstablishTimer() {
	m.stopEstablish()
	gen := m.gen
	m.establishTimer = time.AfterFunc(m.establishTimeout, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if gen != m.gen || !m.sess.Phase.Busy() || m.sess.Phase == domain.PhaseConnected {
			return
		}
		log.Warn().Str("module", "endpoint").Str("room_id", string(m.sess.RoomID)).Str("phase", string(m.sess.Phase)).Msg("establishment timeout")
		m.end(domain.EndTimeout, ErrEstablishTimeout, m.controlMessage(protocol.KindEndCall))
	})
}

func (m *Machine) armGrace(gen uint64) {
	if m.graceTimer != nil {
		return
	}
	log.Info().Str("module", "endpoint").Str("room_id", string(m.sess.RoomID)).Dur("grace", m.dropGrace).Msg("transport dropped, waiting for recovery")
	m.graceTimer = time.AfterFunc(m.dropGrace, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if gen != m.gen || m.sess.Phase != domain.PhaseConnected {
			return
		}
		m.graceTimer = nil
		m.end(domain.EndTransportFailed, nil, m.controlMessage(protocol.KindEndCall))
	})
}

func (m *Machine) stopEstablish() {
	if m.establishTimer != nil {
		m.establishTimer.Stop()
		m.establishTimer = nil
	}
}

func (m *Machine) stopGrace() {
	if m.graceTimer != nil {
		m.graceTimer.Stop()
		m.graceTimer = nil
	}
}

func (m *Machine) resetPending() {
	m.pendingOffer = nil
	m.pendingCandidates = nil
}

// controlMessage builds a call-control message for the current call.
func (m *Machine) controlMessage(kind protocol.Kind) *protocol.Message {
	return &protocol.Message{
		Type:       kind,
		RoomID:     m.sess.RoomID,
		CallerID:   m.sess.CallerID,
		ReceiverID: m.sess.CalleeID,
		CallType:   m.sess.CallType,
	}
}

func (m *Machine) send(msg *protocol.Message) {
	if err := m.signaler.Send(context.Background(), msg); err != nil {
		log.Warn().Err(err).Str("module", "endpoint").Str("kind", string(msg.Type)).Str("room_id", string(msg.RoomID)).Msg("send")
	}
}

// end moves the call to ended. Local media and the transport are released
// before the remote side and the observers hear about it.
func (m *Machine) end(reason domain.EndReason, err error, notify *protocol.Message) {
	m.gen++
	m.stopEstablish()
	m.stopGrace()

	if m.playback != nil {
		m.playback.Stop()
	}
	if m.local != nil {
		m.local.Release()
		m.local = nil
	}
	if m.transport != nil {
		if cerr := m.transport.Close(); cerr != nil {
			log.Warn().Err(cerr).Str("module", "endpoint").Str("room_id", string(m.sess.RoomID)).Msg("transport close")
		}
		m.transport = nil
	}
	m.remote = nil
	m.resetPending()

	if notify != nil {
		m.send(notify)
	}

	m.sess.Phase = domain.PhaseEnded
	m.sess.EndReason = reason
	m.sess.Err = err
	m.sess.EndedAt = m.now()
	m.sess.LocalMedia = nil
	m.sess.RemoteMedia = nil
	m.sess.Muted = false
	m.sess.VideoEnabled = false
	m.sess.SpeakerOn = false

	m.metrics.CallEnded(string(reason))
	ev := log.Info()
	if err != nil && !errors.Is(err, ErrEstablishTimeout) {
		ev = log.Warn().Err(err)
	}
	ev.Str("module", "endpoint").Str("user", string(m.self)).Str("room_id", string(m.sess.RoomID)).
		Str("reason", string(reason)).Msg("call ended")
	m.publish()
}
