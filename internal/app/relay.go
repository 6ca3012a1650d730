package app

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Dialtone/internal/core"
	"github.com/dkeye/Dialtone/internal/domain"
	"github.com/dkeye/Dialtone/internal/metrics"
	"github.com/dkeye/Dialtone/internal/protocol"
	"github.com/rs/zerolog/log"
)

const defaultNotifyTimeout = 10 * time.Second

var (
	ErrUnknownRoom    = errors.New("unknown room")
	ErrNotParticipant = errors.New("sender is not a participant of the room")
	ErrInvalidMessage = errors.New("invalid message")
)

type Outcome string

const (
	OutcomeDelivered    Outcome = "delivered"
	OutcomeOffline      Outcome = "offline"
	OutcomeDropped      Outcome = "dropped"
	OutcomeInvalid      Outcome = "invalid"
	OutcomeBackpressure Outcome = "backpressure"
)

// Relay routes call-control and negotiation messages between two users.
// It keeps who-talks-to-whom per room but never the phase of a call; any
// ordering or legality checks belong to the endpoints.
type Relay struct {
	Registry      *Registry
	Routes        core.RouteTable
	Notifier      core.OfflineNotifier
	Policy        Policy
	Metrics       *metrics.Metrics
	NotifyTimeout time.Duration

	now func() time.Time
}

func (r *Relay) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now()
}

// Connect makes conn the user's live connection and closes the one it replaces.
func (r *Relay) Connect(user domain.UserID, conn core.SignalConnection) {
	r.Metrics.ConnectionOpened()
	if prev := r.Registry.Register(user, conn); prev != nil && prev.ID() != conn.ID() {
		prev.Close()
	}
}

// Disconnect is called when a connection closes. Calls the user was part of
// are ended on the counterpart's side; routes are dropped. Routes bound after
// the connection closed come from a reconnect and are left alone.
func (r *Relay) Disconnect(user domain.UserID, connID core.ConnID) {
	r.Metrics.ConnectionClosed()
	closedAt := r.clock()
	if !r.Registry.Unregister(user, connID) {
		return
	}
	for _, rt := range r.Routes.RemoveUser(user, closedAt) {
		peer, _ := rt.Peer(user)
		msg := &protocol.Message{
			Type:       protocol.KindCallEnded,
			RoomID:     rt.RoomID,
			CallerID:   rt.CallerID,
			ReceiverID: rt.CalleeID,
			Reason:     string(domain.EndSignalingClosed),
		}
		out := r.deliver(peer, msg)
		log.Info().Str("module", "app.relay").Str("user", string(user)).Str("room_id", string(rt.RoomID)).
			Str("peer", string(peer)).Str("outcome", string(out)).Msg("route closed on disconnect")
	}
	r.syncRouteGauge()
}

// Route handles one message sent by an authenticated user.
func (r *Relay) Route(from domain.UserID, m *protocol.Message) Outcome {
	var out Outcome
	switch {
	case m.Type == protocol.KindStartCall:
		out = r.routeStart(from, m)
	case m.Type.IsControl():
		out = r.routeControl(from, m)
	case m.Type.IsNegotiation():
		out = r.routeNegotiation(from, m)
	default:
		out = OutcomeInvalid
	}
	r.Metrics.RelayMessage(string(m.Type), string(out))
	log.Debug().Str("module", "app.relay").Str("from", string(from)).Str("kind", string(m.Type)).
		Str("room_id", string(m.RoomID)).Str("outcome", string(out)).Msg("routed")
	return out
}

// StatusOf answers a presence request.
func (r *Relay) StatusOf(ctx context.Context, user domain.UserID) domain.Presence {
	return r.Registry.StatusOf(ctx, user)
}

func (r *Relay) routeStart(from domain.UserID, m *protocol.Message) Outcome {
	if m.RoomID == "" || m.ReceiverID == "" || m.ReceiverID == from {
		return OutcomeInvalid
	}
	if _, err := domain.ParseCallType(string(m.CallType)); err != nil {
		return OutcomeInvalid
	}
	if !r.Routes.Bind(core.Route{
		RoomID:   m.RoomID,
		CallerID: from,
		CalleeID: m.ReceiverID,
		CallType: m.CallType,
	}) {
		log.Warn().Str("module", "app.relay").Str("from", string(from)).Str("room_id", string(m.RoomID)).Msg("room id already bound to other users")
		return OutcomeInvalid
	}
	r.syncRouteGauge()

	fwd := *m
	fwd.Type = protocol.KindIncomingCall
	fwd.CallerID = from
	return r.deliverOrNotify(m.ReceiverID, &fwd)
}

func (r *Relay) routeControl(from domain.UserID, m *protocol.Message) Outcome {
	if m.RoomID == "" {
		return OutcomeInvalid
	}
	rt, known := r.Routes.Get(m.RoomID)
	var target domain.UserID
	if known {
		peer, ok := rt.Peer(from)
		if !ok {
			log.Warn().Str("module", "app.relay").Str("from", string(from)).Str("room_id", string(m.RoomID)).Err(ErrNotParticipant).Msg("control dropped")
			return OutcomeDropped
		}
		target = peer
	} else {
		target = namedCounterpart(from, m)
	}
	if target == "" {
		return OutcomeInvalid
	}

	fwd := *m
	fwd.Type = protocol.Delivered(m.Type)
	fwd.Offer, fwd.Answer, fwd.Candidate = nil, nil, nil
	if known {
		fwd.CallerID = rt.CallerID
		fwd.ReceiverID = rt.CalleeID
		if fwd.CallType == "" {
			fwd.CallType = rt.CallType
		}
	} else if m.Type == protocol.KindAcceptCall {
		fwd.CallerID = target
		fwd.ReceiverID = from
	}

	if m.Type == protocol.KindRejectCall || m.Type == protocol.KindEndCall {
		r.Routes.Remove(m.RoomID)
		r.syncRouteGauge()
	} else {
		r.Routes.Touch(m.RoomID)
	}
	return r.deliverOrNotify(target, &fwd)
}

func (r *Relay) routeNegotiation(from domain.UserID, m *protocol.Message) Outcome {
	rt, ok := r.Routes.Get(m.RoomID)
	if !ok {
		log.Warn().Str("module", "app.relay").Str("from", string(from)).Str("room_id", string(m.RoomID)).
			Str("kind", string(m.Type)).Err(ErrUnknownRoom).Msg("negotiation dropped")
		return OutcomeDropped
	}
	peer, ok := rt.Peer(from)
	if !ok {
		log.Warn().Str("module", "app.relay").Str("from", string(from)).Str("room_id", string(m.RoomID)).
			Str("kind", string(m.Type)).Err(ErrNotParticipant).Msg("negotiation dropped")
		return OutcomeDropped
	}
	r.Routes.Touch(m.RoomID)

	fwd := protocol.Message{
		Type:      m.Type,
		RoomID:    m.RoomID,
		Offer:     m.Offer,
		Answer:    m.Answer,
		Candidate: m.Candidate,
	}
	out := r.deliver(peer, &fwd)
	if out == OutcomeOffline {
		// Candidates and descriptions are useless out of band.
		return OutcomeDropped
	}
	return out
}

// namedCounterpart picks the other party from the message fields when the
// relay holds no route for the room (e.g. after a restart).
func namedCounterpart(from domain.UserID, m *protocol.Message) domain.UserID {
	if m.ReceiverID != "" && m.ReceiverID != from {
		return m.ReceiverID
	}
	if m.CallerID != "" && m.CallerID != from {
		return m.CallerID
	}
	return ""
}

func (r *Relay) deliverOrNotify(target domain.UserID, m *protocol.Message) Outcome {
	out := r.deliver(target, m)
	if out == OutcomeOffline {
		r.notifyOffline(target, m)
	}
	return out
}

func (r *Relay) deliver(target domain.UserID, m *protocol.Message) Outcome {
	conn, ok := r.Registry.Lookup(target)
	if !ok {
		return OutcomeOffline
	}
	frame, err := protocol.Encode(m)
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Msg("encode")
		return OutcomeInvalid
	}
	if err := conn.TrySend(frame); err != nil {
		r.onBackpressure(target, conn, m.Type, err)
		return OutcomeBackpressure
	}
	return OutcomeDelivered
}

func (r *Relay) onBackpressure(target domain.UserID, conn core.SignalConnection, kind protocol.Kind, err error) {
	action := KickMember
	if r.Policy != nil {
		action = r.Policy.OnBackPressure(kind)
	}
	log.Warn().Err(err).Str("module", "app.relay").Str("to", string(target)).Str("kind", string(kind)).
		Int("action", int(action)).Msg("send failed")
	if action == KickMember {
		conn.Close()
	}
}

func (r *Relay) notifyOffline(target domain.UserID, m *protocol.Message) {
	if r.Notifier == nil {
		r.Metrics.OfflineNotification("skipped")
		return
	}
	timeout := r.NotifyTimeout
	if timeout <= 0 {
		timeout = defaultNotifyTimeout
	}
	s := core.Summary{
		Kind:     string(m.Type),
		RoomID:   m.RoomID,
		CallerID: m.CallerID,
		CallType: m.CallType,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := r.Notifier.Notify(ctx, target, s); err != nil {
			r.Metrics.OfflineNotification("failed")
			log.Warn().Err(err).Str("module", "app.relay").Str("to", string(target)).Str("room_id", string(s.RoomID)).Msg("offline notify")
			return
		}
		r.Metrics.OfflineNotification("sent")
		log.Info().Str("module", "app.relay").Str("to", string(target)).Str("kind", s.Kind).Str("room_id", string(s.RoomID)).Msg("offline notified")
	}()
}

// PruneRoutes drops routes idle longer than ttl.
func (r *Relay) PruneRoutes(ttl time.Duration) int {
	n := r.Routes.Prune(ttl)
	if n > 0 {
		log.Info().Str("module", "app.relay").Int("pruned", n).Msg("idle routes pruned")
		r.syncRouteGauge()
	}
	return n
}

// RunPruner prunes idle routes every interval until ctx is done.
func (r *Relay) RunPruner(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.PruneRoutes(ttl)
		}
	}
}

func (r *Relay) syncRouteGauge() {
	if l, ok := r.Routes.(interface{ Len() int }); ok {
		r.Metrics.SetRoutes(l.Len())
	}
}
