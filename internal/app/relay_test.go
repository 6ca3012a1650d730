package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Dialtone/internal/core"
	"github.com/dkeye/Dialtone/internal/domain"
	"github.com/dkeye/Dialtone/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestRelay(n core.OfflineNotifier) *Relay {
	return &Relay{
		Registry:      NewRegistry(),
		Routes:        NewRouteTable(),
		Notifier:      n,
		Policy:        SimplePolicy{},
		NotifyTimeout: time.Second,
	}
}

func startCall(room domain.RoomID, to domain.UserID) *protocol.Message {
	return &protocol.Message{
		Type:       protocol.KindStartCall,
		RoomID:     room,
		ReceiverID: to,
		CallType:   domain.CallVoice,
		Offer:      &protocol.Description{Type: "offer", SDP: "v=0"},
	}
}

func TestRelay_StartCallDeliversIncoming(t *testing.T) {
	r := newTestRelay(nil)
	alice, bob := newFakeConn("a"), newFakeConn("b")
	r.Connect("alice", alice)
	r.Connect("bob", bob)

	m := startCall("call_1", "bob")
	m.CallerID = "mallory"
	assert.Equal(t, OutcomeDelivered, r.Route("alice", m))

	msgs := bob.messages()
	require.Len(t, msgs, 1)
	got := msgs[0]
	assert.Equal(t, protocol.KindIncomingCall, got.Type)
	assert.Equal(t, domain.UserID("alice"), got.CallerID, "sender identity is stamped by the relay")
	assert.Equal(t, domain.UserID("bob"), got.ReceiverID)
	assert.Equal(t, domain.CallVoice, got.CallType)
	require.NotNil(t, got.Offer)
	assert.Equal(t, "v=0", got.Offer.SDP)
	assert.Empty(t, alice.messages())
}

func TestRelay_OfflineCalleeGoesToNotifier(t *testing.T) {
	n := &mockNotifier{}
	done := make(chan struct{})
	n.On("Notify", mock.Anything, domain.UserID("bob"), mock.MatchedBy(func(s core.Summary) bool {
		return s.Kind == string(protocol.KindIncomingCall) && s.CallerID == "alice" && s.RoomID == "call_1"
	})).Return(nil).Once().Run(func(mock.Arguments) { close(done) })

	r := newTestRelay(n)
	r.Connect("alice", newFakeConn("a"))

	assert.Equal(t, OutcomeOffline, r.Route("alice", startCall("call_1", "bob")))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("notifier not invoked")
	}
	n.AssertExpectations(t)
}

func TestRelay_InvalidStartCall(t *testing.T) {
	r := newTestRelay(nil)
	r.Connect("alice", newFakeConn("a"))

	bad := startCall("call_1", "alice")
	assert.Equal(t, OutcomeInvalid, r.Route("alice", bad))

	noRoom := startCall("", "bob")
	assert.Equal(t, OutcomeInvalid, r.Route("alice", noRoom))

	badType := startCall("call_2", "bob")
	badType.CallType = "hologram"
	assert.Equal(t, OutcomeInvalid, r.Route("alice", badType))
}

func TestRelay_AcceptRejectRouteToCounterpart(t *testing.T) {
	r := newTestRelay(nil)
	alice, bob := newFakeConn("a"), newFakeConn("b")
	r.Connect("alice", alice)
	r.Connect("bob", bob)
	r.Route("alice", startCall("call_1", "bob"))

	assert.Equal(t, OutcomeDelivered, r.Route("bob", &protocol.Message{Type: protocol.KindAcceptCall, RoomID: "call_1"}))
	msgs := alice.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.KindCallAccepted, msgs[0].Type)
	assert.Equal(t, domain.UserID("alice"), msgs[0].CallerID)
	assert.Equal(t, domain.UserID("bob"), msgs[0].ReceiverID)

	assert.Equal(t, OutcomeDelivered, r.Route("bob", &protocol.Message{Type: protocol.KindEndCall, RoomID: "call_1"}))
	assert.Equal(t, protocol.KindCallEnded, alice.messages()[1].Type)
	_, ok := r.Routes.Get("call_1")
	assert.False(t, ok)
}

func TestRelay_ControlWithoutRouteUsesNamedFields(t *testing.T) {
	r := newTestRelay(nil)
	alice := newFakeConn("a")
	r.Connect("alice", alice)
	r.Connect("bob", newFakeConn("b"))

	out := r.Route("bob", &protocol.Message{Type: protocol.KindRejectCall, RoomID: "call_x", CallerID: "alice"})
	assert.Equal(t, OutcomeDelivered, out)
	assert.Equal(t, []protocol.Kind{protocol.KindCallRejected}, alice.kinds())
}

func TestRelay_NegotiationOnlyToPeer(t *testing.T) {
	r := newTestRelay(nil)
	alice, bob, eve := newFakeConn("a"), newFakeConn("b"), newFakeConn("e")
	r.Connect("alice", alice)
	r.Connect("bob", bob)
	r.Connect("eve", eve)
	r.Route("alice", startCall("call_1", "bob"))

	answer := &protocol.Message{Type: protocol.KindAnswer, RoomID: "call_1", Answer: &protocol.Description{Type: "answer", SDP: "v=0"}}
	assert.Equal(t, OutcomeDelivered, r.Route("bob", answer))

	mid := "0"
	cand := &protocol.Message{Type: protocol.KindCandidate, RoomID: "call_1", Candidate: &protocol.Candidate{Candidate: "candidate:1", SDPMid: &mid}}
	assert.Equal(t, OutcomeDelivered, r.Route("alice", cand))

	assert.Equal(t, []protocol.Kind{protocol.KindAnswer}, alice.kinds())
	assert.Equal(t, []protocol.Kind{protocol.KindIncomingCall, protocol.KindCandidate}, bob.kinds())
	assert.Empty(t, eve.messages())
}

func TestRelay_NegotiationFromOutsiderDropped(t *testing.T) {
	r := newTestRelay(nil)
	alice, bob, eve := newFakeConn("a"), newFakeConn("b"), newFakeConn("e")
	r.Connect("alice", alice)
	r.Connect("bob", bob)
	r.Connect("eve", eve)
	r.Route("alice", startCall("call_1", "bob"))

	offer := &protocol.Message{Type: protocol.KindOffer, RoomID: "call_1", Offer: &protocol.Description{Type: "offer", SDP: "x"}}
	assert.Equal(t, OutcomeDropped, r.Route("eve", offer))
	assert.Equal(t, OutcomeDropped, r.Route("alice", &protocol.Message{Type: protocol.KindOffer, RoomID: "nope"}))
	assert.Empty(t, alice.messages())
	assert.Len(t, bob.messages(), 1)
}

func TestRelay_DisconnectEndsCallForPeer(t *testing.T) {
	r := newTestRelay(nil)
	alice, bob := newFakeConn("a"), newFakeConn("b")
	r.Connect("alice", alice)
	r.Connect("bob", bob)
	r.Route("alice", startCall("call_1", "bob"))

	r.Disconnect("alice", alice.ID())

	msgs := bob.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, protocol.KindCallEnded, msgs[1].Type)
	assert.Equal(t, domain.RoomID("call_1"), msgs[1].RoomID)
	assert.Equal(t, string(domain.EndSignalingClosed), msgs[1].Reason)
	_, ok := r.Routes.Get("call_1")
	assert.False(t, ok)
	assert.False(t, r.StatusOf(context.Background(), "alice").Online)
}

func TestRelay_ReconnectClosesPreviousAndIgnoresStaleDisconnect(t *testing.T) {
	r := newTestRelay(nil)
	old, fresh := newFakeConn("1"), newFakeConn("2")
	r.Connect("alice", old)
	r.Connect("alice", fresh)
	assert.True(t, old.isClosed())

	r.Disconnect("alice", old.ID())
	conn, ok := r.Registry.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, fresh.ID(), conn.ID())
}

func TestRelay_DisconnectKeepsCallPlacedAfterReconnect(t *testing.T) {
	var mu sync.Mutex
	tick := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick = tick.Add(time.Millisecond)
		return tick
	}
	routes := NewRouteTable()
	routes.now = clock
	r := newTestRelay(nil)
	r.Routes = routes
	r.now = clock

	old, fresh, bob, carol := newFakeConn("a1"), newFakeConn("a2"), newFakeConn("b"), newFakeConn("c")
	r.Connect("alice", old)
	r.Connect("bob", bob)
	r.Connect("carol", carol)
	r.Route("alice", startCall("call_1", "bob"))

	// alice is back and calling carol before the old connection's cleanup
	// reaches the route table.
	r.Registry.OnPresence(func(p domain.Presence) {
		if p.UserID == "alice" && !p.Online {
			r.Connect("alice", fresh)
			r.Route("alice", startCall("call_2", "carol"))
		}
	})
	r.Disconnect("alice", old.ID())

	_, ok := r.Routes.Get("call_1")
	assert.False(t, ok)
	_, ok = r.Routes.Get("call_2")
	assert.True(t, ok, "route of the new call survives")

	bobMsgs := bob.messages()
	require.Len(t, bobMsgs, 2)
	assert.Equal(t, protocol.KindCallEnded, bobMsgs[1].Type)
	carolMsgs := carol.messages()
	require.Len(t, carolMsgs, 1)
	assert.Equal(t, protocol.KindIncomingCall, carolMsgs[0].Type)
}

func TestRelay_BackpressureKicksOnSignaling(t *testing.T) {
	r := newTestRelay(nil)
	bob := newFakeConn("b")
	bob.sendErr = core.ErrBackpressure
	r.Connect("alice", newFakeConn("a"))
	r.Connect("bob", bob)

	assert.Equal(t, OutcomeBackpressure, r.Route("alice", startCall("call_1", "bob")))
	assert.True(t, bob.isClosed())
}

func TestRelay_PruneRoutes(t *testing.T) {
	r := newTestRelay(nil)
	r.Connect("alice", newFakeConn("a"))
	r.Connect("bob", newFakeConn("b"))
	r.Route("alice", startCall("call_1", "bob"))

	assert.Equal(t, 0, r.PruneRoutes(time.Hour))
	assert.Equal(t, 1, r.PruneRoutes(-time.Second))
}
