package main

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Dialtone/internal/adapters/media"
	"github.com/dkeye/Dialtone/internal/adapters/rtc"
	"github.com/dkeye/Dialtone/internal/domain"
	"github.com/dkeye/Dialtone/internal/endpoint"
	"github.com/dkeye/Dialtone/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopRelay answers every start-call with the reply built by respond.
type loopRelay struct {
	mu      sync.Mutex
	sent    []protocol.Kind
	inbox   chan *protocol.Message
	respond func(*protocol.Message) *protocol.Message
}

func newLoopRelay(respond func(*protocol.Message) *protocol.Message) *loopRelay {
	return &loopRelay{inbox: make(chan *protocol.Message, 8), respond: respond}
}

func (r *loopRelay) Send(_ context.Context, m *protocol.Message) error {
	r.mu.Lock()
	r.sent = append(r.sent, m.Type)
	r.mu.Unlock()
	if m.Type == protocol.KindStartCall && r.respond != nil {
		r.inbox <- r.respond(m)
	}
	return nil
}

func (r *loopRelay) Listen(ctx context.Context, fn func(*protocol.Message)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-r.inbox:
			fn(m)
		}
	}
}

func (r *loopRelay) Close() {}

func (r *loopRelay) kinds() []protocol.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Kind(nil), r.sent...)
}

func newTestPhone(t *testing.T, relay *loopRelay, source endpoint.MediaSource) *phone {
	t.Helper()
	f, err := rtc.NewFactory(rtc.FactoryOptions{LogLevel: zerolog.Disabled})
	require.NoError(t, err)
	earpiece, speaker := &media.CountingSink{Name: "earpiece"}, &media.CountingSink{Name: "speaker"}
	playback := media.NewPlayback(earpiece, speaker)
	p := &phone{
		self:     "alice",
		client:   relay,
		input:    strings.NewReader(""),
		machine:  endpoint.New("alice", relay, source, f, endpoint.WithPlayback(playback)),
		playback: playback,
		speaker:  speaker,
		earpiece: earpiece,
	}
	t.Cleanup(p.close)
	return p
}

func runWithin(t *testing.T, p *phone, opts runOptions) error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.run(ctx, opts) }()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after the call ended")
		return nil
	}
}

func placeCall(p *phone) func(context.Context) error {
	return func(ctx context.Context) error {
		return p.machine.StartCall(ctx, "bob", domain.CallVoice)
	}
}

func TestRun_ExitsWhenCallIsRejectedRightAway(t *testing.T) {
	relay := newLoopRelay(func(m *protocol.Message) *protocol.Message {
		return &protocol.Message{
			Type:       protocol.KindCallRejected,
			RoomID:     m.RoomID,
			CallerID:   m.CallerID,
			ReceiverID: m.ReceiverID,
		}
	})
	p := newTestPhone(t, relay, &media.SyntheticSource{Devices: endpoint.Constraints{Audio: true}})

	err := runWithin(t, p, runOptions{exitOnEnd: true, start: placeCall(p)})
	require.NoError(t, err)

	s := p.machine.Snapshot()
	assert.Equal(t, domain.PhaseEnded, s.Phase)
	assert.Equal(t, domain.EndRejected, s.EndReason)
	assert.Contains(t, relay.kinds(), protocol.KindStartCall)
	assert.NotContains(t, relay.kinds(), protocol.KindEndCall)
}

func TestRun_ReturnsStartFailure(t *testing.T) {
	relay := newLoopRelay(nil)
	p := newTestPhone(t, relay, &media.SyntheticSource{Devices: endpoint.Constraints{Audio: true}, Deny: true})

	err := runWithin(t, p, runOptions{exitOnEnd: true, start: placeCall(p)})
	assert.ErrorIs(t, err, endpoint.ErrPermissionDenied)
	assert.Equal(t, domain.EndMediaFailed, p.machine.Snapshot().EndReason)
	assert.Empty(t, relay.kinds())
}
