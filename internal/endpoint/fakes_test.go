package endpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Dialtone/internal/protocol"
)

type fakeSignaler struct {
	mu     sync.Mutex
	sent   []*protocol.Message
	err    error
	onSend func(*protocol.Message)
}

func (s *fakeSignaler) Send(_ context.Context, m *protocol.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	cp := *m
	s.sent = append(s.sent, &cp)
	if s.onSend != nil {
		s.onSend(&cp)
	}
	return nil
}

func (s *fakeSignaler) kinds() []protocol.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Kind, 0, len(s.sent))
	for _, m := range s.sent {
		out = append(out, m.Type)
	}
	return out
}

func (s *fakeSignaler) last() *protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return nil
	}
	return s.sent[len(s.sent)-1]
}

func (s *fakeSignaler) byKind(k protocol.Kind) []*protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*protocol.Message
	for _, m := range s.sent {
		if m.Type == k {
			out = append(out, m)
		}
	}
	return out
}

type fakeTrack struct {
	id, kind string
	mu       sync.Mutex
	enabled  bool
}

func (t *fakeTrack) ID() string   { return t.id }
func (t *fakeTrack) Kind() string { return t.kind }
func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}
func (t *fakeTrack) SetEnabled(v bool) {
	t.mu.Lock()
	t.enabled = v
	t.mu.Unlock()
}

type fakeLocal struct {
	tracks   []LocalTrack
	mu       sync.Mutex
	released bool
}

func (l *fakeLocal) Tracks() []LocalTrack { return l.tracks }
func (l *fakeLocal) Release() {
	l.mu.Lock()
	l.released = true
	l.mu.Unlock()
}
func (l *fakeLocal) isReleased() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.released
}

type fakeMedia struct {
	mu       sync.Mutex
	err      error
	acquired []*fakeLocal
	asked    []Constraints

	// When gate is set, Acquire reports on waiting and blocks until gate
	// is closed, like a pending permission prompt.
	gate    chan struct{}
	waiting chan struct{}
}

func (f *fakeMedia) Acquire(_ context.Context, c Constraints) (LocalMedia, error) {
	if f.gate != nil {
		f.waiting <- struct{}{}
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asked = append(f.asked, c)
	if f.err != nil {
		return nil, f.err
	}
	l := &fakeLocal{}
	if c.Audio {
		l.tracks = append(l.tracks, &fakeTrack{id: "mic", kind: KindAudio})
	}
	if c.Video {
		l.tracks = append(l.tracks, &fakeTrack{id: "cam", kind: KindVideo})
	}
	f.acquired = append(f.acquired, l)
	return l, nil
}

func (f *fakeMedia) last() *fakeLocal {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.acquired) == 0 {
		return nil
	}
	return f.acquired[len(f.acquired)-1]
}

var errNoRemote = errors.New("remote description not set")

// fakeTransport follows the offer/answer signaling states of a peer connection.
type fakeTransport struct {
	mu        sync.Mutex
	name      string
	state     SignalingState
	remoteSet bool
	closed    bool
	applied   []protocol.Candidate
	remotes   []protocol.Description
	local     LocalMedia
	failApply bool

	onCand  func(protocol.Candidate)
	onState func(ConnState)
	onTrack func(RemoteTrack)
}

func (t *fakeTransport) AddLocalMedia(l LocalMedia) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.local = l
	return nil
}

func (t *fakeTransport) CreateOffer(context.Context) (protocol.Description, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != SignalingStable {
		return protocol.Description{}, fmt.Errorf("create offer in %s", t.state)
	}
	t.state = SignalingHaveLocalOffer
	return protocol.Description{Type: "offer", SDP: "offer-" + t.name}, nil
}

func (t *fakeTransport) CreateAnswer(context.Context) (protocol.Description, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != SignalingHaveRemoteOffer {
		return protocol.Description{}, fmt.Errorf("create answer in %s", t.state)
	}
	t.state = SignalingStable
	return protocol.Description{Type: "answer", SDP: "answer-" + t.name}, nil
}

func (t *fakeTransport) ApplyRemote(d protocol.Description) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failApply {
		return errors.New("malformed description")
	}
	switch d.Type {
	case "offer":
		if t.state != SignalingStable {
			return fmt.Errorf("offer in %s", t.state)
		}
		t.state = SignalingHaveRemoteOffer
	case "answer":
		if t.state != SignalingHaveLocalOffer {
			return fmt.Errorf("answer in %s", t.state)
		}
		t.state = SignalingStable
	default:
		return fmt.Errorf("unknown description type %q", d.Type)
	}
	t.remoteSet = true
	t.remotes = append(t.remotes, d)
	return nil
}

func (t *fakeTransport) AddCandidate(c protocol.Candidate) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.remoteSet {
		return errNoRemote
	}
	if c.Candidate == "stale" {
		return errors.New("stale candidate")
	}
	t.applied = append(t.applied, c)
	return nil
}

func (t *fakeTransport) SignalingState() SignalingState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *fakeTransport) HasRemoteDescription() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remoteSet
}

func (t *fakeTransport) OnLocalCandidate(fn func(protocol.Candidate)) { t.onCand = fn }
func (t *fakeTransport) OnStateChange(fn func(ConnState))             { t.onState = fn }
func (t *fakeTransport) OnRemoteTrack(fn func(RemoteTrack))           { t.onTrack = fn }

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.state = SignalingClosed
	return nil
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) appliedCandidates() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.applied))
	for _, c := range t.applied {
		out = append(out, c.Candidate)
	}
	return out
}

func (t *fakeTransport) fireState(s ConnState)              { t.onState(s) }
func (t *fakeTransport) fireCandidate(c protocol.Candidate) { t.onCand(c) }
func (t *fakeTransport) fireTrack(r RemoteTrack)            { t.onTrack(r) }

type fakeFactory struct {
	mu      sync.Mutex
	name    string
	created []*fakeTransport
	prepare func(*fakeTransport)
}

func (f *fakeFactory) NewTransport() (Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTransport{name: f.name}
	if f.prepare != nil {
		f.prepare(t)
	}
	f.created = append(f.created, t)
	return t, nil
}

func (f *fakeFactory) last() *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

type remoteTrack struct{ id, kind string }

func (r remoteTrack) ID() string   { return r.id }
func (r remoteTrack) Kind() string { return r.kind }

type fakePlayback struct {
	mu        sync.Mutex
	attached  []RemoteTrack
	stopped   int
	speakerOK bool
	speaker   bool
}

func (p *fakePlayback) Attach(t RemoteTrack) {
	p.mu.Lock()
	p.attached = append(p.attached, t)
	p.mu.Unlock()
}

func (p *fakePlayback) SetSpeaker(on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.speakerOK {
		return errors.New("output selection unsupported")
	}
	p.speaker = on
	return nil
}

func (p *fakePlayback) Stop() {
	p.mu.Lock()
	p.stopped++
	p.attached = nil
	p.mu.Unlock()
}
