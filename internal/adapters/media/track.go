package media

import (
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

type TrackState int32

const (
	TrackStateLive TrackState = iota
	TrackStateMuted
	TrackStateEnded
)

// Track is a captured local track. Muting keeps the track negotiated but
// stops samples from being written.
type Track struct {
	kind  string
	local *webrtc.TrackLocalStaticSample
	state atomic.Int32 // Zero by default (TrackStateLive)

	frames atomic.Int64
}

func newTrack(kind string, local *webrtc.TrackLocalStaticSample) *Track {
	return &Track{kind: kind, local: local}
}

func (t *Track) ID() string   { return t.local.ID() }
func (t *Track) Kind() string { return t.kind }

func (t *Track) State() TrackState {
	return TrackState(t.state.Load())
}

func (t *Track) Enabled() bool {
	return t.State() == TrackStateLive
}

// SetEnabled has no effect on an ended track.
func (t *Track) SetEnabled(on bool) {
	next := TrackStateMuted
	if on {
		next = TrackStateLive
	}
	for {
		cur := t.state.Load()
		if TrackState(cur) == TrackStateEnded {
			return
		}
		if t.state.CompareAndSwap(cur, int32(next)) {
			return
		}
	}
}

// Frames counts samples written since acquisition.
func (t *Track) Frames() int64 { return t.frames.Load() }

func (t *Track) markEnded() {
	t.state.Store(int32(TrackStateEnded))
}

// TrackLocal lets the rtc adapter add the track to a PeerConnection.
func (t *Track) TrackLocal() webrtc.TrackLocal { return t.local }
