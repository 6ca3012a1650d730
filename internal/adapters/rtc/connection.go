package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Dialtone/internal/endpoint"
	"github.com/dkeye/Dialtone/internal/protocol"
	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrNotPionTrack = errors.New("local track is not backed by a pion track")

// PionTrack is implemented by local tracks that can be added to a PeerConnection.
type PionTrack interface {
	TrackLocal() webrtc.TrackLocal
}

// WebRTCConnection adapts a pion PeerConnection to endpoint.Transport.
type WebRTCConnection struct {
	pc     *webrtc.PeerConnection
	id     string
	logger zerolog.Logger
	closed atomic.Bool

	mu          sync.RWMutex
	onCandidate func(protocol.Candidate)
	onState     func(endpoint.ConnState)
	onTrack     func(endpoint.RemoteTrack)
}

func newWebRTCConnection(pc *webrtc.PeerConnection) *WebRTCConnection {
	id := uuid.NewString()
	c := &WebRTCConnection{
		pc:     pc,
		id:     id,
		logger: log.With().Str("module", "rtc").Str("pc", id).Logger(),
	}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.logger.Debug().Str("ice_state", s.String()).Msg("ICE state")
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("peer state")
		if c.closed.Load() {
			return
		}
		c.mu.RLock()
		fn := c.onState
		c.mu.RUnlock()
		if fn != nil {
			fn(mapConnState(s))
		}
	})

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil || c.closed.Load() {
			return
		}
		c.mu.RLock()
		fn := c.onCandidate
		c.mu.RUnlock()
		if fn == nil {
			return
		}
		ci := cand.ToJSON()
		// pion's Close waits for the gatherer, which is the goroutine running this handler.
		go fn(protocol.Candidate{
			Candidate:        ci.Candidate,
			SDPMid:           ci.SDPMid,
			SDPMLineIndex:    ci.SDPMLineIndex,
			UsernameFragment: ci.UsernameFragment,
		})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		if c.closed.Load() {
			return
		}
		c.mu.RLock()
		fn := c.onTrack
		c.mu.RUnlock()
		if fn != nil {
			fn(&RemoteTrack{track: track})
		}
	})

	return c
}

func (c *WebRTCConnection) AddLocalMedia(m endpoint.LocalMedia) error {
	for _, t := range m.Tracks() {
		pt, ok := t.(PionTrack)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotPionTrack, t.ID())
		}
		sender, err := c.pc.AddTrack(pt.TrackLocal())
		if err != nil {
			return fmt.Errorf("add %s track: %w", t.Kind(), err)
		}
		go drainRTCP(sender)
	}
	return nil
}

// drainRTCP reads RTCP so that interceptors keep working; it returns once the sender stops.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (c *WebRTCConnection) CreateOffer(ctx context.Context) (protocol.Description, error) {
	if err := ctx.Err(); err != nil {
		return protocol.Description{}, err
	}
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return protocol.Description{}, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return protocol.Description{}, err
	}
	return toDescription(c.pc.LocalDescription()), nil
}

func (c *WebRTCConnection) CreateAnswer(ctx context.Context) (protocol.Description, error) {
	if err := ctx.Err(); err != nil {
		return protocol.Description{}, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return protocol.Description{}, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return protocol.Description{}, err
	}
	return toDescription(c.pc.LocalDescription()), nil
}

func (c *WebRTCConnection) ApplyRemote(d protocol.Description) error {
	sdpType := webrtc.NewSDPType(d.Type)
	if sdpType == webrtc.SDPTypeUnknown {
		return fmt.Errorf("unknown description type %q", d.Type)
	}
	return c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: sdpType, SDP: d.SDP})
}

func (c *WebRTCConnection) AddCandidate(cand protocol.Candidate) error {
	return c.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        cand.Candidate,
		SDPMid:           cand.SDPMid,
		SDPMLineIndex:    cand.SDPMLineIndex,
		UsernameFragment: cand.UsernameFragment,
	})
}

func (c *WebRTCConnection) SignalingState() endpoint.SignalingState {
	switch c.pc.SignalingState() {
	case webrtc.SignalingStateStable:
		return endpoint.SignalingStable
	case webrtc.SignalingStateHaveLocalOffer:
		return endpoint.SignalingHaveLocalOffer
	case webrtc.SignalingStateHaveRemoteOffer:
		return endpoint.SignalingHaveRemoteOffer
	case webrtc.SignalingStateClosed:
		return endpoint.SignalingClosed
	}
	return endpoint.SignalingOther
}

func (c *WebRTCConnection) HasRemoteDescription() bool {
	return c.pc.RemoteDescription() != nil
}

func (c *WebRTCConnection) OnLocalCandidate(fn func(protocol.Candidate)) {
	c.mu.Lock()
	c.onCandidate = fn
	c.mu.Unlock()
}

func (c *WebRTCConnection) OnStateChange(fn func(endpoint.ConnState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *WebRTCConnection) OnRemoteTrack(fn func(endpoint.RemoteTrack)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

// Close is idempotent. No callback fires once it has been called.
func (c *WebRTCConnection) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	if err := c.pc.Close(); err != nil {
		c.logger.Error().Err(err).Msg("close error")
		return err
	}
	c.logger.Info().Msg("closed")
	return nil
}

func toDescription(sd *webrtc.SessionDescription) protocol.Description {
	if sd == nil {
		return protocol.Description{}
	}
	return protocol.Description{Type: sd.Type.String(), SDP: sd.SDP}
}

func mapConnState(s webrtc.PeerConnectionState) endpoint.ConnState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return endpoint.ConnConnecting
	case webrtc.PeerConnectionStateConnected:
		return endpoint.ConnConnected
	case webrtc.PeerConnectionStateDisconnected:
		return endpoint.ConnDisconnected
	case webrtc.PeerConnectionStateFailed:
		return endpoint.ConnFailed
	case webrtc.PeerConnectionStateClosed:
		return endpoint.ConnClosed
	}
	return endpoint.ConnNew
}

// RemoteTrack is an inbound pion track.
type RemoteTrack struct {
	track *webrtc.TrackRemote
}

func (t *RemoteTrack) ID() string { return t.track.ID() }

func (t *RemoteTrack) Kind() string {
	if t.track.Kind() == webrtc.RTPCodecTypeVideo {
		return endpoint.KindVideo
	}
	return endpoint.KindAudio
}

// ReadRTP feeds the playback pump.
func (t *RemoteTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	return t.track.ReadRTP()
}
