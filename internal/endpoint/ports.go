package endpoint

import (
	"context"

	"github.com/dkeye/Dialtone/internal/protocol"
)

// Signaler carries messages to the relay. Send must not block on the network.
type Signaler interface {
	Send(ctx context.Context, m *protocol.Message) error
}

type ConnState int

const (
	ConnNew ConnState = iota
	ConnConnecting
	ConnConnected
	ConnDisconnected
	ConnFailed
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnNew:
		return "new"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnDisconnected:
		return "disconnected"
	case ConnFailed:
		return "failed"
	case ConnClosed:
		return "closed"
	}
	return "unknown"
}

type SignalingState int

const (
	SignalingStable SignalingState = iota
	SignalingHaveLocalOffer
	SignalingHaveRemoteOffer
	SignalingClosed
	SignalingOther
)

func (s SignalingState) String() string {
	switch s {
	case SignalingStable:
		return "stable"
	case SignalingHaveLocalOffer:
		return "have-local-offer"
	case SignalingHaveRemoteOffer:
		return "have-remote-offer"
	case SignalingClosed:
		return "closed"
	}
	return "other"
}

// Transport is one peer connection. Callbacks may arrive on any goroutine,
// but never synchronously from inside a Transport method.
type Transport interface {
	AddLocalMedia(LocalMedia) error
	CreateOffer(ctx context.Context) (protocol.Description, error)
	CreateAnswer(ctx context.Context) (protocol.Description, error)
	ApplyRemote(protocol.Description) error
	AddCandidate(protocol.Candidate) error
	SignalingState() SignalingState
	HasRemoteDescription() bool

	OnLocalCandidate(func(protocol.Candidate))
	OnStateChange(func(ConnState))
	OnRemoteTrack(func(RemoteTrack))

	Close() error
}

type TransportFactory interface {
	NewTransport() (Transport, error)
}

type Constraints struct {
	Audio bool
	Video bool
}

// MediaSource acquires capture devices. Acquire may block on a permission
// prompt; it fails with ErrPermissionDenied or ErrMediaUnavailable.
type MediaSource interface {
	Acquire(ctx context.Context, c Constraints) (LocalMedia, error)
}

// LocalMedia is an exclusively owned capture handle.
type LocalMedia interface {
	Tracks() []LocalTrack
	Release()
}

type LocalTrack interface {
	ID() string
	Kind() string
	Enabled() bool
	SetEnabled(bool)
}

type RemoteTrack interface {
	ID() string
	Kind() string
}

// Playback renders remote tracks. SetSpeaker returns an error when output
// selection is not supported.
type Playback interface {
	Attach(RemoteTrack)
	SetSpeaker(on bool) error
	Stop()
}

const (
	KindAudio = "audio"
	KindVideo = "video"
)
