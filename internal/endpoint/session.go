package endpoint

import (
	"time"

	"github.com/dkeye/Dialtone/internal/domain"
)

type TrackInfo struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Enabled bool   `json:"enabled"`
}

// CallSession is the observable state of one call. Values handed out by the
// machine are copies.
type CallSession struct {
	RoomID    domain.RoomID    `json:"roomId,omitempty"`
	CallerID  domain.UserID    `json:"callerId,omitempty"`
	CalleeID  domain.UserID    `json:"calleeId,omitempty"`
	CallType  domain.CallType  `json:"callType,omitempty"`
	Direction domain.Direction `json:"direction,omitempty"`
	Phase     domain.Phase     `json:"phase"`

	LocalMedia  []TrackInfo `json:"localMedia,omitempty"`
	RemoteMedia []TrackInfo `json:"remoteMedia,omitempty"`

	Muted        bool `json:"muted"`
	VideoEnabled bool `json:"videoEnabled"`
	SpeakerOn    bool `json:"speakerOn"`

	EndReason domain.EndReason `json:"endReason,omitempty"`
	Err       error            `json:"-"`

	StartedAt   time.Time `json:"startedAt,omitzero"`
	ConnectedAt time.Time `json:"connectedAt,omitzero"`
	EndedAt     time.Time `json:"endedAt,omitzero"`
}

// Peer returns the other party of the call.
func (s CallSession) Peer() domain.UserID {
	if s.Direction == domain.DirectionOutgoing {
		return s.CalleeID
	}
	return s.CallerID
}

func (s CallSession) clone() CallSession {
	c := s
	c.LocalMedia = append([]TrackInfo(nil), s.LocalMedia...)
	c.RemoteMedia = append([]TrackInfo(nil), s.RemoteMedia...)
	return c
}
