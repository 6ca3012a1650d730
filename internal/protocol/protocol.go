// Package protocol defines the JSON messages exchanged between endpoints and the relay.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Dialtone/internal/domain"
)

type Kind string

// Endpoint -> relay.
const (
	KindStartCall  Kind = "start-call"
	KindAcceptCall Kind = "accept-call"
	KindRejectCall Kind = "reject-call"
	KindEndCall    Kind = "end-call"
)

// Relay -> endpoint.
const (
	KindIncomingCall Kind = "incoming-call"
	KindCallAccepted Kind = "call-accepted"
	KindCallRejected Kind = "call-rejected"
	KindCallEnded    Kind = "call-ended"
)

// Negotiation kinds travel unchanged in both directions.
const (
	KindOffer     Kind = "offer"
	KindAnswer    Kind = "answer"
	KindCandidate Kind = "ice-candidate"
)

const (
	KindPresence Kind = "presence"
	KindPing     Kind = "ping"
	KindPong     Kind = "pong"
	KindError    Kind = "error"
)

var ErrMissingType = errors.New("message type missing")

// Delivered maps an endpoint-issued call-control kind to the kind the
// counterpart receives. Other kinds are forwarded unchanged.
func Delivered(k Kind) Kind {
	switch k {
	case KindStartCall:
		return KindIncomingCall
	case KindAcceptCall:
		return KindCallAccepted
	case KindRejectCall:
		return KindCallRejected
	case KindEndCall:
		return KindCallEnded
	default:
		return k
	}
}

func (k Kind) IsControl() bool {
	switch k {
	case KindStartCall, KindAcceptCall, KindRejectCall, KindEndCall:
		return true
	}
	return false
}

func (k Kind) IsNegotiation() bool {
	return k == KindOffer || k == KindAnswer || k == KindCandidate
}

// Description is an SDP blob with its type ("offer" / "answer").
type Description struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// Message is the single envelope for every kind; unused fields stay empty.
type Message struct {
	Type       Kind            `json:"type"`
	RoomID     domain.RoomID   `json:"roomId,omitempty"`
	CallerID   domain.UserID   `json:"callerId,omitempty"`
	ReceiverID domain.UserID   `json:"receiverId,omitempty"`
	CallType   domain.CallType `json:"callType,omitempty"`

	Offer     *Description `json:"offer,omitempty"`
	Answer    *Description `json:"answer,omitempty"`
	Candidate *Candidate   `json:"candidate,omitempty"`

	UserID     domain.UserID `json:"userId,omitempty"`
	Online     *bool         `json:"online,omitempty"`
	LastSeenAt *time.Time    `json:"lastSeenAt,omitempty"`

	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
}

func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if m.Type == "" {
		return nil, ErrMissingType
	}
	return &m, nil
}

func Encode(m *Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return b, nil
}

// PresenceMessage builds a presence event or response.
func PresenceMessage(p domain.Presence) *Message {
	online := p.Online
	m := &Message{Type: KindPresence, UserID: p.UserID, Online: &online}
	if !p.LastSeenAt.IsZero() {
		ts := p.LastSeenAt
		m.LastSeenAt = &ts
	}
	return m
}

func ErrorMessage(reason string) *Message {
	return &Message{Type: KindError, Error: reason}
}
