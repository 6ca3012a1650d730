package domain

import "fmt"

type CallType string

const (
	CallVoice CallType = "voice"
	CallVideo CallType = "video"
)

func ParseCallType(raw string) (CallType, error) {
	switch CallType(raw) {
	case CallVoice, CallVideo:
		return CallType(raw), nil
	default:
		return "", fmt.Errorf("unknown call type %q", raw)
	}
}

func (t CallType) HasVideo() bool { return t == CallVideo }

type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseOutgoing    Phase = "outgoing"
	PhaseIncoming    Phase = "incoming"
	PhaseNegotiating Phase = "negotiating"
	PhaseConnected   Phase = "connected"
	PhaseEnded       Phase = "ended"
)

// Busy reports whether a new call cannot start in this phase.
func (p Phase) Busy() bool {
	return p != PhaseIdle && p != PhaseEnded
}

type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

type EndReason string

const (
	EndNone              EndReason = ""
	EndLocalHangup       EndReason = "local_hangup"
	EndRemoteHangup      EndReason = "remote_hangup"
	EndRejected          EndReason = "rejected"
	EndTimeout           EndReason = "timeout"
	EndTransportFailed   EndReason = "transport_failed"
	EndNegotiationFailed EndReason = "negotiation_failed"
	EndMediaFailed       EndReason = "media_failed"
	EndSignalingClosed   EndReason = "signaling_closed"
	EndBusy              EndReason = "busy"
)
