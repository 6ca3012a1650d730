package app

import "github.com/dkeye/Dialtone/internal/protocol"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickMember
)

// Policy decides what happens to a connection whose send buffer is full.
type Policy interface {
	OnBackPressure(kind protocol.Kind) BackpressureAction
}

// SimplePolicy drops presence chatter but disconnects a peer that cannot keep
// up with call signaling; its endpoint will see the socket close and end the call.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(kind protocol.Kind) BackpressureAction {
	if kind == protocol.KindPresence || kind == protocol.KindPong {
		return DropFrame
	}
	return KickMember
}
