package protocol

import "fmt"

// State is the lifecycle of a link. It only moves forward.
type State uint8

const (
	Disconnected State = iota
	Handshaking
	Ready
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Handshaking:
		return "handshaking"
	case Ready:
		return "ready"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// CanAdvance reports whether a link in state s may move to next. Steps may
// be skipped (a failed handshake goes straight to Closing) but never
// reversed.
func (s State) CanAdvance(next State) bool {
	return next > s && next <= Closed
}

// Suspension names the point at which the send path is blocked.
type Suspension uint8

const (
	Idle Suspension = iota
	AwaitingBanner
	AwaitingAck
	AwaitingCredit
	RealizingDelay
	Transmitting
	Draining
)

func (s Suspension) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingBanner:
		return "awaiting banner"
	case AwaitingAck:
		return "awaiting ack"
	case AwaitingCredit:
		return "awaiting credit"
	case RealizingDelay:
		return "realizing delay"
	case Transmitting:
		return "transmitting"
	case Draining:
		return "draining"
	default:
		return fmt.Sprintf("suspension(%d)", uint8(s))
	}
}
