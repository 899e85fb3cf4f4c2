package protocol

import (
	"fmt"
	"strings"
)

// Generation selects the firmware dialect spoken by the board.
type Generation uint8

const (
	// Legacy firmware answers the ready query with a fixed line and holds a
	// small fixed number of commands.
	Legacy Generation = iota
	// Modern firmware answers with its receive buffer size in bytes.
	Modern
	// Passthrough firmware has no handshake and sends no acks; it writes
	// each register as soon as it arrives.
	Passthrough
)

func (g Generation) String() string {
	switch g {
	case Legacy:
		return "legacy"
	case Modern:
		return "modern"
	case Passthrough:
		return "passthrough"
	default:
		return fmt.Sprintf("generation(%d)", uint8(g))
	}
}

// ParseGeneration converts a configuration value to a Generation.
func ParseGeneration(s string) (Generation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "legacy", "":
		return Legacy, nil
	case "modern":
		return Modern, nil
	case "passthrough":
		return Passthrough, nil
	default:
		return 0, fmt.Errorf("unknown link generation %q", s)
	}
}

// DefaultWidth is the command width each generation ships with.
func (g Generation) DefaultWidth() Width {
	switch g {
	case Modern:
		return Width5
	case Passthrough:
		return Width2
	default:
		return Width4
	}
}

// AckModel is the flow control scheme negotiated at handshake.
type AckModel uint8

const (
	AckNone AckModel = iota
	AckWindow
	AckCredits
)

func (m AckModel) String() string {
	switch m {
	case AckNone:
		return "none"
	case AckWindow:
		return "window"
	case AckCredits:
		return "credits"
	default:
		return fmt.Sprintf("ack(%d)", uint8(m))
	}
}

// Params is the result of a handshake. It does not change for the lifetime
// of a connection.
type Params struct {
	Generation Generation
	Width      Width
	AckModel   AckModel
	// Capacity is the number of commands the board can hold unacknowledged.
	Capacity int
}
