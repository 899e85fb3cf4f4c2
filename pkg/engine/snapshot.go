package engine

import (
	"time"

	"oplstream/pkg/protocol"
)

// Snapshot is the observable status of a link at one instant.
type Snapshot struct {
	Time       time.Time
	State      protocol.State
	Suspension protocol.Suspension
	Model      protocol.AckModel
	Width      protocol.Width
	Capacity   int

	// Outstanding counts commands sent but not yet acknowledged.
	Outstanding int
	// Credits is the number of commands that may be sent without waiting.
	Credits int

	Sent       uint64
	Acked      uint64
	Overruns   uint64
	Underflows uint64

	Intended time.Duration
	Elapsed  time.Duration
	// Drift is Elapsed minus Intended; positive means playback is late.
	Drift time.Duration

	LastTx []byte
}

// Publisher receives snapshots. Implementations must not block.
type Publisher interface {
	Publish(Snapshot)
}
