package monitor

import (
	"encoding/hex"
	"time"

	"oplstream/pkg/engine"
)

const (
	OpHello  = "hello"
	OpStatus = "status"
	OpPause  = "pause"
	OpResume = "resume"
)

type HelloMsg struct {
	Op        string `json:"op"`
	Name      string `json:"name"`
	SessionID string `json:"sessionId"`
	Interval  string `json:"interval"`
}

type StatusMsg struct {
	Op          string  `json:"op"`
	TS          string  `json:"ts"`
	State       string  `json:"state"`
	Suspension  string  `json:"suspension"`
	Model       string  `json:"model"`
	Width       int     `json:"width"`
	Capacity    int     `json:"capacity"`
	Outstanding int     `json:"outstanding"`
	Credits     int     `json:"credits"`
	Sent        uint64  `json:"sent"`
	Acked       uint64  `json:"acked"`
	Overruns    uint64  `json:"overruns"`
	Underflows  uint64  `json:"underflows"`
	DriftMS     float64 `json:"driftMs"`
	ElapsedMS   float64 `json:"elapsedMs"`
	LastTxHex   string  `json:"lastTxHex,omitempty"`
}

func statusFromSnapshot(snap engine.Snapshot) StatusMsg {
	ts := snap.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return StatusMsg{
		Op:          OpStatus,
		TS:          ts.UTC().Format(time.RFC3339Nano),
		State:       snap.State.String(),
		Suspension:  snap.Suspension.String(),
		Model:       snap.Model.String(),
		Width:       int(snap.Width),
		Capacity:    snap.Capacity,
		Outstanding: snap.Outstanding,
		Credits:     snap.Credits,
		Sent:        snap.Sent,
		Acked:       snap.Acked,
		Overruns:    snap.Overruns,
		Underflows:  snap.Underflows,
		DriftMS:     float64(snap.Drift) / float64(time.Millisecond),
		ElapsedMS:   float64(snap.Elapsed) / float64(time.Millisecond),
		LastTxHex:   hex.EncodeToString(snap.LastTx),
	}
}
