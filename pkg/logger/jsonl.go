package logger

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"sync"
	"time"

	"oplstream/pkg/engine"
)

// JSONLWriter writes a session journal: one JSON object per line, one line
// per link snapshot, plus start and end markers.
type JSONLWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

type snapshotRecord struct {
	TS          string  `json:"ts"`
	Kind        string  `json:"kind"`
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
	IntendedMS  float64 `json:"intended_ms"`
	ElapsedMS   float64 `json:"elapsed_ms"`
	DriftMS     float64 `json:"drift_ms"`
	LastTxHex   string  `json:"last_tx_hex,omitempty"`
}

type sessionRecord struct {
	TS     string         `json:"ts"`
	Kind   string         `json:"kind"`
	Fields map[string]any `json:"fields,omitempty"`
}

func NewJSONLWriter(w io.Writer) *JSONLWriter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &JSONLWriter{enc: enc}
}

// Consume journals snapshots until in is closed or ctx is done.
func (j *JSONLWriter) Consume(ctx context.Context, in <-chan engine.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-in:
			if !ok {
				return
			}
			_ = j.WriteSnapshot(snap)
		}
	}
}

func (j *JSONLWriter) WriteSnapshot(snap engine.Snapshot) error {
	rec := snapshotRecord{
		TS:          formatTS(snap.Time),
		Kind:        "status",
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
		IntendedMS:  milliseconds(snap.Intended),
		ElapsedMS:   milliseconds(snap.Elapsed),
		DriftMS:     milliseconds(snap.Drift),
		LastTxHex:   hex.EncodeToString(snap.LastTx),
	}
	return j.encode(rec)
}

// Session writes a marker such as "start" or "end" with free-form fields.
func (j *JSONLWriter) Session(ts time.Time, kind string, fields map[string]any) error {
	return j.encode(sessionRecord{TS: formatTS(ts), Kind: kind, Fields: fields})
}

func (j *JSONLWriter) encode(v any) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enc.Encode(v)
}

func formatTS(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
