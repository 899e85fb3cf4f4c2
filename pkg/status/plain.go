package status

import (
	"context"
	"fmt"
	"io"
	"time"

	"oplstream/pkg/engine"
)

// Plain rewrites one status line in place with carriage returns.
type Plain struct {
	w        io.Writer
	interval time.Duration
}

func NewPlain(w io.Writer, interval time.Duration) *Plain {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Plain{w: w, interval: interval}
}

// Consume draws at most one line per interval until in is closed or ctx is
// done, then draws the last snapshot and ends the line.
func (p *Plain) Consume(ctx context.Context, in <-chan engine.Snapshot) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var latest engine.Snapshot
	seen, dirty := false, false
	finish := func() {
		if seen {
			fmt.Fprintf(p.w, "\r%s\n", Line(latest))
		}
	}
	for {
		select {
		case <-ctx.Done():
			finish()
			return
		case snap, ok := <-in:
			if !ok {
				finish()
				return
			}
			latest, seen, dirty = snap, true, true
		case <-ticker.C:
			if dirty {
				fmt.Fprintf(p.w, "\r%s", Line(latest))
				dirty = false
			}
		}
	}
}
