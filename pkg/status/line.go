package status

import (
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"oplstream/pkg/engine"
	"oplstream/pkg/protocol"
)

// Line renders a snapshot as a single status line.
func Line(s engine.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-12s", s.State)
	if s.Suspension != protocol.Idle {
		fmt.Fprintf(&b, " [%s]", s.Suspension)
	}
	switch s.Model {
	case protocol.AckWindow:
		fmt.Fprintf(&b, " | window %d/%d", s.Outstanding, s.Capacity)
	case protocol.AckCredits:
		fmt.Fprintf(&b, " | credits %d/%d", s.Credits, s.Capacity)
	default:
		b.WriteString(" | no flow control")
	}
	fmt.Fprintf(&b, " | sent %d", s.Sent)
	if s.Model != protocol.AckNone {
		fmt.Fprintf(&b, " acked %d", s.Acked)
	}
	fmt.Fprintf(&b, " | overruns %d underflows %d", s.Overruns, s.Underflows)
	fmt.Fprintf(&b, " | %s drift %s", clock(s.Elapsed), signed(s.Drift))
	return b.String()
}

func clock(d time.Duration) string {
	d = d.Truncate(time.Second)
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

func signed(d time.Duration) string {
	ms := float64(d) / float64(time.Millisecond)
	return fmt.Sprintf("%+.1fms", ms)
}

// Mode values accepted by Resolve.
const (
	ModeAuto  = "auto"
	ModeTUI   = "tui"
	ModePlain = "plain"
	ModeOff   = "off"
)

// Resolve turns the configured mode into the one to use for out. Auto
// selects the terminal UI on a terminal and nothing otherwise.
func Resolve(mode string, out *os.File) string {
	if mode != ModeAuto {
		return mode
	}
	if out != nil && term.IsTerminal(int(out.Fd())) {
		return ModeTUI
	}
	return ModeOff
}
