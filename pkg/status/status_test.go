package status_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"oplstream/pkg/engine"
	"oplstream/pkg/protocol"
	"oplstream/pkg/status"
)

func creditSnapshot() engine.Snapshot {
	return engine.Snapshot{
		State:      protocol.Ready,
		Suspension: protocol.AwaitingCredit,
		Model:      protocol.AckCredits,
		Width:      protocol.Width5,
		Capacity:   51,
		Credits:    0,
		Sent:       1200,
		Acked:      1149,
		Overruns:   7,
		Elapsed:    83 * time.Second,
		Drift:      -1500 * time.Millisecond,
	}
}

func TestLineCreditModel(t *testing.T) {
	line := status.Line(creditSnapshot())
	for _, want := range []string{"ready", "[awaiting credit]", "credits 0/51", "sent 1200 acked 1149", "overruns 7 underflows 0", "1:23", "drift -1500.0ms"} {
		if !strings.Contains(line, want) {
			t.Fatalf("status line %q missing %q", line, want)
		}
	}
}

func TestLinePassthroughOmitsAcks(t *testing.T) {
	line := status.Line(engine.Snapshot{State: protocol.Ready, Model: protocol.AckNone, Sent: 3})
	if strings.Contains(line, "acked") || !strings.Contains(line, "no flow control") {
		t.Fatalf("unexpected passthrough line: %q", line)
	}
	if strings.Contains(line, "[") {
		t.Fatalf("idle suspension should not be shown: %q", line)
	}
}

func TestResolveExplicitMode(t *testing.T) {
	if got := status.Resolve(status.ModePlain, nil); got != status.ModePlain {
		t.Fatalf("unexpected mode: %q", got)
	}
	if got := status.Resolve(status.ModeAuto, nil); got != status.ModeOff {
		t.Fatalf("auto without a terminal should be off, got %q", got)
	}
}

func TestModelInterruptKeys(t *testing.T) {
	for _, key := range []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune{'q'}},
		{Type: tea.KeyEsc},
		{Type: tea.KeyCtrlC},
	} {
		interrupted := false
		var m tea.Model = status.NewModel("intro.vgm", func() { interrupted = true })
		if !strings.Contains(m.View(), "connecting") {
			t.Fatalf("unexpected initial view: %q", m.View())
		}
		m, cmd := m.Update(key)
		if !interrupted {
			t.Fatalf("interrupt not called on %s", key)
		}
		if cmd != nil {
			t.Fatalf("unexpected command after %s", key)
		}
		_ = m
	}
}

func TestTUIRendersUntilChannelCloses(t *testing.T) {
	snaps := make(chan engine.Snapshot, 1)
	snaps <- creditSnapshot()
	close(snaps)

	var out bytes.Buffer
	ui := status.StartTUI(context.Background(), "intro.vgm", snaps, nil, &out, nil)
	if err := ui.Wait(); err != nil {
		t.Fatalf("tui: %v", err)
	}
	if !strings.Contains(out.String(), "credits 0/51") {
		t.Fatalf("snapshot not rendered: %q", out.String())
	}
}

func TestPlainRewritesLine(t *testing.T) {
	var out bytes.Buffer
	p := status.NewPlain(&out, time.Millisecond)

	snaps := make(chan engine.Snapshot, 2)
	snaps <- engine.Snapshot{State: protocol.Ready, Model: protocol.AckWindow, Capacity: 5, Sent: 1}
	snaps <- engine.Snapshot{State: protocol.Closed, Model: protocol.AckWindow, Capacity: 5, Sent: 9, Acked: 9}
	close(snaps)

	p.Consume(context.Background(), snaps)

	text := out.String()
	if !strings.HasPrefix(text, "\r") || !strings.HasSuffix(text, "\n") {
		t.Fatalf("unexpected framing: %q", text)
	}
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\r")
	last := lines[len(lines)-1]
	if !strings.Contains(last, "closed") || !strings.Contains(last, "sent 9 acked 9") {
		t.Fatalf("unexpected final line: %q", last)
	}
}
