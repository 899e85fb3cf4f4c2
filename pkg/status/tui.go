package status

import (
	"context"
	"fmt"
	"io"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"oplstream/pkg/engine"
)

type snapshotMsg engine.Snapshot

type finishedMsg struct{}

// Model is the terminal UI showing the link status for one file.
type Model struct {
	title     string
	snap      engine.Snapshot
	seen      bool
	finished  bool
	interrupt func()
}

// NewModel returns a model titled with the file being played. Interrupt is
// called when the user asks to stop.
func NewModel(title string, interrupt func()) Model {
	return Model{title: title, interrupt: interrupt}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case snapshotMsg:
		m.snap = engine.Snapshot(msg)
		m.seen = true
		return m, nil
	case finishedMsg:
		m.finished = true
		return m, tea.Quit
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if m.interrupt != nil {
				m.interrupt()
			}
			return m, nil
		}
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	fmt.Fprintf(&b, "playing %s\n", m.title)
	if !m.seen {
		b.WriteString("connecting...\n")
	} else {
		b.WriteString(Line(m.snap))
		b.WriteString("\n")
	}
	if !m.finished {
		b.WriteString("q to stop\n")
	}
	return b.String()
}

// Snapshot returns the last snapshot shown.
func (m Model) Snapshot() engine.Snapshot {
	return m.snap
}

// TUI runs the terminal UI fed from a snapshot channel.
type TUI struct {
	prog *tea.Program
	done chan error
}

// StartTUI draws to out until in is closed or ctx is done. Keyboard input
// is read from in.
func StartTUI(ctx context.Context, title string, snaps <-chan engine.Snapshot, input io.Reader, out io.Writer, interrupt func()) *TUI {
	prog := tea.NewProgram(NewModel(title, interrupt),
		tea.WithContext(ctx),
		tea.WithInput(input),
		tea.WithOutput(out),
		tea.WithoutSignalHandler(),
	)
	t := &TUI{prog: prog, done: make(chan error, 1)}
	go func() {
		_, err := prog.Run()
		t.done <- err
	}()
	go func() {
		for snap := range snaps {
			prog.Send(snapshotMsg(snap))
		}
		prog.Send(finishedMsg{})
	}()
	return t
}

// Wait blocks until the UI has exited.
func (t *TUI) Wait() error {
	err := <-t.done
	if err == tea.ErrProgramKilled {
		return nil
	}
	return err
}
