package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"oplstream/pkg/bridge/monitor"
	"oplstream/pkg/config"
	"oplstream/pkg/engine"
	"oplstream/pkg/format"
	"oplstream/pkg/link"
	"oplstream/pkg/logger"
	"oplstream/pkg/player"
	"oplstream/pkg/status"
)

func runPlay(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("play", flag.ContinueOnError)
	fs.SetOutput(stderr)
	lf := addLinkFlags(fs)
	freq := fs.String("freq", "", "IMF rate in Hz or a name from [imf.frequencies]")
	strict := fs.Bool("strict", false, "reject VGM files without a YM3812 clock")
	journal := fs.String("journal", "", "JSONL status journal path")
	monitorOn := fs.Bool("monitor", false, "serve status over websocket")
	statusMode := fs.String("status", "", "status display: auto, tui, plain or off")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "play needs exactly one file")
		printUsage(stderr)
		return 2
	}
	path := fs.Arg(0)

	cfg, err := lf.load()
	if err != nil {
		fmt.Fprintln(stderr, "config:", err)
		return 2
	}
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "strict":
			cfg.VGM.Strict = *strict
		case "journal":
			// Relative to the working directory, not the config file.
			cfg.Journal.Path = *journal
			if abs, err := filepath.Abs(*journal); *journal != "" && err == nil {
				cfg.Journal.Path = abs
			}
		case "monitor":
			cfg.Monitor.Enabled = *monitorOn
		case "status":
			cfg.Status.Mode = strings.ToLower(strings.TrimSpace(*statusMode))
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(stderr, "config:", err)
		return 2
	}

	ext := format.Ext(path)
	opts := format.Options{Frequencies: cfg.FrequencyTable(), StrictVGM: cfg.VGM.Strict}
	if ext == "imf" || ext == "wlf" {
		hz, err := cfg.FrequencyTable().Resolve(*freq, ext)
		if err != nil {
			fmt.Fprintln(stderr, "invalid --freq:", err)
			return 2
		}
		opts.IMFFrequency = hz
	}

	file, err := os.Open(path)
	if err != nil {
		fmt.Fprintln(stderr, "failed to open music file:", err)
		return 1
	}
	defer file.Close()

	stream, err := format.Open(ext, file, opts)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	if c, ok := stream.(io.Closer); ok {
		defer c.Close()
	}

	ctx, stop := interruptContext()
	defer stop()

	s, err := startSession(&cfg, filepath.Base(path), stdout, stderr, stop)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}

	start := time.Now()
	s.mark(start, "start", map[string]any{
		"file":       path,
		"format":     ext,
		"port":       cfg.Link.Port,
		"generation": cfg.Link.Generation,
	})

	var sent int
	l, err := openLink(ctx, &cfg, link.WithPublisher(s.hub))
	if err == nil {
		sent, err = player.Play(ctx, stream, l)
	}

	end := map[string]any{"events": sent, "duration_ms": float64(time.Since(start)) / float64(time.Millisecond)}
	if err != nil {
		end["error"] = err.Error()
	}
	s.finish(time.Now(), end)

	if err != nil {
		return fail(stderr, err)
	}
	return 0
}

// session runs the snapshot hub and everything subscribed to it for one
// playback.
type session struct {
	hub     *engine.Hub
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	journal *logger.JSONLWriter
	file    *os.File
	tui     *status.TUI
	stderr  io.Writer
}

func startSession(cfg *config.Config, title string, stdout io.Writer, stderr io.Writer, interrupt func()) (*session, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{hub: engine.NewHub(), cancel: cancel, stderr: stderr}
	s.goRun(func() { s.hub.Run(ctx) })

	if p := cfg.JournalPath(); p != "" {
		if dir := filepath.Dir(p); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				cancel()
				return nil, fmt.Errorf("create journal directory: %w", err)
			}
		}
		f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("open journal: %w", err)
		}
		s.file = f
		s.journal = logger.NewJSONLWriter(f)
		sub := s.hub.Subscribe()
		s.goRun(func() { s.journal.Consume(context.Background(), sub) })
	}

	if cfg.Monitor.Enabled {
		mcfg := monitor.DefaultConfig()
		mcfg.WSAddr = cfg.Monitor.WSAddr
		mcfg.Interval = cfg.MonitorInterval()
		srv := monitor.NewServer(mcfg, s.hub)
		s.goRun(func() {
			if err := srv.Run(ctx); err != nil {
				fmt.Fprintln(stderr, "monitor:", err)
			}
		})
		fmt.Fprintln(stderr, "monitor listening on ws://"+mcfg.WSAddr)
	}

	out, _ := stdout.(*os.File)
	switch status.Resolve(cfg.Status.Mode, out) {
	case status.ModeTUI:
		s.tui = status.StartTUI(context.Background(), title, s.hub.Subscribe(), os.Stdin, stdout, interrupt)
	case status.ModePlain:
		plain := status.NewPlain(stderr, cfg.MonitorInterval())
		sub := s.hub.Subscribe()
		s.goRun(func() { plain.Consume(context.Background(), sub) })
	}
	return s, nil
}

func (s *session) goRun(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *session) mark(ts time.Time, kind string, fields map[string]any) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Session(ts, kind, fields); err != nil {
		fmt.Fprintln(s.stderr, "journal:", err)
	}
}

// finish stops the hub, waits for subscribers to see the last snapshot and
// closes the journal with an end marker.
func (s *session) finish(ts time.Time, fields map[string]any) {
	s.cancel()
	s.wg.Wait()
	if s.tui != nil {
		if err := s.tui.Wait(); err != nil {
			fmt.Fprintln(s.stderr, "status:", err)
		}
	}
	s.mark(ts, "end", fields)
	if s.file != nil {
		_ = s.file.Close()
	}
}
