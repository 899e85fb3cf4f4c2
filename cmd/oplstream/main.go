package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"oplstream/pkg/config"
	"oplstream/pkg/link"
	"oplstream/pkg/transport"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return 2
	}

	switch args[0] {
	case "play":
		return runPlay(args[1:], stdout, stderr)
	case "reset":
		return runReset(args[1:], stdout, stderr)
	case "probe":
		return runProbe(args[1:], stdout, stderr)
	case "init":
		return runInit(args[1:], stdout, stderr)
	case "-h", "--help", "help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintln(stderr, "unknown command:", args[0])
		printUsage(stderr)
		return 2
	}
}

// linkFlags are the connection settings shared by every command that talks
// to a board. Values given on the command line replace the config file.
type linkFlags struct {
	fs         *flag.FlagSet
	configPath *string
	port       *string
	baud       *int
	generation *string
	width      *int
	window     *int
	resetSweep *bool
}

func addLinkFlags(fs *flag.FlagSet) *linkFlags {
	return &linkFlags{
		fs:         fs,
		configPath: fs.String("config", config.DefaultConfigPath, "config file path"),
		port:       fs.String("port", "", "serial device, tcp://host:port or mock[:generation]"),
		baud:       fs.Int("baud", 0, "serial baud rate"),
		generation: fs.String("generation", "", "firmware generation: legacy, modern or passthrough"),
		width:      fs.Int("width", 0, "command width in bytes: 2, 4 or 5"),
		window:     fs.Int("window", 0, "commands legacy firmware can hold"),
		resetSweep: fs.Bool("reset-sweep", false, "silence the board by zeroing every register"),
	}
}

// load reads the config file and applies the flags that were set.
func (f *linkFlags) load() (config.Config, error) {
	cfg, _, err := config.LoadOrDefault(*f.configPath)
	if err != nil {
		return config.Config{}, err
	}
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "port":
			cfg.Link.Port = *f.port
		case "baud":
			cfg.Link.Baud = *f.baud
		case "generation":
			cfg.Link.Generation = strings.ToLower(strings.TrimSpace(*f.generation))
		case "width":
			cfg.Link.Width = *f.width
		case "window":
			cfg.Link.Window = *f.window
		case "reset-sweep":
			cfg.Link.ResetSweep = *f.resetSweep
		}
	})
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func linkConfig(cfg *config.Config) link.Config {
	return link.Config{
		Generation: cfg.LinkGeneration(),
		Width:      cfg.LinkWidth(),
		Window:     cfg.Link.Window,
		Slack:      cfg.Slack(),
		Warmup:     cfg.Warmup(),
		ResetSweep: cfg.Link.ResetSweep,
	}
}

func openLink(ctx context.Context, cfg *config.Config, opts ...link.Option) (*link.Link, error) {
	conn, err := transport.Open(ctx, cfg.Link.Port,
		transport.WithBaud(cfg.Link.Baud),
		transport.WithDialTimeout(cfg.DialTimeout()),
		transport.WithWidth(cfg.LinkWidth()),
		transport.WithWindow(cfg.Link.Window),
		transport.WithRealtime(true),
	)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Link.Port, err)
	}
	return link.Open(ctx, conn, linkConfig(cfg), opts...)
}

func runReset(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	fs.SetOutput(stderr)
	lf := addLinkFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, err := lf.load()
	if err != nil {
		fmt.Fprintln(stderr, "config:", err)
		return 2
	}

	ctx, stop := interruptContext()
	defer stop()

	l, err := openLink(ctx, &cfg)
	if err != nil {
		return fail(stderr, err)
	}
	if err := l.Close(); err != nil {
		return fail(stderr, err)
	}
	fmt.Fprintln(stdout, "board reset")
	return 0
}

func runProbe(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("probe", flag.ContinueOnError)
	fs.SetOutput(stderr)
	lf := addLinkFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, err := lf.load()
	if err != nil {
		fmt.Fprintln(stderr, "config:", err)
		return 2
	}

	ctx, stop := interruptContext()
	defer stop()

	l, err := openLink(ctx, &cfg)
	if err != nil {
		return fail(stderr, err)
	}
	p := l.Params()
	fmt.Fprintf(stdout, "generation %s\n", p.Generation)
	fmt.Fprintf(stdout, "width      %d\n", p.Width)
	fmt.Fprintf(stdout, "ack model  %s\n", p.AckModel)
	fmt.Fprintf(stdout, "capacity   %d\n", p.Capacity)
	if err := l.Close(); err != nil {
		return fail(stderr, err)
	}
	return 0
}

func runInit(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("config", config.DefaultConfigPath, "config file path")
	force := fs.Bool("force", false, "overwrite an existing file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if _, err := os.Stat(*path); err == nil && !*force {
		fmt.Fprintln(stderr, "config already exists:", *path)
		return 1
	}
	cfg := config.Default()
	if err := cfg.Save(*path); err != nil {
		fmt.Fprintln(stderr, "write config:", err)
		return 1
	}
	fmt.Fprintln(stdout, "wrote", *path)
	return 0
}

// interruptContext is cancelled by the first interrupt. After that the
// default handler is back, so a second interrupt ends a process stuck
// waiting on the board.
func interruptContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	releaseOnDone(ctx, stop)
	return ctx, stop
}

func releaseOnDone(ctx context.Context, release func()) {
	go func() {
		<-ctx.Done()
		release()
	}()
}

// fail reports err and picks the exit code. An interrupt is not a failure.
func fail(stderr io.Writer, err error) int {
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(stderr, "interrupted")
		return 0
	}
	fmt.Fprintln(stderr, "error:", err)
	return 1
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  oplstream play [flags] file.{imf,wlf,vgm,vgz,dro}")
	fmt.Fprintln(w, "  oplstream reset [flags]")
	fmt.Fprintln(w, "  oplstream probe [flags]")
	fmt.Fprintln(w, "  oplstream init [--config oplstream.toml] [--force]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  play    stream a music file to the board")
	fmt.Fprintln(w, "  reset   silence the board")
	fmt.Fprintln(w, "  probe   run the handshake and print the negotiated link")
	fmt.Fprintln(w, "  init    write a default config file")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Link flags:")
	fmt.Fprintln(w, "  --config path --port target --baud n --generation name --width n --window n --reset-sweep")
	fmt.Fprintln(w, "Play flags:")
	fmt.Fprintln(w, "  --freq hz|name --strict --journal file.jsonl --monitor --status auto|tui|plain|off")
}
