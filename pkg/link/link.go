package link

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"oplstream/pkg/engine"
	"oplstream/pkg/format"
	"oplstream/pkg/protocol"
)

// Config selects the firmware dialect and the diagnostics thresholds.
// Zero values take the generation's defaults.
type Config struct {
	Generation protocol.Generation
	Width      protocol.Width
	// Window is the command capacity assumed for legacy firmware.
	Window int
	Slack  time.Duration
	Warmup time.Duration
	// ResetSweep silences the board by zeroing every register instead of
	// sending the single reset command.
	ResetSweep bool
}

// Link streams register writes to a board over a byte connection. Send and
// Close must be called from a single goroutine.
type Link struct {
	conn   io.ReadWriteCloser
	r      *bufio.Reader
	params protocol.Params
	cfg    Config
	clock  Clock
	pub    engine.Publisher

	outstanding int
	credits     *creditPool
	held        *format.Event
	buf         []byte
	// broken holds the first transport or protocol failure. The board
	// state is unknown after it, so Close skips the drain.
	broken error

	sent     atomic.Uint64
	acked    atomic.Uint64
	overruns atomic.Uint64

	mu         sync.Mutex
	state      protocol.State
	suspension protocol.Suspension
	drift      *DriftTracker
	lastTx     []byte

	closeOnce sync.Once
	closeErr  error
}

type Option func(*Link)

func WithClock(c Clock) Option {
	return func(l *Link) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithPublisher receives a snapshot on every state change.
func WithPublisher(p engine.Publisher) Option {
	return func(l *Link) {
		if p != nil {
			l.pub = p
		}
	}
}

// Open performs the handshake on conn and returns a link ready to stream.
// Cancelling ctx during the handshake closes conn. On failure conn is
// closed.
func Open(ctx context.Context, conn io.ReadWriteCloser, cfg Config, opts ...Option) (*Link, error) {
	if cfg.Width == 0 {
		cfg.Width = cfg.Generation.DefaultWidth()
	}
	if cfg.Window <= 0 {
		cfg.Window = protocol.DefaultWindow
	}
	if cfg.Slack <= 0 {
		cfg.Slack = DefaultSlack
	}
	if cfg.Warmup <= 0 {
		cfg.Warmup = DefaultWarmup
	}

	l := &Link{
		conn:  conn,
		r:     bufio.NewReader(conn),
		cfg:   cfg,
		clock: SystemClock{},
		drift: NewDriftTracker(cfg.Slack, cfg.Warmup),
	}
	for _, opt := range opts {
		opt(l)
	}

	l.advance(protocol.Handshaking, protocol.AwaitingBanner)

	type result struct {
		params protocol.Params
		err    error
	}
	done := make(chan result, 1)
	go func() {
		params, err := protocol.Handshake(l.r, conn, cfg.Generation, cfg.Width, cfg.Window)
		done <- result{params, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		// Not every port unblocks a pending read on close, so the
		// handshake goroutine is left to finish on its own.
		res.err = ctx.Err()
	}
	if res.err != nil {
		l.advance(protocol.Closing, protocol.Idle)
		_ = conn.Close()
		l.advance(protocol.Closed, protocol.Idle)
		return nil, fmt.Errorf("handshake: %w", res.err)
	}

	l.params = res.params
	if l.params.AckModel == protocol.AckCredits {
		l.credits = newCreditPool(l.params.Capacity, l.r, l.onAck, l.owed)
	}
	l.advance(protocol.Ready, protocol.Idle)
	return l, nil
}

// Params returns the parameters negotiated at handshake.
func (l *Link) Params() protocol.Params {
	return l.params
}

// State returns the current lifecycle state.
func (l *Link) State() protocol.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Snapshot returns the current status.
func (l *Link) Snapshot() engine.Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

// Err returns the failure that stopped streaming, if any. A failure seen
// by the credit ack reader is reported here before Send runs into it.
func (l *Link) Err() error {
	if l.broken != nil {
		return l.broken
	}
	if l.credits != nil {
		return l.credits.failure()
	}
	return nil
}

// Send transmits one event, realizing its delay according to the command
// width: the host waits for 2-byte commands, the board waits for 4- and
// 5-byte commands. It blocks while the board has no room.
func (l *Link) Send(ctx context.Context, ev format.Event) error {
	if l.State() != protocol.Ready {
		return ErrClosed
	}
	if l.broken != nil {
		return l.broken
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var err error
	switch {
	case !l.params.Width.DeviceTimed():
		err = l.sendHostTimed(ctx, ev)
	case l.params.Width == protocol.Width4:
		err = l.sendHeld(ctx, ev)
	default:
		err = l.transmit(ctx, ev, preDelay(ev), postDelay(ev))
	}
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		l.broken = err
	}
	return err
}

func (l *Link) sendHostTimed(ctx context.Context, ev format.Event) error {
	if pre := preDelay(ev); pre > 0 {
		if err := l.pause(ctx, pre); err != nil {
			return err
		}
	}
	if err := l.transmit(ctx, ev, preDelay(ev), postDelay(ev)); err != nil {
		return err
	}
	if post := postDelay(ev); post > 0 {
		return l.pause(ctx, post)
	}
	return nil
}

// sendHeld keeps one command back so that a delay owed before the next
// command can be carried in the wait field of the previous one.
func (l *Link) sendHeld(ctx context.Context, ev format.Event) error {
	next := format.Event{Addr: ev.Addr, Data: ev.Data, Policy: format.DelayPost}
	if ev.Policy == format.DelayPost {
		next.Delay = ev.Delay
	}

	if l.held == nil {
		// Nothing to fold a leading delay into.
		if pre := preDelay(ev); pre > 0 {
			if err := l.pause(ctx, pre); err != nil {
				return err
			}
		}
		l.held = &next
		return nil
	}

	prev := *l.held
	prev.Delay += preDelay(ev)
	if err := l.transmit(ctx, prev, 0, prev.Delay); err != nil {
		return err
	}
	l.held = &next
	return nil
}

func (l *Link) flushHeld(ctx context.Context) error {
	if l.held == nil {
		return nil
	}
	prev := *l.held
	l.held = nil
	return l.transmit(ctx, prev, 0, prev.Delay)
}

func (l *Link) pause(ctx context.Context, d time.Duration) error {
	l.suspend(protocol.RealizingDelay)
	defer l.suspend(protocol.Idle)
	return l.clock.Sleep(ctx, d)
}

// transmit writes one command while holding a slot in the board buffer.
func (l *Link) transmit(ctx context.Context, ev format.Event, pre, post time.Duration) error {
	if err := l.reserve(ctx); err != nil {
		return err
	}

	l.buf = l.params.Width.Encode(l.buf[:0], ev)
	l.mu.Lock()
	l.suspension = protocol.Transmitting
	l.drift.Observe(l.clock.Now(), pre, post)
	l.lastTx = append(l.lastTx[:0], l.buf...)
	l.mu.Unlock()

	// Counted before the write so the ack reader never sees the board's
	// answer ahead of the command.
	l.sent.Add(1)
	if _, err := l.conn.Write(l.buf); err != nil {
		l.sent.Add(^uint64(0))
		l.suspend(protocol.Idle)
		return &IOError{Op: "write", Err: err}
	}
	if l.params.AckModel == protocol.AckWindow {
		l.outstanding++
	}
	l.suspend(protocol.Idle)
	return nil
}

// reserve waits until the board can take one more command.
func (l *Link) reserve(ctx context.Context) error {
	switch l.params.AckModel {
	case protocol.AckWindow:
		if l.outstanding < l.params.Capacity {
			return nil
		}
		l.overruns.Add(1)
		for l.outstanding >= l.params.Capacity {
			if err := l.readAck(protocol.AwaitingAck); err != nil {
				return err
			}
		}
		return nil

	case protocol.AckCredits:
		if err := l.credits.failure(); err != nil {
			return err
		}
		if l.credits.tryAcquire() {
			return nil
		}
		l.overruns.Add(1)
		l.suspend(protocol.AwaitingCredit)
		err := l.credits.acquire(ctx)
		l.suspend(protocol.Idle)
		return err

	default:
		return nil
	}
}

// readAck consumes one ack byte in the window model.
func (l *Link) readAck(s protocol.Suspension) error {
	l.suspend(s)
	b, err := l.r.ReadByte()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return &IOError{Op: "read ack", Err: err}
	}
	if b != protocol.Ack {
		return protocol.UnexpectedAck("streaming", b)
	}
	l.outstanding--
	l.onAck()
	return nil
}

func (l *Link) owed() bool {
	return l.acked.Load() < l.sent.Load()
}

func (l *Link) onAck() {
	l.acked.Add(1)
	l.publish()
}

// Close flushes any held command, waits for the board to consume
// everything sent, silences it and closes the connection. After a failed
// Send or a failed drain the board is still silenced and the connection
// closed. Close is idempotent.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.close()
	})
	return l.closeErr
}

func (l *Link) close() error {
	if l.State() != protocol.Ready {
		return nil
	}
	ctx := context.Background()

	var errs []error
	if l.broken == nil {
		if err := l.flushHeld(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush: %w", err))
		}
	}
	l.advance(protocol.Closing, protocol.Draining)
	if l.broken == nil && len(errs) == 0 {
		if err := l.drain(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain: %w", err))
		}
	}

	if l.credits != nil {
		l.credits.stop()
	}
	if _, err := l.conn.Write(l.resetCommand()); err != nil {
		errs = append(errs, fmt.Errorf("reset: %w", &IOError{Op: "write", Err: err}))
	}
	if err := l.conn.Close(); err != nil {
		errs = append(errs, &IOError{Op: "close", Err: err})
	}
	if l.credits != nil {
		_ = l.credits.wait()
	}
	l.advance(protocol.Closed, protocol.Idle)
	return errors.Join(errs...)
}

func (l *Link) drain(ctx context.Context) error {
	switch l.params.AckModel {
	case protocol.AckWindow:
		for l.outstanding > 0 {
			if err := l.readAck(protocol.Draining); err != nil {
				return err
			}
		}
	case protocol.AckCredits:
		return l.credits.drain(ctx)
	}
	return nil
}

func (l *Link) resetCommand() []byte {
	if l.cfg.ResetSweep {
		return l.params.Width.SweepReset()
	}
	return l.params.Width.Reset()
}

func (l *Link) advance(state protocol.State, s protocol.Suspension) {
	l.mu.Lock()
	if l.state.CanAdvance(state) {
		l.state = state
	}
	l.suspension = s
	l.mu.Unlock()
	l.publish()
}

func (l *Link) suspend(s protocol.Suspension) {
	l.mu.Lock()
	changed := l.suspension != s
	l.suspension = s
	l.mu.Unlock()
	if changed {
		l.publish()
	}
}

// publish delivers under the lock so subscribers see snapshots in order.
func (l *Link) publish() {
	if l.pub == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pub.Publish(l.snapshotLocked())
}

func (l *Link) snapshotLocked() engine.Snapshot {
	snap := engine.Snapshot{
		Time:       l.clock.Now(),
		State:      l.state,
		Suspension: l.suspension,
		Model:      l.params.AckModel,
		Width:      l.params.Width,
		Capacity:   l.params.Capacity,
		Sent:       l.sent.Load(),
		Acked:      l.acked.Load(),
		Overruns:   l.overruns.Load(),
		Underflows: l.drift.Underflows(),
		Intended:   l.drift.Intended(),
		Elapsed:    l.drift.Elapsed(),
		LastTx:     append([]byte(nil), l.lastTx...),
	}
	snap.Drift = snap.Elapsed - snap.Intended
	switch l.params.AckModel {
	case protocol.AckWindow:
		snap.Outstanding = int(snap.Sent - snap.Acked)
		snap.Credits = l.params.Capacity - snap.Outstanding
	case protocol.AckCredits:
		snap.Credits = l.credits.available()
		snap.Outstanding = l.params.Capacity - snap.Credits
	}
	return snap
}

func preDelay(ev format.Event) time.Duration {
	if ev.Policy == format.DelayPre {
		return ev.Delay
	}
	return 0
}

func postDelay(ev format.Event) time.Duration {
	if ev.Policy == format.DelayPost {
		return ev.Delay
	}
	return 0
}
