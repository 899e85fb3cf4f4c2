package link

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"oplstream/pkg/protocol"
)

// creditPool hands out one credit per command the board can hold. A
// background task returns a credit for every ack byte received.
type creditPool struct {
	tokens  chan struct{}
	group   *errgroup.Group
	failed  context.Context
	closing atomic.Bool

	mu  sync.Mutex
	err error

	onAck func()
	// owed reports whether the board still owes an ack for a sent command.
	owed func() bool
}

func newCreditPool(capacity int, r *bufio.Reader, onAck func(), owed func() bool) *creditPool {
	group, failed := errgroup.WithContext(context.Background())
	p := &creditPool{
		tokens: make(chan struct{}, capacity),
		group:  group,
		failed: failed,
		onAck:  onAck,
		owed:   owed,
	}
	for i := 0; i < capacity; i++ {
		p.tokens <- struct{}{}
	}
	group.Go(func() error {
		return p.readAcks(r)
	})
	return p
}

// available is the number of credits not held by the sender.
func (p *creditPool) available() int {
	return len(p.tokens)
}

// tryAcquire takes a credit if one is free.
func (p *creditPool) tryAcquire() bool {
	select {
	case <-p.tokens:
		return true
	default:
		return false
	}
}

// acquire blocks for a credit, ctx, or a failure of the ack reader.
func (p *creditPool) acquire(ctx context.Context) error {
	select {
	case <-p.tokens:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.failed.Done():
		return p.readErr()
	}
}

func (p *creditPool) release() {
	select {
	case p.tokens <- struct{}{}:
	default:
	}
}

// drain waits until every credit is back, then returns them all.
func (p *creditPool) drain(ctx context.Context) error {
	capacity := cap(p.tokens)
	held := 0
	defer func() {
		for i := 0; i < held; i++ {
			p.release()
		}
	}()
	for held < capacity {
		if err := p.acquire(ctx); err != nil {
			return err
		}
		held++
	}
	return nil
}

// stop tells the reader that the connection is going away. Bytes and
// errors seen from here on are not failures.
func (p *creditPool) stop() {
	p.closing.Store(true)
}

// wait returns once the ack reader has exited.
func (p *creditPool) wait() error {
	return p.group.Wait()
}

func (p *creditPool) readAcks(r *bufio.Reader) error {
	for {
		b, err := r.ReadByte()
		if p.closing.Load() {
			if err != nil {
				return nil
			}
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return p.fail(&IOError{Op: "read ack", Err: err})
		}
		if b != protocol.Ack {
			return p.fail(protocol.UnexpectedAck("streaming", b))
		}
		if p.owed != nil && !p.owed() {
			return p.fail(&protocol.ProtocolError{Stage: "streaming", Want: "no ack with nothing outstanding", Got: string([]byte{b})})
		}
		select {
		case p.tokens <- struct{}{}:
		default:
			return p.fail(&protocol.ProtocolError{Stage: "streaming", Want: "no ack with every credit returned", Got: string([]byte{b})})
		}
		if p.onAck != nil {
			p.onAck()
		}
	}
}

func (p *creditPool) fail(err error) error {
	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.mu.Unlock()
	return err
}

// failure returns the error that stopped the ack reader, if any.
func (p *creditPool) failure() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *creditPool) readErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err == nil {
		return ErrClosed
	}
	return p.err
}
