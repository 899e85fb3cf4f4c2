package transport

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"oplstream/pkg/format"
	"oplstream/pkg/protocol"
)

// Device emulates board firmware in memory. The host side of the
// connection is the Device itself: bytes written to it are consumed by the
// firmware goroutine and replies are read back from it.
type Device struct {
	gen         protocol.Generation
	width       protocol.Width
	window      int
	bufferBytes int
	banner      string
	ready       string
	ack         byte
	pacing      bool
	manualAck   bool

	toHost   *byteQueue
	fromHost *byteQueue
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once

	mu         sync.Mutex
	commands   []format.Event
	raw        []byte
	pending    int
	maxPending int
	overflow   bool
	query      string
	err        error
}

type DeviceOption func(*Device)

func WithDeviceWidth(w protocol.Width) DeviceOption {
	return func(d *Device) {
		if w.Valid() {
			d.width = w
		}
	}
}

// WithDeviceWindow sets how many commands legacy firmware can hold.
func WithDeviceWindow(n int) DeviceOption {
	return func(d *Device) {
		if n > 0 {
			d.window = n
		}
	}
}

// WithBufferBytes sets the receive buffer size reported by modern firmware.
func WithBufferBytes(n int) DeviceOption {
	return func(d *Device) {
		d.bufferBytes = n
	}
}

// WithBanner replaces the greeting line, including any boot noise.
func WithBanner(s string) DeviceOption {
	return func(d *Device) {
		d.banner = s
	}
}

// WithReadyLine replaces the reply to the ready query.
func WithReadyLine(s string) DeviceOption {
	return func(d *Device) {
		d.ready = s
	}
}

// WithAckByte replaces the byte sent after each command.
func WithAckByte(b byte) DeviceOption {
	return func(d *Device) {
		d.ack = b
	}
}

// WithPacing makes the firmware wait out each command delay before acking.
func WithPacing() DeviceOption {
	return func(d *Device) {
		d.pacing = true
	}
}

// WithManualAck stops the firmware from acking on its own. Acks are then
// sent with Acknowledge.
func WithManualAck() DeviceOption {
	return func(d *Device) {
		d.manualAck = true
	}
}

// NewDevice starts firmware of generation gen.
func NewDevice(gen protocol.Generation, opts ...DeviceOption) *Device {
	d := &Device{
		gen:         gen,
		width:       gen.DefaultWidth(),
		window:      protocol.DefaultWindow,
		bufferBytes: 256,
		banner:      protocol.Banner,
		ack:         protocol.Ack,
		toHost:      newByteQueue(),
		fromHost:    newByteQueue(),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.ready == "" {
		d.ready = protocol.ReadyResponse
		if gen == protocol.Modern {
			d.ready = strconv.Itoa(d.bufferBytes)
		}
	}
	go d.run()
	return d
}

// Read returns bytes sent by the firmware.
func (d *Device) Read(p []byte) (int, error) {
	return d.toHost.read(p)
}

// Write hands bytes to the firmware.
func (d *Device) Write(p []byte) (int, error) {
	d.mu.Lock()
	counted := d.handshaken()
	if counted {
		d.pending += len(p)
		if d.pending > d.maxPending {
			d.maxPending = d.pending
		}
		if limit := d.capacityBytes(); limit > 0 && d.pending > limit {
			d.overflow = true
		}
	}
	d.mu.Unlock()

	n, err := d.fromHost.write(p)
	if err != nil && counted {
		d.mu.Lock()
		d.pending -= len(p) - n
		d.mu.Unlock()
	}
	return n, err
}

// Close disconnects the host. Commands already written are still decoded;
// Close returns once the firmware has consumed them.
func (d *Device) Close() error {
	d.once.Do(func() {
		d.fromHost.close()
		d.toHost.close()
		close(d.stop)
	})
	<-d.done
	return nil
}

// Acknowledge sends n ack bytes to the host.
func (d *Device) Acknowledge(n int) {
	for i := 0; i < n; i++ {
		_, _ = d.toHost.write([]byte{d.ack})
	}
}

// Send writes arbitrary bytes to the host.
func (d *Device) Send(p []byte) {
	_, _ = d.toHost.write(p)
}

// Received returns how many commands the firmware has decoded so far.
func (d *Device) Received() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.commands)
}

// Commands returns every command the firmware decoded, in arrival order.
func (d *Device) Commands() []format.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]format.Event(nil), d.commands...)
}

// Raw returns every command byte received after the handshake.
func (d *Device) Raw() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.raw...)
}

// Overflowed reports whether the host ever sent more than the firmware
// could hold.
func (d *Device) Overflowed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.overflow
}

// MaxPending returns the largest number of commands ever waiting to be
// decoded.
func (d *Device) MaxPending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxPending / int(d.width)
}

// Query returns the ready query line the host sent.
func (d *Device) Query() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.query
}

// Err returns the error that stopped the firmware, if any.
func (d *Device) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

func (d *Device) handshaken() bool {
	return d.gen == protocol.Passthrough || d.query != ""
}

func (d *Device) capacityBytes() int {
	switch d.gen {
	case protocol.Legacy:
		return d.window * int(d.width)
	case protocol.Modern:
		return d.bufferBytes
	default:
		return 0
	}
}

func (d *Device) run() {
	defer close(d.done)
	in := bufio.NewReader(queueReader{d.fromHost})

	if d.gen != protocol.Passthrough {
		_, _ = d.toHost.write([]byte(d.banner + "\n"))
		line, err := in.ReadString('\n')
		if err != nil {
			d.fail(err)
			return
		}
		d.mu.Lock()
		d.query = strings.TrimRight(line, "\r\n")
		d.mu.Unlock()
		if strings.HasSuffix(d.query, protocol.ReadyQuery) {
			_, _ = d.toHost.write([]byte(d.ready + "\n"))
		}
	}

	buf := make([]byte, int(d.width))
	for {
		if _, err := io.ReadFull(in, buf); err != nil {
			if err != io.EOF {
				d.fail(err)
			}
			return
		}
		ev, err := d.width.Decode(buf)
		if err != nil {
			d.fail(err)
			return
		}
		d.mu.Lock()
		d.pending -= len(buf)
		d.commands = append(d.commands, ev)
		d.raw = append(d.raw, buf...)
		d.mu.Unlock()

		if d.pacing && d.width.DeviceTimed() {
			d.wait(ev.Delay)
		}
		if d.gen != protocol.Passthrough && !d.manualAck {
			_, _ = d.toHost.write([]byte{d.ack})
		}
	}
}

func (d *Device) wait(delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-d.stop:
	}
}

func (d *Device) fail(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

// byteQueue is an unbounded byte pipe. Writes never block, so the host and
// the firmware can both write while the other side is busy.
type byteQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	closed bool
}

func newByteQueue() *byteQueue {
	q := &byteQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *byteQueue) write(p []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, io.ErrClosedPipe
	}
	q.buf = append(q.buf, p...)
	q.cond.Broadcast()
	return len(p), nil
}

// read blocks until data is available. After close, remaining data is
// still returned before io.EOF.
func (q *byteQueue) read(p []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.buf) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.buf) == 0 {
		return 0, io.EOF
	}
	n := copy(p, q.buf)
	q.buf = q.buf[n:]
	return n, nil
}

func (q *byteQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

type queueReader struct {
	q *byteQueue
}

func (r queueReader) Read(p []byte) (int, error) {
	return r.q.read(p)
}
