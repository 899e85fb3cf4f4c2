package transport

import (
	"context"
	"io"
	"strings"
	"time"

	"oplstream/pkg/protocol"
)

const (
	tcpPrefix  = "tcp://"
	mockPrefix = "mock"
)

type settings struct {
	baud        int
	dialTimeout time.Duration
	width       protocol.Width
	window      int
	realtime    bool
}

type Option func(*settings)

func WithBaud(baud int) Option {
	return func(s *settings) {
		if baud > 0 {
			s.baud = baud
		}
	}
}

func WithDialTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.dialTimeout = d
		}
	}
}

// WithWidth sets the command width the mock firmware decodes.
func WithWidth(w protocol.Width) Option {
	return func(s *settings) {
		if w.Valid() {
			s.width = w
		}
	}
}

// WithWindow sets the command capacity of legacy mock firmware.
func WithWindow(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.window = n
		}
	}
}

// WithRealtime makes mock firmware wait out command delays, like a board.
func WithRealtime(on bool) Option {
	return func(s *settings) {
		s.realtime = on
	}
}

func newSettings(opts []Option) settings {
	s := settings{
		baud:        protocol.DefaultBaud,
		dialTimeout: 5 * time.Second,
		window:      protocol.DefaultWindow,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Open returns a byte stream to the board named by target:
//
//	/dev/ttyUSB0        serial device
//	tcp://host:port     network serial bridge
//	mock[:generation]   in-memory firmware
func Open(ctx context.Context, target string, opts ...Option) (io.ReadWriteCloser, error) {
	s := newSettings(opts)
	switch {
	case strings.HasPrefix(target, tcpPrefix):
		return DialTCP(ctx, strings.TrimPrefix(target, tcpPrefix), opts...)
	case target == mockPrefix || strings.HasPrefix(target, mockPrefix+":"):
		gen, err := protocol.ParseGeneration(strings.TrimPrefix(strings.TrimPrefix(target, mockPrefix), ":"))
		if err != nil {
			return nil, err
		}
		width := s.width
		if width == 0 {
			width = gen.DefaultWidth()
		}
		devOpts := []DeviceOption{WithDeviceWidth(width), WithDeviceWindow(s.window)}
		if s.realtime {
			devOpts = append(devOpts, WithPacing())
		}
		return NewDevice(gen, devOpts...), nil
	default:
		port, err := OpenSerial(target, s.baud)
		if err != nil {
			return nil, err
		}
		return port, nil
	}
}
