package format

import (
	"errors"
	"fmt"
	"io"
	"time"
)

// DelayPolicy says whether an event's delay elapses before or after the
// register write reaches the chip.
type DelayPolicy uint8

const (
	DelayPre DelayPolicy = iota
	DelayPost
)

func (p DelayPolicy) String() string {
	switch p {
	case DelayPre:
		return "pre"
	case DelayPost:
		return "post"
	default:
		return fmt.Sprintf("policy(%d)", uint8(p))
	}
}

// Event is a single register write with the delay attached to it.
type Event struct {
	Addr   uint8
	Data   uint8
	Delay  time.Duration
	Policy DelayPolicy
}

func (e Event) String() string {
	return fmt.Sprintf("%02x=%02x %s %v", e.Addr, e.Data, e.Policy, e.Delay)
}

// Stream produces events in file order. Next returns io.EOF once the stream
// is exhausted; any other error is a decode failure and ends the stream.
type Stream interface {
	Next() (Event, error)
}

// Collect drains a stream into a slice. It is mostly useful for tests and
// for short files.
func Collect(s Stream) ([]Event, error) {
	var out []Event
	for {
		ev, err := s.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, err
		}
		out = append(out, ev)
	}
}

func microseconds(us uint64) time.Duration {
	return time.Duration(us) * time.Microsecond
}
