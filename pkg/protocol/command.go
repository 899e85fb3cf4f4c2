package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"oplstream/pkg/format"
)

// Width is the size in bytes of one binary command on the wire.
type Width int

const (
	// Width2 carries {addr, data}. The host realizes every delay.
	Width2 Width = 2
	// Width4 carries {addr, data, ms u16 LE}. The board waits after writing.
	Width4 Width = 4
	// Width5 carries {addr, data, ms i16 BE, sub u8}. A negative ms field
	// asks the board to wait before writing; sub counts 4 µs units.
	Width5 Width = 5
)

const subMillisecondUnit = 4 * time.Microsecond

// ParseWidth validates a configured command width.
func ParseWidth(n int) (Width, error) {
	w := Width(n)
	if !w.Valid() {
		return 0, fmt.Errorf("unsupported command width %d", n)
	}
	return w, nil
}

func (w Width) Valid() bool {
	return w == Width2 || w == Width4 || w == Width5
}

// DeviceTimed reports whether the board realizes delays for this width.
func (w Width) DeviceTimed() bool {
	return w != Width2
}

// Encode appends the wire form of ev to dst.
func (w Width) Encode(dst []byte, ev format.Event) []byte {
	switch w {
	case Width2:
		return append(dst, ev.Addr, ev.Data)
	case Width4:
		return binary.LittleEndian.AppendUint16(append(dst, ev.Addr, ev.Data), saturate(ev.Delay/time.Millisecond, math.MaxUint16))
	case Width5:
		ms := ev.Delay / time.Millisecond
		sub := (ev.Delay % time.Millisecond) / subMillisecondUnit
		if ms > math.MaxInt16 {
			ms, sub = math.MaxInt16, 0
		}
		// A zero ms field cannot carry the pre sign, so a sub-ms pre-delay
		// rounds up to a whole millisecond.
		if ev.Policy == format.DelayPre && ms == 0 && sub > 0 {
			ms, sub = 1, 0
		}
		signed := int16(ms)
		if ev.Policy == format.DelayPre {
			signed = -signed
		}
		dst = binary.BigEndian.AppendUint16(append(dst, ev.Addr, ev.Data), uint16(signed))
		return append(dst, byte(sub))
	default:
		panic(fmt.Sprintf("protocol: encode with invalid width %d", int(w)))
	}
}

// Decode is the inverse of Encode, as the board reads a command. Width2
// commands decode with a zero delay. A Width5 command with a zero ms field
// decodes as a post-delay.
func (w Width) Decode(b []byte) (format.Event, error) {
	if len(b) != int(w) {
		return format.Event{}, fmt.Errorf("command length %d does not match width %d", len(b), int(w))
	}
	ev := format.Event{Addr: b[0], Data: b[1], Policy: format.DelayPost}
	switch w {
	case Width2:
	case Width4:
		ev.Delay = time.Duration(binary.LittleEndian.Uint16(b[2:4])) * time.Millisecond
	case Width5:
		ms := int16(binary.BigEndian.Uint16(b[2:4]))
		if ms < 0 {
			ev.Policy = format.DelayPre
			ms = -ms
		}
		ev.Delay = time.Duration(ms)*time.Millisecond + time.Duration(b[4])*subMillisecondUnit
	default:
		return format.Event{}, fmt.Errorf("unsupported command width %d", int(w))
	}
	return ev, nil
}

// Reset is the silence command: a run of zero bytes of the active width.
func (w Width) Reset() []byte {
	return make([]byte, int(w))
}

// SweepReset writes zero to every register, one command per register. It is
// used with passthrough firmware, which has no dedicated reset.
func (w Width) SweepReset() []byte {
	out := make([]byte, 0, 256*int(w))
	for reg := 0; reg < 256; reg++ {
		out = w.Encode(out, format.Event{Addr: uint8(reg), Policy: format.DelayPost})
	}
	return out
}

func saturate(v time.Duration, max uint64) uint16 {
	if v < 0 {
		return 0
	}
	if uint64(v) > max {
		return uint16(max)
	}
	return uint16(v)
}
