package format

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

const (
	vgmMagic        = "Vgm "
	vgmSampleRate   = 44100
	vgmVersionField = 0x08
	vgmOffsetField  = 0x34
	vgmClockField   = 0x50
	vgmHeaderBase   = 0x100
	vgmFixedStart   = vgmHeaderBase + 0x40
)

// VGM opcodes handled by the decoder.
const (
	vgmWriteYM3812 = 0x5A
	vgmWaitN       = 0x61
	vgmWait735     = 0x62
	vgmWait882     = 0x63
	vgmEnd         = 0x66
	vgmDataBlock   = 0x67
	vgmWaitShort   = 0x70
)

// Frame waits used by 0x62 and 0x63 (one NTSC and one PAL frame).
const (
	SamplesNTSCFrame = 735
	SamplesPALFrame  = 882
)

// VGMOption configures a VGM decoder.
type VGMOption func(*VGM)

// WithStrictClock makes the decoder refuse files whose header carries no
// YM3812 clock.
func WithStrictClock() VGMOption {
	return func(d *VGM) {
		d.strict = true
	}
}

// VGM decodes Video Game Music logs, producing an event for every YM3812
// write. Waits between writes accumulate and are attached to the next write
// as a pre-delay. Writes for other chips are skipped.
type VGM struct {
	br      *byteReader
	strict  bool
	hdr     []byte
	version uint32
	clock   uint32
	start   int64
	// delay sums the waits since the last write, each floored to µs on its own.
	delay time.Duration
	done    bool
}

// NewVGM reads the header from r and positions the decoder at the start of
// the command stream.
func NewVGM(r io.Reader, opts ...VGMOption) (*VGM, error) {
	d := &VGM{br: newByteReader(r)}
	for _, opt := range opts {
		opt(d)
	}
	if err := d.readHeader(); err != nil {
		return nil, err
	}
	return d, nil
}

// Version returns the raw header version (0x00000150 for 1.50).
func (d *VGM) Version() uint32 {
	return d.version
}

// DataStart returns the file offset of the first command.
func (d *VGM) DataStart() int64 {
	return d.start
}

// Clock returns the YM3812 clock read in strict mode, or zero.
func (d *VGM) Clock() uint32 {
	return d.clock
}

func (d *VGM) ensure(n int) error {
	if len(d.hdr) >= n {
		return nil
	}
	buf := make([]byte, n-len(d.hdr))
	if err := d.br.full(buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return formatErrorf("vgm", d.br.off, "truncated header, need %d bytes", n)
		}
		return fmt.Errorf("vgm: read header: %w", err)
	}
	d.hdr = append(d.hdr, buf...)
	return nil
}

func (d *VGM) u32(off int) uint32 {
	return binary.LittleEndian.Uint32(d.hdr[off : off+4])
}

func (d *VGM) readHeader() error {
	if err := d.ensure(4); err != nil {
		return err
	}
	if string(d.hdr[:4]) != vgmMagic {
		return formatErrorf("vgm", 0, "bad magic %q", d.hdr[:4])
	}
	if err := d.ensure(vgmVersionField + 4); err != nil {
		return err
	}
	d.version = d.u32(vgmVersionField)
	major := (d.version >> 8) & 0xFF
	minor := d.version & 0xFF

	d.start = vgmFixedStart
	if major >= 1 && minor >= 0x50 {
		if err := d.ensure(vgmOffsetField + 4); err != nil {
			return err
		}
		d.start = vgmHeaderBase + int64(d.u32(vgmOffsetField))

		if d.strict {
			if err := d.ensure(vgmClockField + 4); err != nil {
				return err
			}
			d.clock = d.u32(vgmClockField)
			if d.clock == 0 {
				return &DeviceMismatchError{Format: "vgm", Clock: d.clock}
			}
		}
	}

	if err := d.br.skip(d.start - d.br.off); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return formatErrorf("vgm", d.br.off, "data offset 0x%x beyond end of file", d.start)
		}
		return fmt.Errorf("vgm: seek data: %w", err)
	}
	d.hdr = nil
	return nil
}

// vgmPayloadSize returns the operand length of commands for chips other
// than the YM3812, or zero for opcodes the decoder does not know.
func vgmPayloadSize(op byte) int64 {
	switch {
	case op >= 0x30 && op <= 0x3F, op == 0x4F, op == 0x50:
		return 1
	case op >= 0x40 && op <= 0x4E, op >= 0x51 && op <= 0x5F, op >= 0xA0 && op <= 0xBF:
		return 2
	case op >= 0xC0 && op <= 0xDF:
		return 3
	default:
		return 0
	}
}

func (d *VGM) Next() (Event, error) {
	if d.done {
		return Event{}, io.EOF
	}
	for {
		op, err := d.br.ReadByte()
		if err != nil {
			d.done = true
			if errors.Is(err, io.EOF) {
				return Event{}, io.EOF
			}
			return Event{}, fmt.Errorf("vgm: read: %w", err)
		}
		opOff := d.br.off - 1

		switch {
		case op == vgmWriteYM3812:
			var reg [2]byte
			if err := d.br.full(reg[:]); err != nil {
				return d.fail(err, op)
			}
			ev := Event{
				Addr:   reg[0],
				Data:   reg[1],
				Delay:  d.delay,
				Policy: DelayPre,
			}
			d.delay = 0
			return ev, nil

		case op == vgmWaitN:
			var n [2]byte
			if err := d.br.full(n[:]); err != nil {
				return d.fail(err, op)
			}
			d.delay += samplesToDuration(uint64(binary.LittleEndian.Uint16(n[:])))

		case op == vgmWait735:
			d.delay += samplesToDuration(SamplesNTSCFrame)

		case op == vgmWait882:
			d.delay += samplesToDuration(SamplesPALFrame)

		case op&0xF0 == vgmWaitShort:
			d.delay += samplesToDuration(uint64(op&0x0F) + 1)

		case op == vgmEnd:
			d.done = true
			return Event{}, io.EOF

		case op == vgmDataBlock:
			var blk [6]byte
			if err := d.br.full(blk[:]); err != nil {
				return d.fail(err, op)
			}
			if blk[0] != vgmEnd {
				d.done = true
				return Event{}, formatErrorf("vgm", opOff, "invalid data block")
			}
			if err := d.br.skip(int64(binary.LittleEndian.Uint32(blk[2:6]))); err != nil {
				return d.fail(err, op)
			}

		default:
			n := vgmPayloadSize(op)
			if n == 0 {
				d.done = true
				return Event{}, formatErrorf("vgm", opOff, "unrecognized opcode 0x%02x", op)
			}
			if err := d.br.skip(n); err != nil {
				return d.fail(err, op)
			}
		}
	}
}

// fail ends the stream after a read inside a command came up short.
func (d *VGM) fail(err error, op byte) (Event, error) {
	d.done = true
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return Event{}, formatErrorf("vgm", d.br.off, "truncated 0x%02x command", op)
	default:
		return Event{}, fmt.Errorf("vgm: read: %w", err)
	}
}

func samplesToDuration(samples uint64) time.Duration {
	return microseconds(1_000_000 * samples / vgmSampleRate)
}
