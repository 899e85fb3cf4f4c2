package format

import (
	"encoding/binary"
	"fmt"
	"io"
)

const imfRecordSize = 4

// IMF decodes id Software music files. The file carries no timing base, so
// the caller supplies the playback rate in Hz.
//
// A non-zero leading length gives the size of the command area in bytes. A
// zero length marks a headerless file: the next two bytes are skipped and
// records are read until the data runs out.
type IMF struct {
	br        *byteReader
	hz        uint64
	remaining int64
	headerOK  bool
	done      bool
}

// NewIMF returns a decoder reading from r at the given playback rate.
func NewIMF(r io.Reader, hz int) (*IMF, error) {
	if hz <= 0 {
		return nil, fmt.Errorf("imf frequency must be positive: %d", hz)
	}
	return &IMF{br: newByteReader(r), hz: uint64(hz)}, nil
}

// Frequency returns the playback rate in Hz.
func (d *IMF) Frequency() int {
	return int(d.hz)
}

func (d *IMF) header() error {
	var hdr [2]byte
	if err := d.br.full(hdr[:]); err != nil {
		return err
	}
	length := binary.LittleEndian.Uint16(hdr[:])
	if length == 0 {
		d.remaining = -1
		return d.br.skip(2)
	}
	d.remaining = int64(length / imfRecordSize)
	return nil
}

func (d *IMF) Next() (Event, error) {
	if d.done {
		return Event{}, io.EOF
	}
	if !d.headerOK {
		if err := d.header(); err != nil {
			return d.end(err)
		}
		d.headerOK = true
	}
	if d.remaining == 0 {
		return d.end(io.EOF)
	}

	var rec [imfRecordSize]byte
	if err := d.br.full(rec[:]); err != nil {
		return d.end(err)
	}
	if d.remaining > 0 {
		d.remaining--
	}

	cycles := uint64(binary.LittleEndian.Uint16(rec[2:4]))
	return Event{
		Addr:   rec[0],
		Data:   rec[1],
		Delay:  microseconds(1_000_000 * cycles / d.hz),
		Policy: DelayPost,
	}, nil
}

// end finishes the stream. Running out of data, even part way through a
// record, is a normal end for IMF.
func (d *IMF) end(err error) (Event, error) {
	d.done = true
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return Event{}, io.EOF
	}
	return Event{}, fmt.Errorf("imf: read: %w", err)
}
