package format

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

const (
	droMagic      = "DBRAWOPL"
	droHeaderSize = 26
	droHighBank   = 0x80
)

// DRO decodes DOSBox raw OPL captures (version 2.0). Delay codes
// accumulate and are attached to the next register write as a pre-delay.
// Writes to the second chip of a dual-OPL2 or OPL3 capture are skipped.
type DRO struct {
	br        *byteReader
	remaining uint32
	shortCode byte
	longCode  byte
	codemap   []byte
	hardware  byte
	lengthMS  uint32
	pending   time.Duration
	done      bool
}

// NewDRO reads the header and register code map from r.
func NewDRO(r io.Reader) (*DRO, error) {
	d := &DRO{br: newByteReader(r)}
	if err := d.readHeader(); err != nil {
		return nil, err
	}
	return d, nil
}

// Hardware returns the capture's hardware type (0 OPL2, 1 dual OPL2, 2 OPL3).
func (d *DRO) Hardware() byte {
	return d.hardware
}

// Length returns the song length recorded in the header.
func (d *DRO) Length() time.Duration {
	return time.Duration(d.lengthMS) * time.Millisecond
}

func (d *DRO) readHeader() error {
	var hdr [droHeaderSize]byte
	if err := d.br.full(hdr[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return formatErrorf("dro", d.br.off, "truncated header")
		}
		return fmt.Errorf("dro: read header: %w", err)
	}
	if string(hdr[:8]) != droMagic {
		return formatErrorf("dro", 0, "bad magic %q", hdr[:8])
	}
	if major := binary.LittleEndian.Uint16(hdr[8:10]); major != 2 {
		return formatErrorf("dro", 8, "unsupported version %d", major)
	}
	d.remaining = binary.LittleEndian.Uint32(hdr[12:16])
	d.lengthMS = binary.LittleEndian.Uint32(hdr[16:20])
	d.hardware = hdr[20]
	if hdr[21] != 0 {
		return formatErrorf("dro", 21, "unsupported data format %d", hdr[21])
	}
	if hdr[22] != 0 {
		return formatErrorf("dro", 22, "unsupported compression %d", hdr[22])
	}
	d.shortCode = hdr[23]
	d.longCode = hdr[24]

	d.codemap = make([]byte, hdr[25])
	if err := d.br.full(d.codemap); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return formatErrorf("dro", d.br.off, "truncated register code map")
		}
		return fmt.Errorf("dro: read code map: %w", err)
	}
	return nil
}

func (d *DRO) Next() (Event, error) {
	for !d.done {
		if d.remaining == 0 {
			d.done = true
			break
		}
		var pair [2]byte
		if err := d.br.full(pair[:]); err != nil {
			d.done = true
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return Event{}, fmt.Errorf("dro: read: %w", err)
		}
		d.remaining--

		code, value := pair[0], pair[1]
		switch code {
		case d.shortCode:
			d.pending += (time.Duration(value) + 1) * time.Millisecond
			continue
		case d.longCode:
			d.pending += time.Duration((int(value)+1)<<8) * time.Millisecond
			continue
		}

		idx := int(code &^ droHighBank)
		if idx >= len(d.codemap) {
			d.done = true
			return Event{}, formatErrorf("dro", d.br.off-2, "register code 0x%02x outside code map", code)
		}
		if code&droHighBank != 0 {
			continue
		}

		ev := Event{
			Addr:   d.codemap[idx],
			Data:   value,
			Delay:  d.pending,
			Policy: DelayPre,
		}
		d.pending = 0
		return ev, nil
	}
	return Event{}, io.EOF
}
