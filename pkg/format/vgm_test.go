package format_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"oplstream/pkg/format"
)

// vgmFile builds a VGM image. Versions from 1.50 place the commands at
// 0x100+dataOffset and store dataOffset at 0x34; older versions place them
// at 0x140.
func vgmFile(version uint32, dataOffset uint32, clock uint32, cmds []byte) []byte {
	start := 0x140
	if (version>>8)&0xFF >= 1 && version&0xFF >= 0x50 {
		start = 0x100 + int(dataOffset)
	}
	out := make([]byte, start)
	copy(out, "Vgm ")
	binary.LittleEndian.PutUint32(out[0x08:], version)
	binary.LittleEndian.PutUint32(out[0x34:], dataOffset)
	binary.LittleEndian.PutUint32(out[0x50:], clock)
	return append(out, cmds...)
}

func decodeVGM(t *testing.T, data []byte, opts ...format.VGMOption) []format.Event {
	t.Helper()
	dec, err := format.NewVGM(bytes.NewReader(data), opts...)
	if err != nil {
		t.Fatalf("new vgm: %v", err)
	}
	events, err := format.Collect(dec)
	if err != nil {
		t.Fatalf("decode vgm: %v", err)
	}
	return events
}

func TestVGMDataOffsetFromHeader(t *testing.T) {
	data := vgmFile(0x00000150, 0x0C, 3579545, []byte{0x5A, 0x01, 0x02, 0x66})
	dec, err := format.NewVGM(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("new vgm: %v", err)
	}
	if dec.DataStart() != 0x10C {
		t.Fatalf("unexpected data start: 0x%x", dec.DataStart())
	}
	ev, err := dec.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if ev.Addr != 0x01 || ev.Data != 0x02 {
		t.Fatalf("unexpected event: %v", ev)
	}
}

func TestVGMFixedStartForOldVersions(t *testing.T) {
	// A bogus offset at 0x34 must be ignored for 1.00 files.
	data := vgmFile(0x00000100, 0xFFFF, 0, []byte{0x5A, 0x03, 0x04, 0x66})
	dec, err := format.NewVGM(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("new vgm: %v", err)
	}
	if dec.DataStart() != 0x140 {
		t.Fatalf("unexpected data start: 0x%x", dec.DataStart())
	}
	events, err := format.Collect(dec)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 1 || events[0].Addr != 0x03 {
		t.Fatalf("unexpected events: %v", events)
	}
}

func TestVGMFrameWaitsMatchExplicitWaits(t *testing.T) {
	short := decodeVGM(t, vgmFile(0x150, 0, 1, []byte{
		0x62, 0x5A, 0x01, 0x00,
		0x63, 0x5A, 0x02, 0x00,
		0x66,
	}))
	long := decodeVGM(t, vgmFile(0x150, 0, 1, []byte{
		0x61, 0xDF, 0x02, 0x5A, 0x01, 0x00,
		0x61, 0x72, 0x03, 0x5A, 0x02, 0x00,
		0x66,
	}))
	if diff := cmp.Diff(long, short); diff != "" {
		t.Fatalf("frame waits differ from explicit waits (-explicit +frame):\n%s", diff)
	}
	if short[0].Delay != 16666*time.Microsecond {
		t.Fatalf("unexpected 735-sample delay: %v", short[0].Delay)
	}
	if short[1].Delay != 20*time.Millisecond {
		t.Fatalf("unexpected 882-sample delay: %v", short[1].Delay)
	}
}

func TestVGMAccumulatesAndResetsDelay(t *testing.T) {
	got := decodeVGM(t, vgmFile(0x150, 0, 1, []byte{
		0x5A, 0xBD, 0x20,
		0x70, 0x7F, 0x61, 0x10, 0x00,
		0x5A, 0xA0, 0x41,
		0x5A, 0xB0, 0x32,
		0x66,
		0x5A, 0xFF, 0xFF,
	}))
	want := []format.Event{
		{Addr: 0xBD, Data: 0x20, Delay: 0, Policy: format.DelayPre},
		// 22 + 362 + 362 µs: 1, 16 and 16 samples floored one wait at a time
		{Addr: 0xA0, Data: 0x41, Delay: 746 * time.Microsecond, Policy: format.DelayPre},
		{Addr: 0xB0, Data: 0x32, Delay: 0, Policy: format.DelayPre},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected events (-want +got):\n%s", diff)
	}
}

func TestVGMFloorsEachWait(t *testing.T) {
	got := decodeVGM(t, vgmFile(0x150, 0, 1, []byte{
		0x70, 0x70, 0x5A, 0x20, 0x01,
		0x70, 0x70, 0x70, 0x5A, 0x20, 0x02,
		0x66,
	}))
	// One sample is 22.67 µs. Summed first, two and three samples would
	// give 45 µs and 68 µs.
	want := []format.Event{
		{Addr: 0x20, Data: 0x01, Delay: 44 * time.Microsecond, Policy: format.DelayPre},
		{Addr: 0x20, Data: 0x02, Delay: 66 * time.Microsecond, Policy: format.DelayPre},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected events (-want +got):\n%s", diff)
	}
}

func TestVGMSkipsOtherChips(t *testing.T) {
	got := decodeVGM(t, vgmFile(0x150, 0, 1, []byte{
		0x50, 0x9F,
		0x4F, 0xFF,
		0x52, 0x28, 0xF0,
		0xAA, 0x20, 0x01,
		0xC0, 0x00, 0x10, 0x7F,
		0x67, 0x66, 0x00, 0x03, 0x00, 0x00, 0x00, 0x01, 0x02, 0x03,
		0x5A, 0x20, 0x01,
		0x66,
	}))
	want := []format.Event{{Addr: 0x20, Data: 0x01, Policy: format.DelayPre}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected events (-want +got):\n%s", diff)
	}
}

func TestVGMUnrecognizedOpcode(t *testing.T) {
	data := vgmFile(0x150, 0, 1, []byte{0x5A, 0x20, 0x01, 0xFF, 0x5A, 0x40, 0x02, 0x66})
	dec, err := format.NewVGM(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("new vgm: %v", err)
	}
	if _, err := dec.Next(); err != nil {
		t.Fatalf("first event: %v", err)
	}
	_, err = dec.Next()
	var fe *format.FormatError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FormatError, got %v", err)
	}
	if fe.Offset != 0x103 {
		t.Fatalf("unexpected error offset: 0x%x", fe.Offset)
	}
	if _, err := dec.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected no further events, got %v", err)
	}
}

func TestVGMBadMagic(t *testing.T) {
	data := vgmFile(0x150, 0, 1, []byte{0x66})
	copy(data, "Vgz!")
	_, err := format.NewVGM(bytes.NewReader(data))
	var fe *format.FormatError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FormatError, got %v", err)
	}
}

func TestVGMTruncatedCommand(t *testing.T) {
	data := vgmFile(0x150, 0, 1, []byte{0x5A, 0x20})
	dec, err := format.NewVGM(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("new vgm: %v", err)
	}
	_, err = dec.Next()
	var fe *format.FormatError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FormatError, got %v", err)
	}
}

func TestVGMDataOffsetBeyondFile(t *testing.T) {
	data := vgmFile(0x150, 0, 1, nil)
	binary.LittleEndian.PutUint32(data[0x34:], 0x1000)
	_, err := format.NewVGM(bytes.NewReader(data))
	var fe *format.FormatError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FormatError, got %v", err)
	}
}

func TestVGMStrictClock(t *testing.T) {
	missing := vgmFile(0x151, 0, 0, []byte{0x5A, 0x20, 0x01, 0x66})
	_, err := format.NewVGM(bytes.NewReader(missing), format.WithStrictClock())
	var dm *format.DeviceMismatchError
	if !errors.As(err, &dm) {
		t.Fatalf("expected DeviceMismatchError, got %v", err)
	}

	// Without strict mode the same file decodes.
	if events := decodeVGM(t, missing); len(events) != 1 {
		t.Fatalf("unexpected events: %v", events)
	}

	present := vgmFile(0x151, 0, 3579545, []byte{0x5A, 0x20, 0x01, 0x66})
	dec, err := format.NewVGM(bytes.NewReader(present), format.WithStrictClock())
	if err != nil {
		t.Fatalf("strict decode: %v", err)
	}
	if dec.Clock() != 3579545 {
		t.Fatalf("unexpected clock: %d", dec.Clock())
	}
}

func TestVGMEndsWithoutTerminator(t *testing.T) {
	events := decodeVGM(t, vgmFile(0x150, 0, 1, []byte{0x5A, 0x20, 0x01, 0x62}))
	if len(events) != 1 {
		t.Fatalf("unexpected events: %v", events)
	}
}
