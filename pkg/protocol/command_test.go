package protocol_test

import (
	"bytes"
	"testing"
	"time"

	"oplstream/pkg/format"
	"oplstream/pkg/protocol"
)

func TestEncodeWidth2(t *testing.T) {
	got := protocol.Width2.Encode(nil, format.Event{Addr: 0xB0, Data: 0x31, Delay: time.Second})
	if !bytes.Equal(got, []byte{0xB0, 0x31}) {
		t.Fatalf("unexpected encoding: % x", got)
	}
}

func TestEncodeWidth4LittleEndian(t *testing.T) {
	ev := format.Event{Addr: 0x20, Data: 0x01, Delay: 300 * time.Millisecond, Policy: format.DelayPost}
	got := protocol.Width4.Encode(nil, ev)
	want := []byte{0x20, 0x01, 0x2C, 0x01}
	if !bytes.Equal(got, want) {
		t.Fatalf("unexpected encoding: got % x want % x", got, want)
	}
}

func TestEncodeWidth4Saturates(t *testing.T) {
	got := protocol.Width4.Encode(nil, format.Event{Addr: 1, Data: 2, Delay: 2 * time.Minute})
	if !bytes.Equal(got[2:], []byte{0xFF, 0xFF}) {
		t.Fatalf("expected saturated delay, got % x", got)
	}
}

func TestEncodeWidth5SignCarriesPolicy(t *testing.T) {
	post := protocol.Width5.Encode(nil, format.Event{Addr: 0xA0, Data: 0x44, Delay: 16*time.Millisecond + 666*time.Microsecond, Policy: format.DelayPost})
	if !bytes.Equal(post, []byte{0xA0, 0x44, 0x00, 0x10, 166}) {
		t.Fatalf("unexpected post encoding: % x", post)
	}

	pre := protocol.Width5.Encode(nil, format.Event{Addr: 0xA0, Data: 0x44, Delay: 16 * time.Millisecond, Policy: format.DelayPre})
	if !bytes.Equal(pre, []byte{0xA0, 0x44, 0xFF, 0xF0, 0x00}) {
		t.Fatalf("unexpected pre encoding: % x", pre)
	}
}

func TestEncodeWidth5SubMillisecondPreDelay(t *testing.T) {
	ev := format.Event{Addr: 0x01, Data: 0x02, Delay: 500 * time.Microsecond, Policy: format.DelayPre}
	got := protocol.Width5.Encode(nil, ev)
	if !bytes.Equal(got, []byte{0x01, 0x02, 0xFF, 0xFF, 0x00}) {
		t.Fatalf("unexpected encoding: % x", got)
	}
	dec, err := protocol.Width5.Decode(got)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec.Policy != format.DelayPre || dec.Delay != time.Millisecond {
		t.Fatalf("unexpected decode: %v", dec)
	}

	// Below one sub-ms unit there is nothing to wait for.
	tiny := protocol.Width5.Encode(nil, format.Event{Addr: 0x01, Data: 0x02, Delay: time.Microsecond, Policy: format.DelayPre})
	if !bytes.Equal(tiny, []byte{0x01, 0x02, 0x00, 0x00, 0x00}) {
		t.Fatalf("unexpected encoding: % x", tiny)
	}
}

func TestDecodeInvertsEncode(t *testing.T) {
	cases := []struct {
		width protocol.Width
		ev    format.Event
	}{
		{protocol.Width2, format.Event{Addr: 0x08, Data: 0x40, Policy: format.DelayPost}},
		{protocol.Width4, format.Event{Addr: 0x08, Data: 0x40, Delay: 1234 * time.Millisecond, Policy: format.DelayPost}},
		{protocol.Width5, format.Event{Addr: 0x08, Data: 0x40, Delay: 20*time.Millisecond + 996*time.Microsecond, Policy: format.DelayPre}},
		{protocol.Width5, format.Event{Addr: 0x08, Data: 0x40, Delay: 3 * time.Millisecond, Policy: format.DelayPost}},
	}
	for _, tc := range cases {
		got, err := tc.width.Decode(tc.width.Encode(nil, tc.ev))
		if err != nil {
			t.Fatalf("width %d: unexpected error: %v", tc.width, err)
		}
		if got != tc.ev {
			t.Fatalf("width %d: got %v want %v", tc.width, got, tc.ev)
		}
	}
}

func TestDecodeRejectsShortCommand(t *testing.T) {
	if _, err := protocol.Width5.Decode([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected length error")
	}
}

func TestResetCommands(t *testing.T) {
	for _, w := range []protocol.Width{protocol.Width2, protocol.Width4, protocol.Width5} {
		reset := w.Reset()
		if len(reset) != int(w) || !bytes.Equal(reset, make([]byte, int(w))) {
			t.Fatalf("width %d: unexpected reset % x", w, reset)
		}
	}

	sweep := protocol.Width2.SweepReset()
	if len(sweep) != 512 {
		t.Fatalf("unexpected sweep length: %d", len(sweep))
	}
	if sweep[2*0x41] != 0x41 || sweep[2*0x41+1] != 0 {
		t.Fatalf("unexpected sweep entry: % x", sweep[2*0x41:2*0x41+2])
	}
}

func TestParseWidth(t *testing.T) {
	if _, err := protocol.ParseWidth(3); err == nil {
		t.Fatalf("expected error for width 3")
	}
	w, err := protocol.ParseWidth(5)
	if err != nil || w != protocol.Width5 {
		t.Fatalf("unexpected parse result: %v %v", w, err)
	}
	if protocol.Width2.DeviceTimed() || !protocol.Width4.DeviceTimed() {
		t.Fatalf("unexpected device timing flags")
	}
}
