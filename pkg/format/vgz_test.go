package format_test

import (
	"bytes"
	"compress/gzip"
	"testing"

	"github.com/google/go-cmp/cmp"

	"oplstream/pkg/format"
)

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func sampleVGM() []byte {
	return vgmFile(0x161, 0x0C, 3579545, []byte{
		0x5A, 0x01, 0x20,
		0x62,
		0x5A, 0xA0, 0x98,
		0x61, 0x44, 0xAC, 0x5A, 0xB0, 0x31,
		0x76, 0x5A, 0xB0, 0x11,
		0x66,
	})
}

func TestVGZMatchesUncompressedVGM(t *testing.T) {
	raw := sampleVGM()
	want := decodeVGM(t, raw)

	dec, err := format.NewVGZ(bytes.NewReader(gzipBytes(t, raw)))
	if err != nil {
		t.Fatalf("new vgz: %v", err)
	}
	defer dec.Close()
	got, err := format.Collect(dec)
	if err != nil {
		t.Fatalf("decode vgz: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("unexpected event count: %d", len(got))
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("vgz differs from vgm (-vgm +vgz):\n%s", diff)
	}
}

func TestVGZRejectsPlainInput(t *testing.T) {
	if _, err := format.NewVGZ(bytes.NewReader(sampleVGM())); err == nil {
		t.Fatalf("expected error for uncompressed input")
	}
}

func TestOpenSniffsCompressedVGM(t *testing.T) {
	raw := sampleVGM()
	want := decodeVGM(t, raw)

	stream, err := format.Open("song.vgm", bytes.NewReader(gzipBytes(t, raw)), format.Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	got, err := format.Collect(stream)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected events (-want +got):\n%s", diff)
	}
}
