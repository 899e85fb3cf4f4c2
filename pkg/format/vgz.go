package format

import (
	"bufio"
	"compress/gzip"
	"io"
)

var gzipMagic = []byte{0x1F, 0x8B}

// VGZ is a gzip-compressed VGM stream.
type VGZ struct {
	*VGM
	gz *gzip.Reader
}

// NewVGZ decompresses r and decodes the result as VGM.
func NewVGZ(r io.Reader, opts ...VGMOption) (*VGZ, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, formatErrorf("vgz", 0, "bad gzip stream: %v", err)
	}
	vgm, err := NewVGM(gz, opts...)
	if err != nil {
		_ = gz.Close()
		return nil, err
	}
	return &VGZ{VGM: vgm, gz: gz}, nil
}

// Close releases the decompressor. It does not close the underlying reader.
func (d *VGZ) Close() error {
	return d.gz.Close()
}

// isGzip reports whether the buffered input starts with the gzip magic.
func isGzip(br *bufio.Reader) bool {
	head, err := br.Peek(len(gzipMagic))
	if err != nil {
		return false
	}
	return head[0] == gzipMagic[0] && head[1] == gzipMagic[1]
}
