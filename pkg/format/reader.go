package format

import (
	"bufio"
	"io"
)

// byteReader is a forward-only reader that remembers how far into the
// source it has read. Decoders never seek, so compressed input works the
// same as a plain file.
type byteReader struct {
	r   *bufio.Reader
	off int64
}

func newByteReader(r io.Reader) *byteReader {
	if br, ok := r.(*bufio.Reader); ok {
		return &byteReader{r: br}
	}
	return &byteReader{r: bufio.NewReader(r)}
}

func (b *byteReader) ReadByte() (byte, error) {
	c, err := b.r.ReadByte()
	if err == nil {
		b.off++
	}
	return c, err
}

// full fills p. It returns io.EOF when nothing was read and
// io.ErrUnexpectedEOF when the source ended part way through p.
func (b *byteReader) full(p []byte) error {
	n, err := io.ReadFull(b.r, p)
	b.off += int64(n)
	return err
}

// skip discards n bytes, returning io.ErrUnexpectedEOF if the source is
// shorter than that.
func (b *byteReader) skip(n int64) error {
	for n > 0 {
		chunk := n
		if chunk > 1<<20 {
			chunk = 1 << 20
		}
		d, err := b.r.Discard(int(chunk))
		b.off += int64(d)
		n -= int64(d)
		if err != nil {
			if err == io.EOF {
				return io.ErrUnexpectedEOF
			}
			return err
		}
	}
	return nil
}
