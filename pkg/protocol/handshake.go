package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Handshake lines and the ack byte shared by every firmware generation that
// handshakes.
const (
	Banner        = "HLO!"
	ReadyQuery    = "RDY?"
	ReadyResponse = "RDY!"
	Ack           = byte('k')
)

const (
	DefaultBaud   = 115200
	DefaultWindow = 5
)

// ReadLine reads one newline-terminated line and strips the line ending.
func ReadLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// expectLine reads a line and checks that it ends with want. Opening the
// port resets most boards, so anything received before the expected text
// is ignored.
func expectLine(r *bufio.Reader, stage string, want string) error {
	line, err := ReadLine(r)
	if err != nil {
		return fmt.Errorf("%s: %w", stage, err)
	}
	if !strings.HasSuffix(line, want) {
		return &ProtocolError{Stage: stage, Want: want, Got: line}
	}
	return nil
}

// WriteLine sends s followed by a newline.
func WriteLine(w io.Writer, s string) error {
	_, err := io.WriteString(w, s+"\n")
	return err
}

// ParseBufferSize reads the decimal receive-buffer size sent by modern
// firmware.
func ParseBufferSize(line string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || n <= 0 {
		return 0, &ProtocolError{Stage: "buffer size", Want: "positive decimal byte count", Got: line}
	}
	return n, nil
}

// Handshake runs the connect sequence for gen and returns the negotiated
// parameters. Window is the command capacity assumed for legacy firmware.
// The caller owns r and w; r must be the reader used for every later read
// from the board.
func Handshake(r *bufio.Reader, w io.Writer, gen Generation, width Width, window int) (Params, error) {
	if !width.Valid() {
		return Params{}, fmt.Errorf("unsupported command width %d", int(width))
	}
	params := Params{Generation: gen, Width: width}

	if gen == Passthrough {
		params.AckModel = AckNone
		return params, nil
	}

	if err := expectLine(r, "banner", Banner); err != nil {
		return Params{}, err
	}
	if err := WriteLine(w, ReadyQuery); err != nil {
		return Params{}, fmt.Errorf("ready query: %w", err)
	}

	switch gen {
	case Legacy:
		if err := expectLine(r, "ready", ReadyResponse); err != nil {
			return Params{}, err
		}
		if window <= 0 {
			window = DefaultWindow
		}
		params.AckModel = AckWindow
		params.Capacity = window

	case Modern:
		line, err := ReadLine(r)
		if err != nil {
			return Params{}, fmt.Errorf("buffer size: %w", err)
		}
		size, err := ParseBufferSize(line)
		if err != nil {
			return Params{}, err
		}
		params.AckModel = AckCredits
		params.Capacity = size / int(width)
		if params.Capacity == 0 {
			return Params{}, &ProtocolError{
				Stage: "buffer size",
				Want:  fmt.Sprintf("at least %d bytes", int(width)),
				Got:   line,
			}
		}

	default:
		return Params{}, fmt.Errorf("unknown link generation %d", uint8(gen))
	}
	return params, nil
}
