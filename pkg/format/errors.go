package format

import "fmt"

// FormatError reports structurally invalid input. Offset is the byte
// position in the decoded (uncompressed) stream where the problem was found.
type FormatError struct {
	Format string
	Offset int64
	Msg    string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s: %s at offset 0x%x", e.Format, e.Msg, e.Offset)
}

func formatErrorf(format string, offset int64, msg string, args ...any) error {
	return &FormatError{Format: format, Offset: offset, Msg: fmt.Sprintf(msg, args...)}
}

// DeviceMismatchError is returned when a file carries no clock for the
// YM3812, meaning its register writes target another chip.
type DeviceMismatchError struct {
	Format string
	Clock  uint32
}

func (e *DeviceMismatchError) Error() string {
	return fmt.Sprintf("%s: no YM3812 clock specified (0x%08x), data targets another chip", e.Format, e.Clock)
}
