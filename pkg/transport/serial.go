package transport

import (
	"fmt"

	"github.com/pkg/term"
)

// OpenSerial opens a serial device in raw 8N1 mode at baud. Input already
// buffered by the driver is discarded so the banner is read fresh.
func OpenSerial(name string, baud int) (*term.Term, error) {
	t, err := term.Open(name, term.Speed(baud), term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", name, err)
	}
	if err := t.Flush(); err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("flush serial %s: %w", name, err)
	}
	return t, nil
}
