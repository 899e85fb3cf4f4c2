package link

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by Send once Close has begun.
var ErrClosed = errors.New("link closed")

// IOError reports a failed read or write on the underlying connection.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("link %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
