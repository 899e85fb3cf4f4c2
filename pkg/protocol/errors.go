package protocol

import "fmt"

// ProtocolError reports that the board sent something other than what the
// protocol allows at this point. It is fatal to the session.
type ProtocolError struct {
	Stage string
	Want  string
	Got   string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error during %s: expected %q, received %q", e.Stage, e.Want, e.Got)
}

// UnexpectedAck builds the error for a byte that is not the ack value.
func UnexpectedAck(stage string, got byte) *ProtocolError {
	return &ProtocolError{Stage: stage, Want: string([]byte{Ack}), Got: string([]byte{got})}
}
