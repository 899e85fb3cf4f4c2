package transport

import (
	"context"
	"fmt"
	"net"
)

// DialTCP connects to a network serial bridge (ser2net and similar) that
// forwards bytes unchanged to the board.
func DialTCP(ctx context.Context, addr string, opts ...Option) (net.Conn, error) {
	s := newSettings(opts)
	dialer := net.Dialer{Timeout: s.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		// Commands are a few bytes each; send them without coalescing.
		_ = tcp.SetNoDelay(true)
	}
	return conn, nil
}
