package player

import (
	"context"
	"errors"
	"fmt"
	"io"

	"oplstream/pkg/format"
)

// Link is the sending side of a board connection.
type Link interface {
	Send(ctx context.Context, ev format.Event) error
	Close() error
}

// Feed pumps events from stream to link until the stream ends, a decode or
// link error occurs, or ctx is cancelled. It returns the number of events
// sent. Reaching the end of the stream is not an error.
func Feed(ctx context.Context, stream format.Stream, link Link) (int, error) {
	sent := 0
	for {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		ev, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return sent, nil
			}
			return sent, fmt.Errorf("decode event %d: %w", sent, err)
		}
		if err := link.Send(ctx, ev); err != nil {
			if ctx.Err() != nil {
				return sent, ctx.Err()
			}
			return sent, fmt.Errorf("send event %d: %w", sent, err)
		}
		sent++
	}
}

// Play feeds stream to link and closes the link on every path, so the board
// is always drained and silenced. The first error wins.
func Play(ctx context.Context, stream format.Stream, link Link) (int, error) {
	sent, err := Feed(ctx, stream, link)
	if cerr := link.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close link: %w", cerr)
	}
	return sent, err
}
