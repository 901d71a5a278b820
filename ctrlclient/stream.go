package ctrlclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/auricle-dev/auricle/ctrltypes"
)

// IRQStream is an open connection to the interrupt event stream.
type IRQStream struct {
	conn net.Conn
}

// WatchIRQs connects to the server's interrupt stream. The server writes one
// JSON line per completion interrupt for as long as the connection stays open.
func (c *Client) WatchIRQs(ctx context.Context) (*IRQStream, error) {
	if c.transport.mock != nil {
		return nil, fmt.Errorf("stream connections not supported with mock transport")
	}
	conn, err := c.transport.dial(ctx)
	if err != nil {
		return nil, err
	}
	// Streams keep the connection open, so the one-shot deadlines set by the
	// dial path must not apply.
	_ = conn.SetDeadline(time.Time{})

	if _, err := conn.Write([]byte("irq/watch\x00")); err != nil {
		conn.Close()
		return nil, fmt.Errorf("write stream path: %w", err)
	}
	return &IRQStream{conn: conn}, nil
}

// Events starts decoding interrupt events in a background goroutine. Both
// channels are closed when the stream ends; a nil error on the error channel
// is never sent.
func (s *IRQStream) Events(ctx context.Context) (<-chan ctrltypes.IRQEvent, <-chan error) {
	events := make(chan ctrltypes.IRQEvent, 16)
	errs := make(chan error, 1)
	go func() {
		defer close(events)
		defer close(errs)
		r := bufio.NewReader(s.conn)
		for {
			line, err := r.ReadBytes('\n')
			if err != nil {
				if ctx.Err() == nil {
					errs <- err
				}
				return
			}
			var ev ctrltypes.IRQEvent
			if err := json.Unmarshal(line, &ev); err != nil {
				errs <- fmt.Errorf("decode event: %w", err)
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, errs
}

// Close tears down the stream connection.
func (s *IRQStream) Close() error {
	return s.conn.Close()
}
