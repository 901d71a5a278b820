package ctrl

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/auricle-dev/auricle/card"
	"github.com/auricle-dev/auricle/ctrltypes"
	"github.com/auricle-dev/auricle/dma"
)

// irqPollInterval bounds the delivery latency of the interrupt stream.
const irqPollInterval = 10 * time.Millisecond

// IRQStreamHandler returns a stream handler that emits one JSON line per
// completion interrupt edge, per direction, until the client disconnects.
func IRQStreamHandler() StreamHandlerFunc {
	return func(conn net.Conn, c *card.Card, logger *slog.Logger) error {
		defer conn.Close()

		// The client sends nothing after the request, so a completed read
		// means it hung up. Without this an idle stream would only notice
		// the disconnect on the next interrupt write.
		gone := make(chan struct{})
		go func() {
			var b [1]byte
			_, _ = conn.Read(b[:])
			close(gone)
		}()

		var last [2]uint64
		for _, dir := range []dma.Direction{dma.Playback, dma.Capture} {
			last[dir] = c.IRQCount(dir)
		}

		ticker := time.NewTicker(irqPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gone:
				return nil
			case <-ticker.C:
			}
			for _, dir := range []dma.Direction{dma.Playback, dma.Capture} {
				count := c.IRQCount(dir)
				for ; last[dir] < count; last[dir]++ {
					b, err := json.Marshal(ctrltypes.IRQEvent{
						Direction: dir.String(),
						Count:     last[dir] + 1,
					})
					if err != nil {
						return err
					}
					if _, err := fmt.Fprintf(conn, "%s\n", b); err != nil {
						// Client gone.
						return nil
					}
				}
			}
		}
	}
}
