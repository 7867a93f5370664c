package fanout

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"factoryhub/pkg/models"
)

// SSE event names.
const (
	SSESnapshot = "snapshot"
	SSEEvent    = "event"
	SSEPing     = "ping"
)

// SnapshotFunc returns the current state after calling subscribe exactly
// once. Implementations hold off broadcasts for the duration of the call, so
// every event is either in the returned snapshot or delivered to the new
// subscriber, never both.
type SnapshotFunc func(subscribe func()) models.Snapshot

// SSEHandler streams the current snapshot, then every broadcast event, with
// periodic pings so intermediaries keep the connection open.
func (h *Hub) SSEHandler(snapshot SnapshotFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		var sub *Subscriber
		snap := snapshot(func() { sub = h.Subscribe(TransportSSE) })
		if sub == nil {
			sub = h.Subscribe(TransportSSE)
		}
		defer h.Unsubscribe(sub)

		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		c.SSEvent(SSESnapshot, snap)
		c.Writer.Flush()

		ticker := time.NewTicker(h.opts.KeepAlive)
		defer ticker.Stop()

		ctx := c.Request.Context()
		c.Stream(func(w io.Writer) bool {
			select {
			case msg := <-sub.Messages():
				c.SSEvent(SSEEvent, msg)
				return true
			case t := <-ticker.C:
				c.SSEvent(SSEPing, t.UnixMilli())
				return true
			case <-sub.Done():
				return false
			case <-ctx.Done():
				return false
			}
		})
	}
}
