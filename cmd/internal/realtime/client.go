package realtime

import (
	"sync"

	v1 "huddle/shared/contracts/chat/v1"
)

// wsClient represents one connected websocket session.
//
// Design notes:
//   - Send is intentionally NOT closed by the server to avoid panics from
//     concurrent writers.
//   - done signals goroutines to stop; Close is idempotent.
type wsClient struct {
	SessionID string
	UserID    string
	Send      chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once
}

// newWSClient constructs a client with a bounded send queue.
func newWSClient(sessionID string, sendQueueSize int) *wsClient {
	if sendQueueSize <= 0 {
		sendQueueSize = defaultSendQueueSize
	}
	return &wsClient{
		SessionID: sessionID,
		Send:      make(chan v1.Envelope, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// Done returns a channel closed when the client is shutting down.
func (c *wsClient) Done() <-chan struct{} { return c.done }

// Close signals the client goroutines to stop (idempotent). It does NOT
// close Send, keeping enqueue safe under concurrency.
func (c *wsClient) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
