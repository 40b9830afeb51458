package websocket

import "sync"

// DefaultSendBuffer is the number of frames queued per connection before
// delivery counts as failed.
const DefaultSendBuffer = 64

// Client is the hub-facing side of one connection. The hub enqueues frames
// with Send; the transport drains them from Outbound.
type Client struct {
	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func NewClient(buffer int) *Client {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Client{send: make(chan []byte, buffer)}
}

// Send queues payload without blocking.
func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Outbound is closed once the client is closed.
func (c *Client) Outbound() <-chan []byte {
	return c.send
}

// Close is idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
