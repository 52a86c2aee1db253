package gateway

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrBackpressure is returned by TrySend when a client's outbound buffer
// is full — the gateway treats this as the client no longer keeping up,
// not as a retryable condition.
var ErrBackpressure = errors.New("backpressure")

const (
	writeTimeout = 5 * time.Second
	drainTimeout = 2 * time.Second
)

// wsConn adapts a gorilla websocket connection to session.Conn: a
// non-blocking send backed by a bounded channel drained by one writer
// goroutine per connection.
type wsConn struct {
	ws   *websocket.Conn
	send chan []byte
	done chan struct{} // closed once writePump has drained send and returned

	mu     sync.Mutex
	closed bool
}

func newWsConn(ws *websocket.Conn, sendBuffer int) *wsConn {
	return &wsConn{
		ws:   ws,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// TrySend enqueues data for the write pump without blocking. It returns
// ErrBackpressure if the send buffer is full, which the caller treats as
// a lagged connection to be dropped.
func (c *wsConn) TrySend(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

// Close is idempotent: the first call closes the send channel, waits
// for the write pump to drain whatever was already queued — most
// importantly a just-sent Error frame explaining why — and then closes
// the underlying socket. Later calls are no-ops.
func (c *wsConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	select {
	case <-c.done:
	case <-time.After(drainTimeout):
	}
	return c.ws.Close()
}

func (c *wsConn) writePump() {
	defer close(c.done)
	for data := range c.send {
		if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			return
		}
		if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}
