package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
	maxFrameSize = 16 << 10
	sendQueueLen = 64
)

var (
	errClientClosed = errors.New("client closed")
	errQueueFull    = errors.New("send queue full")
)

type frame struct {
	kind int
	data []byte
}

// Client is one websocket connection. Outbound frames go through a buffered
// queue drained by writePump; closing the queue flushes what is left and
// then closes the socket.
type Client struct {
	id      string
	codec   Codec
	conn    *websocket.Conn
	limiter *rate.Limiter

	mu     sync.Mutex
	send   chan frame
	closed bool
}

func newClient(id string, codec Codec, conn *websocket.Conn, limiter *rate.Limiter) *Client {
	return &Client{
		id:      id,
		codec:   codec,
		conn:    conn,
		limiter: limiter,
		send:    make(chan frame, sendQueueLen),
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) enqueue(f frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- f:
		return nil
	default:
		return errQueueFull
	}
}

// finish stops accepting frames. Frames already queued are still written.
func (c *Client) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) finished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(f.kind, f.data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles frames one at a time until the socket fails, then hands
// the client to the dispatcher for cleanup.
func (c *Client) readPump(ctx context.Context, d *Dispatcher) {
	defer d.Disconnect(c)

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				d.log.Debug("websocket read failed", "conn_id", c.id, "error", err)
			}
			return
		}
		d.Handle(ctx, c, data)
	}
}
