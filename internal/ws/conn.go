package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	readWait       = 90 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 64
)

var errConnClosed = errors.New("connection closed")

// Client wraps one websocket connection with a buffered outbound queue and a
// pump pair: ReadPump decodes inbound frames and hands them to OnFrame,
// WritePump drains the queue. Frames queued on the same connection go out in
// Send order.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	// OnFrame receives every decoded inbound frame. OnClose fires once when
	// the read loop exits for any reason. Both must be set before ReadPump.
	OnFrame func(Frame)
	OnClose func()
}

func NewClient(conn *websocket.Conn) *Client {
	return &Client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// Send queues a frame for delivery. A full queue or a closed connection is
// reported as an error so the caller can treat the connection as dead.
func (c *Client) Send(f Frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return errConnClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return errConnClosed
	default:
		// Queue full: the client is not draining, which we take as proof the
		// connection is dead.
		return errors.New("send queue full")
	}
}

// Close tears the connection down. The socket itself is closed by WritePump
// once it has flushed the queue, so frames queued before Close still reach
// the peer. Safe to call more than once.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
	})
}

// ReadPump consumes inbound frames until the connection errors or closes.
// Exactly one ReadPump and one WritePump goroutine run per connection.
func (c *Client) ReadPump() {
	defer func() {
		c.Close()
		if c.OnClose != nil {
			c.OnClose()
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(readWait))

	for {
		var frame Frame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logrus.WithError(err).Debug("websocket read error")
			}
			return
		}

		// Any inbound traffic counts as liveness.
		c.conn.SetReadDeadline(time.Now().Add(readWait))

		if c.OnFrame != nil {
			c.OnFrame(frame)
		}
	}
}

// WritePump drains the send queue onto the wire. On Close it flushes frames
// still queued before closing the socket, so terminal frames (supersession,
// idle eviction, capacity rejection, shutdown) reach the peer.
func (c *Client) WritePump() {
	defer c.conn.Close()

	for {
		select {
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-c.done:
			c.flush()
			return
		}
	}
}

// flush writes whatever Send queued before Close, then the close message.
func (c *Client) flush() {
	for {
		select {
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		default:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
