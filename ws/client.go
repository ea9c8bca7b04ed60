package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 30 * time.Second
	maxMessageSize = 1 << 20
	sendBuffer     = 256
)

// Client is one live connection and its per-connection state machine:
// unauthenticated until AUTH or SET_USERNAME binds an identity, then a
// set of joined rooms, then closed. Inbound messages are processed
// sequentially by readPump; outbound writes drain through a single
// writePump, so delivery order to one recipient matches emission order.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	mu         sync.Mutex
	username   string
	lastActive time.Time
	alive      bool
	closed     bool

	// gates the one-shot disconnect cleanup in Hub.disconnect
	closeOnce sync.Once

	// joined rooms; touched only from the session goroutine
	rooms map[string]struct{}
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBuffer),
		done:       make(chan struct{}),
		lastActive: time.Now(),
		alive:      true,
		rooms:      make(map[string]struct{}),
	}
}

// Username returns the bound identity, empty until authenticated.
func (c *Client) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

func (c *Client) setUsername(username string) {
	c.mu.Lock()
	c.username = username
	c.mu.Unlock()
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastActive = time.Now()
	c.mu.Unlock()
}

// LastActive is read by the idle sweep.
func (c *Client) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

func (c *Client) markAlive() {
	c.mu.Lock()
	c.alive = true
	c.mu.Unlock()
}

// aliveAndArm reports whether the last ping round was acknowledged and
// arms the flag for the next one.
func (c *Client) aliveAndArm() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	was := c.alive
	c.alive = false
	return was
}

// enqueue hands an event to the write pump without blocking. A slow
// recipient whose buffer is full loses the event rather than stalling
// delivery to the rest of the room. The send channel is never closed,
// so a fan-out holding a stale client pointer cannot panic: once
// teardown has started the event is simply dropped, the same as for
// any offline member.
func (c *Client) enqueue(data []byte) {
	if data == nil {
		return
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	select {
	case c.send <- data:
	default:
		log.Printf("Client %s send buffer full, dropping event", c.Username())
	}
}

func (c *Client) sendPing() {
	if c.conn == nil {
		return
	}
	if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
		log.Printf("Client %s ping error: %v", c.Username(), err)
	}
}

// terminate tears the connection down. Closing the transport makes
// readPump exit, which runs the full disconnect cleanup.
func (c *Client) terminate() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	if c.conn != nil {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
			time.Now().Add(writeWait))
		c.conn.Close()
		return
	}
	// No transport (tests): run cleanup directly.
	c.hub.disconnect(c)
}

func (c *Client) readPump() {
	defer func() {
		c.hub.disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.markAlive()
		c.touch()
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("Client %s read error: %v", c.Username(), err)
			}
			break
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			// Malformed envelopes are dropped: no reply, no state change.
			log.Printf("Client %s sent malformed envelope: %v", c.Username(), err)
			continue
		}

		c.touch()
		c.markAlive()
		c.hub.handle(c, &env)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Printf("Client %s write error: %v", c.Username(), err)
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
