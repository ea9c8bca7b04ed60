// Package client implements the connecting side of the relay: a single
// logical connection that survives network drops by reconnecting with a
// linearly growing backoff, replaying the auth handshake and rejoining
// rooms after each successful reconnect.
package client

import (
	"encoding/json"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Synthetic event types emitted by the client itself, alongside whatever
// the server sends. "MESSAGE" fires for every inbound server event in
// addition to its own type.
const (
	EventConnected       = "CONNECTION_SUCCESS"
	EventClosed          = "CONNECTION_CLOSED"
	EventReconnecting    = "RECONNECTING"
	EventReconnectFailed = "RECONNECT_FAILED"
	EventAny             = "MESSAGE"
)

const (
	defaultBaseDelay   = 3 * time.Second
	defaultMaxAttempts = 5
)

var ErrNotConnected = errors.New("not connected")

// Event is one decoded server message or client status notification.
type Event struct {
	Type string
	Data map[string]interface{}
}

type Listener func(Event)

// ListenerID identifies a registered listener for removal. Removing an
// already-removed ID is a no-op.
type ListenerID uint64

// Config carries connection parameters. Token takes precedence over
// Username for the handshake; with only Username set the client binds
// its identity with SET_USERNAME instead of AUTH.
type Config struct {
	URL         string
	Token       string
	Username    string
	BaseDelay   time.Duration
	MaxAttempts int
}

type Client struct {
	cfg Config

	mu        sync.Mutex
	conn      *websocket.Conn
	rooms     map[string]struct{}
	attempts  int
	closed    bool
	listeners map[string]map[ListenerID]Listener
	nextID    ListenerID

	// after is swapped out in tests to observe the backoff schedule.
	after func(time.Duration) <-chan time.Time
}

func New(cfg Config) *Client {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	return &Client{
		cfg:       cfg,
		rooms:     make(map[string]struct{}),
		listeners: make(map[string]map[ListenerID]Listener),
		after:     time.After,
	}
}

// AddListener registers a callback for one event type. Multiple
// listeners per type are allowed.
func (c *Client) AddListener(eventType string, fn Listener) ListenerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	if c.listeners[eventType] == nil {
		c.listeners[eventType] = make(map[ListenerID]Listener)
	}
	c.listeners[eventType][id] = fn
	return id
}

func (c *Client) RemoveListener(eventType string, id ListenerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.listeners[eventType], id)
}

func (c *Client) notify(eventType string, data map[string]interface{}) {
	c.mu.Lock()
	fns := make([]Listener, 0, len(c.listeners[eventType]))
	for _, fn := range c.listeners[eventType] {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(Event{Type: eventType, Data: data})
	}
}

// Connect dials the relay and starts the read loop. It returns once the
// socket is open and the handshake has been sent; reconnects after that
// happen in the background.
func (c *Client) Connect() error {
	c.mu.Lock()
	c.closed = false
	c.attempts = 0
	c.mu.Unlock()
	return c.dial()
}

func (c *Client) dial() error {
	conn, _, err := websocket.DefaultDialer.Dial(c.cfg.URL, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.attempts = 0
	rooms := c.trackedRoomsLocked()
	c.mu.Unlock()

	if c.cfg.Token != "" {
		c.write(map[string]interface{}{"type": "AUTH", "token": c.cfg.Token})
	} else {
		c.write(map[string]interface{}{"type": "SET_USERNAME", "username": c.cfg.Username})
	}
	for _, roomID := range rooms {
		c.write(map[string]interface{}{"type": "JOIN_ROOM", "roomId": roomID})
	}

	c.notify(EventConnected, map[string]interface{}{"connected": true})

	go c.readLoop(conn)
	return nil
}

func (c *Client) trackedRoomsLocked() []string {
	rooms := make([]string, 0, len(c.rooms))
	for roomID := range c.rooms {
		rooms = append(rooms, roomID)
	}
	sort.Strings(rooms)
	return rooms
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.onClosed(conn, err)
			return
		}

		var payload map[string]interface{}
		if err := json.Unmarshal(data, &payload); err != nil {
			log.Printf("Dropping unparseable server message: %v", err)
			continue
		}
		eventType, _ := payload["type"].(string)
		if eventType == "" {
			continue
		}

		c.notify(eventType, payload)
		c.notify(EventAny, payload)
	}
}

func (c *Client) onClosed(conn *websocket.Conn, err error) {
	conn.Close()

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	clean := c.closed
	c.mu.Unlock()

	c.notify(EventClosed, map[string]interface{}{
		"error":    err.Error(),
		"wasClean": clean,
	})

	if !clean {
		c.scheduleReconnect()
	}
}

// scheduleReconnect waits baseDelay times the attempt number, then
// redials. After maxAttempts consecutive failures it gives up for good
// and emits RECONNECT_FAILED.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.attempts++
	attempt := c.attempts
	if attempt > c.cfg.MaxAttempts {
		c.mu.Unlock()
		c.notify(EventReconnectFailed, map[string]interface{}{"attempts": attempt - 1})
		return
	}
	delay := c.cfg.BaseDelay * time.Duration(attempt)
	wait := c.after(delay)
	c.mu.Unlock()

	c.notify(EventReconnecting, map[string]interface{}{
		"attempt":     attempt,
		"maxAttempts": c.cfg.MaxAttempts,
		"delay":       delay.String(),
	})

	go func() {
		<-wait

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		if err := c.dial(); err != nil {
			log.Printf("Reconnect attempt %d failed: %v", attempt, err)
			if attempt >= c.cfg.MaxAttempts {
				c.notify(EventReconnectFailed, map[string]interface{}{"attempts": attempt})
				return
			}
			c.scheduleReconnect()
		}
	}()
}

func (c *Client) write(payload map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.WriteJSON(payload)
}

// Send delivers an arbitrary envelope to the server.
func (c *Client) Send(payload map[string]interface{}) error {
	return c.write(payload)
}

// JoinRoom issues JOIN_ROOM and remembers the room so it gets rejoined
// after a reconnect.
func (c *Client) JoinRoom(roomID string) error {
	c.mu.Lock()
	c.rooms[roomID] = struct{}{}
	c.mu.Unlock()
	return c.write(map[string]interface{}{"type": "JOIN_ROOM", "roomId": roomID})
}

func (c *Client) LeaveRoom(roomID string) error {
	c.mu.Lock()
	delete(c.rooms, roomID)
	c.mu.Unlock()
	return c.write(map[string]interface{}{"type": "LEAVE_ROOM", "roomId": roomID})
}

func (c *Client) Chat(roomID, message string, encrypted bool) error {
	return c.write(map[string]interface{}{
		"type":        "CHAT",
		"roomId":      roomID,
		"message":     message,
		"isEncrypted": encrypted,
	})
}

// Disconnect closes the connection cleanly and suppresses any pending
// or future reconnect attempts.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.attempts = 0
	c.mu.Unlock()

	if conn != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnected"))
		conn.Close()
	}
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}
