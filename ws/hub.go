package ws

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"tunnel-chat/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub owns the live core: the presence registry, the per-envelope
// session handling and the broadcast fan-out. Room membership and
// message durability are delegated to the services it is built with.
type Hub struct {
	presence *Presence
	rooms    *services.RoomService
	msgs     *services.MessageService
	auth     *services.AuthService
}

func NewHub(auth *services.AuthService, rooms *services.RoomService, msgs *services.MessageService) *Hub {
	return &Hub{
		presence: NewPresence(),
		rooms:    rooms,
		msgs:     msgs,
		auth:     auth,
	}
}

// Presence exposes the registry to the sweeper and HTTP handlers.
func (h *Hub) Presence() *Presence {
	return h.presence
}

// ServeWS upgrades the request and runs the connection until it closes.
// The connection starts unauthenticated; identity arrives over the wire.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	log.Printf("New client connected from %s", r.RemoteAddr)

	client := newClient(h, conn)
	go client.writePump()
	go client.readPump()
}

// handle dispatches one inbound envelope. Unknown types are logged and
// ignored; every recoverable failure is an ERROR reply to this
// connection only.
func (h *Hub) handle(c *Client, env *Envelope) {
	switch env.Type {
	case TypeAuth:
		h.handleAuth(c, env)
	case TypeSetUsername:
		h.handleSetUsername(c, env)
	case TypeJoinRoom:
		h.handleJoinRoom(c, env)
	case TypeLeaveRoom:
		h.handleLeaveRoom(c, env)
	case TypeChat:
		h.handleChat(c, env)
	case TypeFileTransfer:
		h.handleFileTransfer(c, env)
	default:
		log.Printf("Unknown message type: %q", env.Type)
	}
}

func (h *Hub) handleAuth(c *Client, env *Envelope) {
	if env.Token == "" {
		c.enqueue(errorEvent("Token is required"))
		return
	}

	info := h.auth.ValidateToken(env.Token)
	if !info.Valid {
		// Authentication failure leaves the connection open and
		// unauthenticated; the client may retry.
		c.enqueue(errorEvent(info.Error))
		return
	}

	h.bindIdentity(c, info.Username)
	c.enqueue(event(map[string]any{
		"type":     TypeAuthResponse,
		"success":  true,
		"username": info.Username,
	}))
	log.Printf("Client authenticated as %s", info.Username)
}

// handleSetUsername is the lower-trust path: it binds an identity
// without token verification.
func (h *Hub) handleSetUsername(c *Client, env *Envelope) {
	if env.Username == "" {
		c.enqueue(errorEvent("Username is required"))
		return
	}

	h.bindIdentity(c, env.Username)
	c.enqueue(event(map[string]any{
		"type":     TypeUsernameSet,
		"success":  true,
		"username": env.Username,
	}))
}

// bindIdentity registers the connection under the identity. If another
// connection already holds it, that one is actively closed rather than
// left dangling with a stale registry entry.
func (h *Hub) bindIdentity(c *Client, username string) {
	c.setUsername(username)
	if superseded := h.presence.Bind(username, c); superseded != nil {
		log.Printf("Identity %s rebound, closing superseded connection", username)
		superseded.terminate()
	}
}

// requireIdentity returns the bound identity or replies ERROR.
func (h *Hub) requireIdentity(c *Client) (string, bool) {
	username := c.Username()
	if username == "" {
		c.enqueue(errorEvent("Authentication required"))
		return "", false
	}
	return username, true
}

func (h *Hub) handleJoinRoom(c *Client, env *Envelope) {
	username, ok := h.requireIdentity(c)
	if !ok {
		return
	}
	if env.RoomID == "" {
		c.enqueue(errorEvent("Room ID is required"))
		return
	}

	room, err := h.rooms.Join(env.RoomID, username)
	if err != nil {
		c.enqueue(errorEvent(joinErrorMessage(err)))
		return
	}
	c.rooms[env.RoomID] = struct{}{}

	members, _ := h.rooms.Members(env.RoomID)
	activeUsers := len(members)
	messageCount := h.msgs.Count(env.RoomID)

	joined := map[string]any{
		"type":         TypeRoomJoined,
		"roomId":       room.ID,
		"roomName":     room.Name,
		"room":         room,
		"activeUsers":  activeUsers,
		"messageCount": messageCount,
		"isPrivate":    room.IsPrivate,
		"isEncrypted":  room.IsEncrypted,
	}
	// The key ships only here, so a member can decrypt room traffic.
	if room.IsEncrypted {
		joined["encryptionKey"] = room.EncryptionKey
	}
	c.enqueue(event(joined))

	h.broadcast(env.RoomID, event(map[string]any{
		"type":        TypeUserJoined,
		"roomId":      env.RoomID,
		"username":    username,
		"activeUsers": activeUsers,
	}), username)
	h.systemMessage(env.RoomID, username+" joined the room")

	log.Printf("User %s joined room %s (%d active)", username, env.RoomID, activeUsers)
}

func joinErrorMessage(err error) string {
	switch {
	case errors.Is(err, services.ErrRoomNotFound):
		return "Room not found"
	case errors.Is(err, services.ErrNotAMember):
		return "You are not a member of this room"
	default:
		return "Failed to join room"
	}
}

func leaveErrorMessage(err error) string {
	switch {
	case errors.Is(err, services.ErrRoomNotFound):
		return "Room not found"
	case errors.Is(err, services.ErrNotAMember):
		return "You are not a member of this room"
	default:
		return "Failed to leave room"
	}
}

func (h *Hub) handleLeaveRoom(c *Client, env *Envelope) {
	username, ok := h.requireIdentity(c)
	if !ok {
		return
	}
	if env.RoomID == "" {
		c.enqueue(errorEvent("Room ID is required"))
		return
	}

	if err := h.rooms.Leave(env.RoomID, username); err != nil {
		c.enqueue(errorEvent(leaveErrorMessage(err)))
		return
	}
	delete(c.rooms, env.RoomID)

	c.enqueue(event(map[string]any{
		"type":   TypeRoomLeft,
		"roomId": env.RoomID,
	}))
	h.notifyLeft(env.RoomID, username)

	log.Printf("User %s left room %s", username, env.RoomID)
}

func (h *Hub) handleChat(c *Client, env *Envelope) {
	username, ok := h.requireIdentity(c)
	if !ok {
		return
	}
	if env.RoomID == "" || env.Message == "" {
		c.enqueue(errorEvent("Room ID and message are required"))
		return
	}
	if !h.rooms.IsMember(env.RoomID, username) {
		c.enqueue(errorEvent("You are not a member of this room"))
		return
	}

	msg, err := h.msgs.NewMessage(env.RoomID, username, env.Message, env.IsEncrypted)
	if err != nil {
		c.enqueue(errorEvent(err.Error()))
		return
	}

	// Durability is best-effort for the live path: the sender hears
	// about a persistence failure, but connected members still get the
	// message.
	if err := h.msgs.Append(msg); err != nil {
		log.Printf("Error saving message in room %s: %v", env.RoomID, err)
		c.enqueue(errorEvent("Failed to save message"))
	}

	chat := event(map[string]any{
		"type":        TypeChat,
		"id":          msg.ID,
		"roomId":      msg.RoomID,
		"sender":      msg.Sender,
		"message":     msg.Content,
		"timestamp":   msg.Timestamp,
		"isEncrypted": msg.IsEncrypted,
	})

	// Fan out to the others; the sender gets its own copy as a direct
	// confirmation echo instead of racing the broadcast.
	h.broadcast(env.RoomID, chat, username)
	c.enqueue(chat)
}

func (h *Hub) handleFileTransfer(c *Client, env *Envelope) {
	username, ok := h.requireIdentity(c)
	if !ok {
		return
	}
	if env.RoomID == "" || env.FileInfo == nil {
		c.enqueue(errorEvent("Room ID and file info are required"))
		return
	}
	if !h.rooms.IsMember(env.RoomID, username) {
		c.enqueue(errorEvent("You are not a member of this room"))
		return
	}

	fileInfo := make(map[string]any, len(env.FileInfo)+1)
	for k, v := range env.FileInfo {
		fileInfo[k] = v
	}
	fileInfo["sharedAt"] = time.Now().UnixMilli()

	// File notices go to every member, the uploader included.
	h.broadcast(env.RoomID, event(map[string]any{
		"type":     TypeFileShared,
		"roomId":   env.RoomID,
		"username": username,
		"fileInfo": fileInfo,
	}), "")

	log.Printf("File shared by %s in room %s", username, env.RoomID)
}

// broadcast delivers one serialized event to every member of the room
// with a live connection, except excludeUser. Members who are offline
// are skipped silently: fire-and-forget, at-most-once.
func (h *Hub) broadcast(roomID string, data []byte, excludeUser string) {
	members, err := h.rooms.Members(roomID)
	if err != nil {
		return
	}

	for _, member := range members {
		if member == excludeUser {
			continue
		}
		if client, online := h.presence.Lookup(member); online {
			client.enqueue(data)
		}
	}
}

// systemMessage broadcasts an unpersisted system notice to the room.
func (h *Hub) systemMessage(roomID, text string) {
	msg, err := h.msgs.NewMessage(roomID, SystemSender, text, false)
	if err != nil {
		return
	}
	h.broadcast(roomID, event(map[string]any{
		"type":        TypeChat,
		"id":          msg.ID,
		"roomId":      msg.RoomID,
		"sender":      msg.Sender,
		"message":     msg.Content,
		"timestamp":   msg.Timestamp,
		"isEncrypted": false,
	}), SystemSender)
}

func (h *Hub) notifyLeft(roomID, username string) {
	members, err := h.rooms.Members(roomID)
	activeUsers := 0
	if err == nil {
		activeUsers = len(members)
	}
	h.broadcast(roomID, event(map[string]any{
		"type":        TypeUserLeft,
		"roomId":      roomID,
		"username":    username,
		"activeUsers": activeUsers,
	}), username)
	h.systemMessage(roomID, username+" left the room")
}

// disconnect runs the transport-close cleanup exactly once: leave every
// joined room with a departure notice, then release the identity if
// this connection still owns it. A superseded connection skips the room
// cleanup entirely; its identity lives on through the successor.
// The send channel stays open; marking the client closed makes
// concurrent fan-outs drop their writes, and the done channel stops the
// write pump.
func (h *Hub) disconnect(c *Client) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)

		username := c.Username()
		if username == "" {
			return
		}

		if !h.presence.IsCurrent(username, c) {
			log.Printf("Superseded connection for %s closed", username)
			return
		}

		for roomID := range c.rooms {
			if err := h.rooms.Leave(roomID, username); err != nil {
				continue
			}
			h.notifyLeft(roomID, username)
		}

		h.presence.UnbindIf(username, c)
		log.Printf("Client %s disconnected", username)
	})
}
