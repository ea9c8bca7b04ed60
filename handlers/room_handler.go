package handlers

import (
	"encoding/json"
	"net/http"

	"tunnel-chat/services"
	"tunnel-chat/ws"
)

type RoomHandler struct {
	hub   *ws.Hub
	rooms *services.RoomService
}

func NewRoomHandler(hub *ws.Hub, rooms *services.RoomService) *RoomHandler {
	return &RoomHandler{hub: hub, rooms: rooms}
}

// List returns every public room plus the caller's private rooms.
func (h *RoomHandler) List(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.rooms.ListAccessible(requestUser(r))
	if err != nil {
		respondWithError(w, "Internal error", "Failed to list rooms", http.StatusInternalServerError)
		return
	}
	respondWithSuccess(w, rooms)
}

// Create makes a room. Private rooms may be encrypted; the generated
// room key is returned once, here, to the creator.
func (h *RoomHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		IsPrivate   bool   `json:"isPrivate"`
		IsEncrypted bool   `json:"isEncrypted"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, "Invalid JSON", "Bad request format", http.StatusBadRequest)
		return
	}

	room, err := h.rooms.CreateRoom(req.Name, requestUser(r), req.IsPrivate, req.IsEncrypted)
	if err != nil {
		respondWithError(w, "Room creation failed", err.Error(), http.StatusBadRequest)
		return
	}

	response := map[string]interface{}{"room": room}
	if room.IsEncrypted {
		response["encryptionKey"] = room.EncryptionKey
	}
	respondWithSuccess(w, response)
}

// OnlineUsers reports the identities currently bound to a live socket.
func (h *RoomHandler) OnlineUsers(w http.ResponseWriter, r *http.Request) {
	respondWithSuccess(w, map[string]interface{}{
		"users": h.hub.Presence().Online(),
	})
}
