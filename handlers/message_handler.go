package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"tunnel-chat/services"
)

type MessageHandler struct {
	msgs *services.MessageService
}

func NewMessageHandler(msgs *services.MessageService) *MessageHandler {
	return &MessageHandler{msgs: msgs}
}

// History serves the last messages of a room to a member. For encrypted
// rooms the response carries the room key so the client can decrypt.
func (h *MessageHandler) History(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			limit = v
		}
	}

	msgs, room, err := h.msgs.History(roomID, requestUser(r), limit)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrRoomNotFound):
			respondWithError(w, "Not found", "Room not found", http.StatusNotFound)
		case errors.Is(err, services.ErrNotAMember):
			respondWithError(w, "Forbidden", "You are not a member of this room", http.StatusForbidden)
		default:
			respondWithError(w, "Internal error", "Failed to get message history", http.StatusInternalServerError)
		}
		return
	}

	response := map[string]interface{}{
		"messages":    msgs,
		"isEncrypted": room.IsEncrypted,
	}
	if room.IsEncrypted {
		response["encryptionKey"] = room.EncryptionKey
	}
	respondWithSuccess(w, response)
}
