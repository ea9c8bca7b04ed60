package ws

import (
	"encoding/json"
	"log"
)

// Inbound envelope types.
const (
	TypeAuth         = "AUTH"
	TypeSetUsername  = "SET_USERNAME"
	TypeJoinRoom     = "JOIN_ROOM"
	TypeLeaveRoom    = "LEAVE_ROOM"
	TypeChat         = "CHAT"
	TypeFileTransfer = "FILE_TRANSFER"
)

// Outbound event types.
const (
	TypeAuthResponse = "AUTH_RESPONSE"
	TypeUsernameSet  = "USERNAME_SET"
	TypeRoomJoined   = "ROOM_JOINED"
	TypeRoomLeft     = "ROOM_LEFT"
	TypeUserJoined   = "USER_JOINED"
	TypeUserLeft     = "USER_LEFT"
	TypeFileShared   = "FILE_SHARED"
	TypeError        = "ERROR"
)

// SystemSender is the sender name on system notices ("x joined the room").
const SystemSender = "system"

// Envelope is one inbound wire message. The required discriminator is
// Type; every other field is type-specific. Unknown fields are ignored
// by encoding/json, which is exactly the contract.
type Envelope struct {
	Type        string         `json:"type"`
	Token       string         `json:"token,omitempty"`
	Username    string         `json:"username,omitempty"`
	RoomID      string         `json:"roomId,omitempty"`
	Message     string         `json:"message,omitempty"`
	IsEncrypted bool           `json:"isEncrypted,omitempty"`
	FileInfo    map[string]any `json:"fileInfo,omitempty"`
}

// event serializes a flat outbound object. Outbound events never nest an
// envelope inside an envelope; the type field sits beside the payload.
func event(fields map[string]any) []byte {
	data, err := json.Marshal(fields)
	if err != nil {
		log.Printf("Failed to marshal event: %v", err)
		return nil
	}
	return data
}

func errorEvent(message string) []byte {
	return event(map[string]any{
		"type":  TypeError,
		"error": message,
	})
}
