package models

import "time"

// Room is a named channel. Public rooms admit any authenticated user;
// private rooms require recorded membership before a live join. Encrypted
// rooms carry a symmetric key that is handed out only through join and
// room-creation responses.
type Room struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	IsPrivate   bool      `json:"isPrivate"`
	IsEncrypted bool      `json:"isEncrypted"`
	// Hex-encoded 256-bit key. Never serialized with the room itself;
	// disclosure happens through explicit response fields.
	EncryptionKey string    `json:"-"`
	Creator       string    `json:"creator,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}
