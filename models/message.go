package models

// Message is one chat envelope as stored and broadcast. For encrypted
// rooms Content is ciphertext produced with the room key; the server
// never sees plaintext for those.
type Message struct {
	ID          string `json:"id"`
	RoomID      string `json:"roomId"`
	Sender      string `json:"sender"`
	Content     string `json:"content"`
	Timestamp   int64  `json:"timestamp"` // unix milliseconds
	IsEncrypted bool   `json:"isEncrypted"`
}
