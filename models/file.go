package models

// FileMetadata describes one uploaded file. For encrypted uploads the
// stored artifact is ciphertext with nonce/tag sidecars next to it.
type FileMetadata struct {
	FileID       string `json:"fileId"`
	OriginalName string `json:"originalName"`
	Filename     string `json:"filename"` // name on disk under the uploads dir
	Size         int64  `json:"size"`
	MimeType     string `json:"mimeType"`
	Uploader     string `json:"uploader"`
	UploadTime   int64  `json:"uploadTime"` // unix milliseconds
	RoomID       string `json:"roomId,omitempty"`
	IsEncrypted  bool   `json:"isEncrypted"`
	// SHA-256 of the plaintext; internal integrity record, not exposed.
	Checksum      string `json:"-"`
	DownloadCount int    `json:"downloadCount"`
}
