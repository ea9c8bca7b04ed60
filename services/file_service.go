package services

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"

	"tunnel-chat/models"
	"tunnel-chat/repository"
	"tunnel-chat/utils"
)

var (
	ErrFileNotFound  = errors.New("file not found")
	ErrFileForbidden = errors.New("you don't have access to this file")
)

// FileService stores uploads under uploadsDir. Files shared into an
// encrypted room are sealed with the room key before touching disk; the
// ciphertext gets .nonce and .tag sidecars keyed by the same filename.
type FileService struct {
	files      repository.FileRepository
	rooms      *RoomService
	uploadsDir string
}

func NewFileService(fileRepo repository.FileRepository, rooms *RoomService, uploadsDir string) (*FileService, error) {
	if err := os.MkdirAll(uploadsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create uploads dir: %w", err)
	}
	return &FileService{files: fileRepo, rooms: rooms, uploadsDir: uploadsDir}, nil
}

func (s *FileService) Upload(data []byte, originalName, mimeType, uploader, roomID string, encrypt bool) (*models.FileMetadata, error) {
	if len(data) == 0 {
		return nil, errors.New("no file provided")
	}
	if roomID != "" && !s.rooms.IsMember(roomID, uploader) {
		return nil, ErrNotAMember
	}

	// ULIDs sort by upload time, which keeps the uploads dir browsable.
	fileID := ulid.Make().String()
	checksum := utils.ChecksumSHA256(data)
	ext := filepath.Ext(originalName)

	meta := &models.FileMetadata{
		FileID:       fileID,
		OriginalName: originalName,
		Size:         int64(len(data)),
		MimeType:     mimeType,
		Uploader:     uploader,
		UploadTime:   time.Now().UnixMilli(),
		RoomID:       roomID,
		Checksum:     checksum,
	}

	if encrypt {
		if roomID == "" {
			return nil, errors.New("room is not configured for encryption")
		}
		room, err := s.rooms.GetRoom(roomID)
		if err != nil || !room.IsEncrypted {
			return nil, errors.New("room is not configured for encryption")
		}

		ciphertext, nonce, tag, err := utils.EncryptBytes(data, room.EncryptionKey)
		if err != nil {
			return nil, err
		}

		meta.Filename = fileID + "_encrypted" + ext
		meta.IsEncrypted = true

		path := filepath.Join(s.uploadsDir, meta.Filename)
		if err := os.WriteFile(path, ciphertext, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write file: %w", err)
		}
		if err := os.WriteFile(path+".nonce", nonce, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write nonce: %w", err)
		}
		if err := os.WriteFile(path+".tag", tag, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write tag: %w", err)
		}
	} else {
		meta.Filename = fileID + ext
		if err := os.WriteFile(filepath.Join(s.uploadsDir, meta.Filename), data, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write file: %w", err)
		}
	}

	if err := s.files.Save(meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// Download returns the plaintext of a stored file after a membership
// check. For encrypted files it refuses to serve anything when the room
// is gone or no longer configured for encryption.
func (s *FileService) Download(fileID, username string) ([]byte, *models.FileMetadata, error) {
	meta, err := s.files.FindByID(fileID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, ErrFileNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	if meta.RoomID != "" && !s.rooms.IsMember(meta.RoomID, username) {
		return nil, nil, ErrFileForbidden
	}

	path := filepath.Join(s.uploadsDir, meta.Filename)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, ErrFileNotFound
	}

	if meta.IsEncrypted {
		room, err := s.rooms.GetRoom(meta.RoomID)
		if err != nil || !room.IsEncrypted {
			return nil, nil, errors.New("cannot decrypt file: missing encryption information")
		}

		nonce, err := os.ReadFile(path + ".nonce")
		if err != nil {
			return nil, nil, errors.New("cannot decrypt file: missing encryption information")
		}
		tag, err := os.ReadFile(path + ".tag")
		if err != nil {
			return nil, nil, errors.New("cannot decrypt file: missing encryption information")
		}

		data, err = utils.DecryptBytes(data, nonce, tag, room.EncryptionKey)
		if err != nil {
			return nil, nil, err // ErrDecryptionFailed: tampering, not a miss
		}
	}

	if err := s.files.IncrementDownloads(fileID); err != nil {
		log.Printf("Failed to bump download count for %s: %v", fileID, err)
	}
	meta.DownloadCount++
	return data, meta, nil
}

// Delete removes a file and its sidecars. Only the uploader (or admin)
// may delete.
func (s *FileService) Delete(fileID, username string) error {
	meta, err := s.files.FindByID(fileID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrFileNotFound
	}
	if err != nil {
		return err
	}

	if meta.Uploader != username && username != "admin" {
		return errors.New("you don't have permission to delete this file")
	}

	path := filepath.Join(s.uploadsDir, meta.Filename)
	os.Remove(path)
	if meta.IsEncrypted {
		os.Remove(path + ".nonce")
		os.Remove(path + ".tag")
	}

	return s.files.Delete(fileID)
}
