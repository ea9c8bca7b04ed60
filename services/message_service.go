package services

import (
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"tunnel-chat/config"
	"tunnel-chat/models"
	"tunnel-chat/repository"
)

type MessageService struct {
	msgs   repository.MessageRepository
	rooms  *RoomService
	config *config.Config
}

func NewMessageService(msgRepo repository.MessageRepository, rooms *RoomService, cfg *config.Config) *MessageService {
	return &MessageService{msgs: msgRepo, rooms: rooms, config: cfg}
}

// NewMessage stamps a chat payload with a fresh id and timestamp. It
// does not persist; the session handler decides what to do when
// persistence fails.
func (s *MessageService) NewMessage(roomID, sender, content string, isEncrypted bool) (*models.Message, error) {
	if content == "" {
		return nil, errors.New("empty content")
	}
	if len(content) > s.config.MaxMessageLength {
		return nil, errors.New("message too long (max " + strconv.Itoa(s.config.MaxMessageLength) + " characters)")
	}

	return &models.Message{
		ID:          uuid.NewString(),
		RoomID:      roomID,
		Sender:      sender,
		Content:     content,
		Timestamp:   time.Now().UnixMilli(),
		IsEncrypted: isEncrypted,
	}, nil
}

func (s *MessageService) Append(msg *models.Message) error {
	return s.msgs.Append(msg)
}

func (s *MessageService) Count(roomID string) int {
	count, err := s.msgs.CountByRoom(roomID)
	if err != nil {
		return 0
	}
	return count
}

// History returns the last messages of a room for a member, along with
// the room key when the room is encrypted so the caller can decrypt
// them client-side.
func (s *MessageService) History(roomID, username string, limit int) ([]models.Message, *models.Room, error) {
	room, err := s.rooms.GetRoom(roomID)
	if err != nil {
		return nil, nil, err
	}
	if !s.rooms.IsMember(roomID, username) {
		return nil, nil, ErrNotAMember
	}

	if limit <= 0 {
		limit = 50
	}
	if limit > s.config.HistoryLimit {
		limit = s.config.HistoryLimit
	}

	msgs, err := s.msgs.ListByRoom(roomID, limit)
	if err != nil {
		return nil, nil, err
	}
	return msgs, room, nil
}
