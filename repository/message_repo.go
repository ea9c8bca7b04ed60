package repository

import (
	"errors"
	"sync"

	"tunnel-chat/models"
)

type MessageRepository interface {
	// Append stores one message, evicting the oldest once the per-room
	// cap is reached.
	Append(msg *models.Message) error
	ListByRoom(roomID string, limit int) ([]models.Message, error)
	CountByRoom(roomID string) (int, error)
}

type InMemoryMessageRepo struct {
	mu   sync.RWMutex
	cap  int
	byR  map[string][]models.Message
}

func NewInMemoryMessageRepo(historyCap int) *InMemoryMessageRepo {
	if historyCap <= 0 {
		historyCap = 100
	}
	return &InMemoryMessageRepo{
		cap: historyCap,
		byR: make(map[string][]models.Message),
	}
}

func (r *InMemoryMessageRepo) Append(msg *models.Message) error {
	if msg == nil {
		return errors.New("nil message")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	history := r.byR[msg.RoomID]
	if len(history) >= r.cap {
		history = history[1:]
	}
	r.byR[msg.RoomID] = append(history, *msg)
	return nil
}

func (r *InMemoryMessageRepo) ListByRoom(roomID string, limit int) ([]models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	history := r.byR[roomID]
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	out := make([]models.Message, len(history))
	copy(out, history)
	return out, nil
}

func (r *InMemoryMessageRepo) CountByRoom(roomID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byR[roomID]), nil
}
