package repository

import (
	"errors"
	"sync"

	"tunnel-chat/models"
)

// RoomRepository is the system of record for rooms and their recorded
// member sets. The live core keeps its own member cache on top of this
// and writes every mutation through.
type RoomRepository interface {
	Create(room *models.Room, creator string) error
	FindByID(id string) (*models.Room, error)
	ListPublic() ([]models.Room, error)
	ListPrivateFor(username string) ([]models.Room, error)
	Delete(id string) error

	AddMember(roomID, username string) error
	RemoveMember(roomID, username string) error
	Members(roomID string) ([]string, error)
	IsMember(roomID, username string) (bool, error)
}

type InMemoryRoomRepo struct {
	mu      sync.RWMutex
	rooms   map[string]*models.Room
	members map[string]map[string]struct{} // roomID -> usernames
}

func NewInMemoryRoomRepo() *InMemoryRoomRepo {
	return &InMemoryRoomRepo{
		rooms:   make(map[string]*models.Room),
		members: make(map[string]map[string]struct{}),
	}
}

func (r *InMemoryRoomRepo) Create(room *models.Room, creator string) error {
	if room.ID == "" || room.Name == "" {
		return errors.New("room id and name are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rooms[room.ID]; exists {
		return errors.New("room already exists")
	}

	r.rooms[room.ID] = room
	r.members[room.ID] = make(map[string]struct{})
	if creator != "" {
		r.members[room.ID][creator] = struct{}{}
	}
	return nil
}

func (r *InMemoryRoomRepo) FindByID(id string) (*models.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[id]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *room
	return &copy, nil
}

func (r *InMemoryRoomRepo) ListPublic() ([]models.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make([]models.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		if !room.IsPrivate {
			rooms = append(rooms, *room)
		}
	}
	return rooms, nil
}

func (r *InMemoryRoomRepo) ListPrivateFor(username string) ([]models.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var rooms []models.Room
	for id, room := range r.rooms {
		if !room.IsPrivate {
			continue
		}
		if _, ok := r.members[id][username]; ok {
			rooms = append(rooms, *room)
		}
	}
	return rooms, nil
}

func (r *InMemoryRoomRepo) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[id]; !ok {
		return ErrNotFound
	}
	delete(r.rooms, id)
	delete(r.members, id)
	return nil
}

func (r *InMemoryRoomRepo) AddMember(roomID, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.members[roomID]
	if !ok {
		return ErrNotFound
	}
	members[username] = struct{}{} // idempotent
	return nil
}

func (r *InMemoryRoomRepo) RemoveMember(roomID, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.members[roomID]
	if !ok {
		return ErrNotFound
	}
	delete(members, username)
	return nil
}

func (r *InMemoryRoomRepo) Members(roomID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.members[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]string, 0, len(members))
	for username := range members {
		out = append(out, username)
	}
	return out, nil
}

func (r *InMemoryRoomRepo) IsMember(roomID, username string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.members[roomID]
	if !ok {
		return false, nil
	}
	_, isMember := members[username]
	return isMember, nil
}
