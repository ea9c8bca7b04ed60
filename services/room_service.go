package services

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"tunnel-chat/models"
	"tunnel-chat/repository"
	"tunnel-chat/utils"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	// ErrNotAMember is deliberately distinct from ErrRoomNotFound: a
	// private room you are not in exists, you just cannot use it.
	ErrNotAMember = errors.New("you are not a member of this room")
)

// RoomService is the room membership store: a write-through member
// cache over the room repository. The repository stays the system of
// record; the cache only serves live broadcast resolution, so it is
// loaded lazily per room and every mutation goes to the repository
// first.
type RoomService struct {
	rooms repository.RoomRepository

	mu      sync.Mutex
	members map[string]map[string]struct{} // roomID -> cached member set
}

func NewRoomService(roomRepo repository.RoomRepository) *RoomService {
	return &RoomService{
		rooms:   roomRepo,
		members: make(map[string]map[string]struct{}),
	}
}

func (s *RoomService) CreateRoom(name, creator string, isPrivate, isEncrypted bool) (*models.Room, error) {
	name = strings.TrimSpace(name)
	if len(name) < 3 || len(name) > 30 {
		return nil, errors.New("room name must be between 3 and 30 characters")
	}

	room := &models.Room{
		Name:      name,
		IsPrivate: isPrivate,
		Creator:   creator,
		CreatedAt: time.Now(),
	}

	if isPrivate {
		room.ID = generateRoomID()
		if isEncrypted {
			key, err := utils.GenerateRoomKey()
			if err != nil {
				return nil, err
			}
			room.IsEncrypted = true
			room.EncryptionKey = key
		}
	} else {
		// Public rooms are addressed by name, like the seeded defaults.
		room.ID = name
		if isEncrypted {
			return nil, errors.New("only private rooms can be encrypted")
		}
	}

	if err := s.rooms.Create(room, creator); err != nil {
		return nil, err
	}

	s.mu.Lock()
	set := make(map[string]struct{})
	if creator != "" {
		set[creator] = struct{}{}
	}
	s.members[room.ID] = set
	s.mu.Unlock()

	return room, nil
}

func (s *RoomService) GetRoom(roomID string) (*models.Room, error) {
	room, err := s.rooms.FindByID(roomID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrRoomNotFound
	}
	return room, err
}

// ListAccessible returns every public room plus the private rooms the
// user is a recorded member of.
func (s *RoomService) ListAccessible(username string) ([]models.Room, error) {
	public, err := s.rooms.ListPublic()
	if err != nil {
		return nil, err
	}
	private, err := s.rooms.ListPrivateFor(username)
	if err != nil {
		return nil, err
	}
	return append(public, private...), nil
}

// Join records the identity as a member of the room. Joining a room you
// already belong to succeeds without duplicating anything. Public rooms
// admit anyone; private rooms require membership established beforehand
// through the HTTP surface.
func (s *RoomService) Join(roomID, username string) (*models.Room, error) {
	room, err := s.GetRoom(roomID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	set, err := s.membersLocked(roomID)
	if err != nil {
		return nil, err
	}

	if _, already := set[username]; already {
		return room, nil
	}

	if room.IsPrivate {
		return nil, ErrNotAMember
	}

	if err := s.rooms.AddMember(roomID, username); err != nil {
		return nil, fmt.Errorf("failed to join room: %w", err)
	}
	set[username] = struct{}{}
	return room, nil
}

// Leave removes the identity from the room. A private room left by its
// last member is deleted; public rooms persist empty.
func (s *RoomService) Leave(roomID, username string) error {
	room, err := s.GetRoom(roomID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	set, err := s.membersLocked(roomID)
	if err != nil {
		return err
	}
	if _, ok := set[username]; !ok {
		return ErrNotAMember
	}

	if err := s.rooms.RemoveMember(roomID, username); err != nil {
		return fmt.Errorf("failed to leave room: %w", err)
	}
	delete(set, username)

	if room.IsPrivate && len(set) == 0 {
		if err := s.rooms.Delete(roomID); err != nil {
			log.Printf("Failed to delete empty private room %s: %v", roomID, err)
		}
		delete(s.members, roomID)
	}
	return nil
}

func (s *RoomService) Members(roomID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, err := s.membersLocked(roomID)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(set))
	for username := range set {
		out = append(out, username)
	}
	return out, nil
}

func (s *RoomService) IsMember(roomID, username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, err := s.membersLocked(roomID)
	if err != nil {
		return false
	}
	_, ok := set[username]
	return ok
}

// membersLocked returns the cached member set for the room, loading it
// from the repository on first use. Caller holds s.mu.
func (s *RoomService) membersLocked(roomID string) (map[string]struct{}, error) {
	if set, ok := s.members[roomID]; ok {
		return set, nil
	}

	recorded, err := s.rooms.Members(roomID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}

	set := make(map[string]struct{}, len(recorded))
	for _, username := range recorded {
		set[username] = struct{}{}
	}
	s.members[roomID] = set
	return set, nil
}

func generateRoomID() string {
	suffix := make([]byte, 4)
	rand.Read(suffix)
	return fmt.Sprintf("room_%d_%s", time.Now().UnixMilli(), hex.EncodeToString(suffix))
}
