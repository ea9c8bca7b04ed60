package services

import (
	"errors"
	"testing"

	"tunnel-chat/repository"
)

func newRoomService(t *testing.T) *RoomService {
	t.Helper()
	return NewRoomService(repository.NewInMemoryRoomRepo())
}

func TestCreateRoomPublic(t *testing.T) {
	svc := newRoomService(t)

	room, err := svc.CreateRoom("General", "system", false, false)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if room.ID != "General" {
		t.Fatalf("public rooms are addressed by name, got id %q", room.ID)
	}
	if room.EncryptionKey != "" {
		t.Fatal("public room must not carry a key")
	}
}

func TestCreateRoomWithoutCreator(t *testing.T) {
	svc := newRoomService(t)

	// Seeded lobbies are created this way: they start with no members,
	// so the first joiner sees a count of one.
	if _, err := svc.CreateRoom("General", "", false, false); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	members, err := svc.Members("General")
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("creatorless room should start empty, got %v", members)
	}
}

func TestCreateRoomValidation(t *testing.T) {
	svc := newRoomService(t)

	if _, err := svc.CreateRoom("ab", "alice", false, false); err == nil {
		t.Fatal("short name must be rejected")
	}
	if _, err := svc.CreateRoom("Public Encrypted", "alice", false, true); err == nil {
		t.Fatal("public rooms cannot be encrypted")
	}
}

func TestCreateRoomPrivateEncrypted(t *testing.T) {
	svc := newRoomService(t)

	room, err := svc.CreateRoom("War Room", "alice", true, true)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if room.ID == "War Room" {
		t.Fatal("private rooms must get a generated id")
	}
	if !room.IsEncrypted || len(room.EncryptionKey) != 64 {
		t.Fatalf("expected a 256-bit hex key, got %q", room.EncryptionKey)
	}
	if !svc.IsMember(room.ID, "alice") {
		t.Fatal("creator must be a member")
	}
}

func TestJoinIdempotent(t *testing.T) {
	svc := newRoomService(t)
	svc.CreateRoom("General", "system", false, false)

	if _, err := svc.Join("General", "alice"); err != nil {
		t.Fatalf("first join: %v", err)
	}
	if _, err := svc.Join("General", "alice"); err != nil {
		t.Fatalf("second join must succeed: %v", err)
	}

	members, err := svc.Members("General")
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	count := 0
	for _, m := range members {
		if m == "alice" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("alice should appear once in the member set, got %v", members)
	}
}

func TestJoinPrivateRequiresMembership(t *testing.T) {
	svc := newRoomService(t)
	room, _ := svc.CreateRoom("Secret", "alice", true, false)

	if _, err := svc.Join(room.ID, "bob"); !errors.Is(err, ErrNotAMember) {
		t.Fatalf("non-member joining a private room should be ErrNotAMember, got %v", err)
	}

	// The creator is already a member, so the join is idempotent.
	if _, err := svc.Join(room.ID, "alice"); err != nil {
		t.Fatalf("member join: %v", err)
	}

	if _, err := svc.Join("nope", "alice"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("unknown room should be ErrRoomNotFound, got %v", err)
	}
}

func TestLeaveEmptiesPrivateRoom(t *testing.T) {
	svc := newRoomService(t)
	room, _ := svc.CreateRoom("Ephemeral", "alice", true, false)

	if err := svc.Leave(room.ID, "alice"); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if _, err := svc.GetRoom(room.ID); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("empty private room should be deleted, got %v", err)
	}
}

func TestLeavePublicRoomKeepsIt(t *testing.T) {
	svc := newRoomService(t)
	svc.CreateRoom("General", "system", false, false)
	svc.Join("General", "alice")

	svc.Leave("General", "system")
	if err := svc.Leave("General", "alice"); err != nil {
		t.Fatalf("Leave: %v", err)
	}

	room, err := svc.GetRoom("General")
	if err != nil {
		t.Fatalf("public room must survive being emptied: %v", err)
	}
	if room.IsPrivate {
		t.Fatalf("unexpected room: %+v", room)
	}

	if err := svc.Leave("General", "alice"); !errors.Is(err, ErrNotAMember) {
		t.Fatalf("leaving twice should be ErrNotAMember, got %v", err)
	}
}

func TestListAccessible(t *testing.T) {
	svc := newRoomService(t)
	svc.CreateRoom("General", "system", false, false)
	svc.CreateRoom("Secret", "alice", true, false)
	svc.CreateRoom("Hidden", "bob", true, false)

	rooms, err := svc.ListAccessible("alice")
	if err != nil {
		t.Fatalf("ListAccessible: %v", err)
	}
	if len(rooms) != 2 {
		t.Fatalf("alice should see General plus her private room, got %v", rooms)
	}
}
