package services

import (
	"errors"
	"strings"
	"testing"

	"tunnel-chat/config"
	"tunnel-chat/repository"
)

func newMessageService(rooms *RoomService) *MessageService {
	cfg := &config.Config{MaxMessageLength: 100, HistoryLimit: 50}
	return NewMessageService(repository.NewInMemoryMessageRepo(50), rooms, cfg)
}

func TestNewMessage(t *testing.T) {
	svc := newMessageService(newRoomService(t))

	msg, err := svc.NewMessage("r1", "alice", "hello", false)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	if msg.ID == "" || msg.Timestamp == 0 {
		t.Fatalf("message must be stamped with id and timestamp: %+v", msg)
	}
	if msg.Sender != "alice" || msg.RoomID != "r1" {
		t.Fatalf("unexpected message: %+v", msg)
	}

	if _, err := svc.NewMessage("r1", "alice", "", false); err == nil {
		t.Fatal("empty content must be rejected")
	}
	if _, err := svc.NewMessage("r1", "alice", strings.Repeat("x", 101), false); err == nil {
		t.Fatal("oversized content must be rejected")
	}
}

func TestHistoryRequiresMembership(t *testing.T) {
	rooms := newRoomService(t)
	rooms.CreateRoom("General", "system", false, false)
	rooms.Join("General", "alice")

	svc := newMessageService(rooms)
	msg, _ := svc.NewMessage("General", "alice", "hello", false)
	if err := svc.Append(msg); err != nil {
		t.Fatalf("Append: %v", err)
	}

	msgs, room, err := svc.History("General", "alice", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hello" {
		t.Fatalf("unexpected history: %v", msgs)
	}
	if room.ID != "General" {
		t.Fatalf("unexpected room: %+v", room)
	}

	if _, _, err := svc.History("General", "bob", 10); !errors.Is(err, ErrNotAMember) {
		t.Fatalf("non-member history should be ErrNotAMember, got %v", err)
	}
	if _, _, err := svc.History("nope", "alice", 10); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("missing room should be ErrRoomNotFound, got %v", err)
	}
}

func TestHistoryDisclosesRoomKey(t *testing.T) {
	rooms := newRoomService(t)
	created, _ := rooms.CreateRoom("Secret", "alice", true, true)

	svc := newMessageService(rooms)
	_, room, err := svc.History(created.ID, "alice", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if !room.IsEncrypted || room.EncryptionKey != created.EncryptionKey {
		t.Fatal("members must receive the room key with encrypted history")
	}
}
