package repository

import (
	"strconv"
	"testing"

	"tunnel-chat/models"
)

func TestMessageRepoCapEviction(t *testing.T) {
	repo := NewInMemoryMessageRepo(3)

	for i := 0; i < 5; i++ {
		err := repo.Append(&models.Message{
			ID:      strconv.Itoa(i),
			RoomID:  "r1",
			Sender:  "alice",
			Content: "msg " + strconv.Itoa(i),
		})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	count, err := repo.CountByRoom("r1")
	if err != nil {
		t.Fatalf("CountByRoom: %v", err)
	}
	if count != 3 {
		t.Fatalf("cap is 3, got %d messages", count)
	}

	history, err := repo.ListByRoom("r1", 0)
	if err != nil {
		t.Fatalf("ListByRoom: %v", err)
	}
	if history[0].ID != "2" || history[2].ID != "4" {
		t.Fatalf("oldest messages should be evicted first, got %v", history)
	}
}

func TestMessageRepoListLimit(t *testing.T) {
	repo := NewInMemoryMessageRepo(100)
	for i := 0; i < 10; i++ {
		repo.Append(&models.Message{ID: strconv.Itoa(i), RoomID: "r1"})
	}

	history, err := repo.ListByRoom("r1", 4)
	if err != nil {
		t.Fatalf("ListByRoom: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(history))
	}
	if history[0].ID != "6" {
		t.Fatalf("limit should keep the newest messages, got first=%s", history[0].ID)
	}

	empty, err := repo.ListByRoom("unknown", 10)
	if err != nil {
		t.Fatalf("ListByRoom: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("unknown room should have no history, got %v", empty)
	}
}
