package client

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestListenerAddAndRemove(t *testing.T) {
	c := New(Config{URL: "ws://localhost:0", Username: "alice"})

	var mu sync.Mutex
	var first, second int

	id1 := c.AddListener("CHAT", func(Event) {
		mu.Lock()
		first++
		mu.Unlock()
	})
	c.AddListener("CHAT", func(Event) {
		mu.Lock()
		second++
		mu.Unlock()
	})

	c.notify("CHAT", nil)

	c.RemoveListener("CHAT", id1)
	c.RemoveListener("CHAT", id1) // removal is idempotent
	c.notify("CHAT", nil)

	mu.Lock()
	defer mu.Unlock()
	if first != 1 {
		t.Fatalf("removed listener should fire exactly once, fired %d times", first)
	}
	if second != 2 {
		t.Fatalf("remaining listener should see both events, got %d", second)
	}
}

func TestListenerScopedByType(t *testing.T) {
	c := New(Config{URL: "ws://localhost:0", Username: "alice"})

	fired := make(chan string, 2)
	c.AddListener("CHAT", func(e Event) { fired <- e.Type })

	c.notify("USER_JOINED", nil)
	c.notify("CHAT", nil)

	select {
	case got := <-fired:
		if got != "CHAT" {
			t.Fatalf("listener for CHAT fired for %s", got)
		}
	case <-time.After(time.Second):
		t.Fatal("listener never fired")
	}
	select {
	case got := <-fired:
		t.Fatalf("unexpected second event: %s", got)
	default:
	}
}

func TestReconnectBackoffSchedule(t *testing.T) {
	base := 10 * time.Millisecond
	maxAttempts := 3

	// Nothing listens on this address; every dial fails immediately.
	c := New(Config{
		URL:         "ws://127.0.0.1:1",
		Username:    "alice",
		BaseDelay:   base,
		MaxAttempts: maxAttempts,
	})

	var mu sync.Mutex
	var delays []time.Duration
	c.after = func(d time.Duration) <-chan time.Time {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		fired := make(chan time.Time, 1)
		fired <- time.Time{}
		return fired
	}

	failed := make(chan Event, 1)
	c.AddListener(EventReconnectFailed, func(e Event) { failed <- e })

	// Simulate an unexpected connection loss.
	c.scheduleReconnect()

	select {
	case <-failed:
	case <-time.After(5 * time.Second):
		t.Fatal("RECONNECT_FAILED never fired")
	}

	// Give any stray goroutine a moment, then check nothing else was
	// scheduled past maxAttempts.
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(delays) != maxAttempts {
		t.Fatalf("expected %d scheduled attempts, got %v", maxAttempts, delays)
	}
	for i, d := range delays {
		want := base * time.Duration(i+1)
		if d != want {
			t.Fatalf("attempt %d should wait %v, got %v", i+1, want, d)
		}
	}
}

func TestCleanDisconnectSuppressesReconnect(t *testing.T) {
	c := New(Config{URL: "ws://127.0.0.1:1", Username: "alice", BaseDelay: time.Millisecond})

	scheduled := make(chan time.Duration, 1)
	c.after = func(d time.Duration) <-chan time.Time {
		scheduled <- d
		fired := make(chan time.Time, 1)
		fired <- time.Time{}
		return fired
	}

	c.Disconnect()
	c.scheduleReconnect()

	select {
	case d := <-scheduled:
		t.Fatalf("clean disconnect must not schedule a retry, got %v", d)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRoomTracking(t *testing.T) {
	c := New(Config{URL: "ws://localhost:0", Username: "alice"})

	// Not connected: the send fails but the room is still tracked for
	// the next successful connect.
	if err := c.JoinRoom("General"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	c.mu.Lock()
	rooms := c.trackedRoomsLocked()
	c.mu.Unlock()
	if len(rooms) != 1 || rooms[0] != "General" {
		t.Fatalf("General should be tracked, got %v", rooms)
	}

	c.JoinRoom("Random")
	c.LeaveRoom("General")
	c.mu.Lock()
	rooms = c.trackedRoomsLocked()
	c.mu.Unlock()
	if len(rooms) != 1 || rooms[0] != "Random" {
		t.Fatalf("only Random should remain tracked, got %v", rooms)
	}
}

func TestSendWithoutConnection(t *testing.T) {
	c := New(Config{URL: "ws://localhost:0", Username: "alice"})
	if err := c.Chat("General", "hi", false); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}
