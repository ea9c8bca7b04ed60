package ws

import (
	"testing"
	"time"
)

func newSweeperForTest(t *testing.T) (*Sweeper, *Hub) {
	t.Helper()
	h, _, _ := newHubForTest(t, nil)
	return NewSweeper(h, time.Minute, 10*time.Minute, 30*time.Minute), h
}

func TestPingRoundTerminatesUnresponsive(t *testing.T) {
	s, h := newSweeperForTest(t)
	connect(t, h, "alice")

	// First round: the previous interval counts as acknowledged, so the
	// client survives and gets pinged.
	s.pingRound()
	if _, online := h.Presence().Lookup("alice"); !online {
		t.Fatal("responsive client must survive the first ping round")
	}

	// No pong before the next round: terminated.
	s.pingRound()
	if _, online := h.Presence().Lookup("alice"); online {
		t.Fatal("unacknowledged ping must terminate the connection")
	}
}

func TestPingRoundKeepsAcknowledged(t *testing.T) {
	s, h := newSweeperForTest(t)
	alice := connect(t, h, "alice")

	for i := 0; i < 3; i++ {
		s.pingRound()
		alice.markAlive() // pong arrived
	}
	if _, online := h.Presence().Lookup("alice"); !online {
		t.Fatal("client answering every ping must stay bound")
	}
}

func TestIdleRoundEvictsStaleClients(t *testing.T) {
	s, h := newSweeperForTest(t)
	alice := connect(t, h, "alice")
	connect(t, h, "bob")

	alice.mu.Lock()
	alice.lastActive = time.Now().Add(-31 * time.Minute)
	alice.mu.Unlock()

	// Alice still answers pings; the idle sweep evicts her anyway.
	alice.markAlive()
	s.idleRound()

	if _, online := h.Presence().Lookup("alice"); online {
		t.Fatal("idle client must be evicted even when its transport is alive")
	}
	if _, online := h.Presence().Lookup("bob"); !online {
		t.Fatal("active client must survive the idle sweep")
	}
}

func TestIdleRoundWithInjectedClock(t *testing.T) {
	s, h := newSweeperForTest(t)
	connect(t, h, "alice")

	// Nobody is stale right now.
	s.idleRound()
	if _, online := h.Presence().Lookup("alice"); !online {
		t.Fatal("fresh client evicted")
	}

	// Jump the sweeper's clock past the threshold.
	s.now = func() time.Time { return time.Now().Add(31 * time.Minute) }
	s.idleRound()
	if _, online := h.Presence().Lookup("alice"); online {
		t.Fatal("client should be evicted once the clock passes the threshold")
	}
}
