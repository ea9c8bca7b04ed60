package ws

import (
	"context"
	"log"
	"time"
)

// Sweeper reaps dead and abandoned connections on two independent
// timers: a ping round that terminates connections whose previous ping
// went unacknowledged, and an idle round that evicts identities whose
// last activity is older than the threshold even if their transport
// still answers pings.
type Sweeper struct {
	hub *Hub

	pingInterval  time.Duration
	idleInterval  time.Duration
	idleThreshold time.Duration

	now func() time.Time
}

func NewSweeper(hub *Hub, pingInterval, idleInterval, idleThreshold time.Duration) *Sweeper {
	return &Sweeper{
		hub:           hub,
		pingInterval:  pingInterval,
		idleInterval:  idleInterval,
		idleThreshold: idleThreshold,
		now:           time.Now,
	}
}

// Run blocks until the context is cancelled. These sweeps are the only
// timeout-driven mechanism in the live core.
func (s *Sweeper) Run(ctx context.Context) {
	pingTicker := time.NewTicker(s.pingInterval)
	idleTicker := time.NewTicker(s.idleInterval)
	defer pingTicker.Stop()
	defer idleTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			s.pingRound()
		case <-idleTicker.C:
			s.idleRound()
		}
	}
}

func (s *Sweeper) pingRound() {
	for _, client := range s.hub.Presence().Snapshot() {
		if !client.aliveAndArm() {
			log.Printf("Terminating unresponsive client %s", client.Username())
			client.terminate()
			continue
		}
		client.sendPing()
	}
}

func (s *Sweeper) idleRound() {
	cutoff := s.now().Add(-s.idleThreshold)
	for _, client := range s.hub.Presence().Snapshot() {
		if client.LastActive().Before(cutoff) {
			log.Printf("Removing inactive client %s", client.Username())
			client.terminate()
		}
	}
}
