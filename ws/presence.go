package ws

import (
	"sync"
)

// Presence is the single source of truth for who is online: a live
// mapping from authenticated identity to its connection. It is mutated
// by every session handler and read by the broadcast engine and the
// sweeper, so all access goes through this lock-protected surface.
type Presence struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewPresence() *Presence {
	return &Presence{clients: make(map[string]*Client)}
}

// Bind registers the connection for an identity. A previous binding for
// the same identity is superseded and returned so the caller can close
// it; the registry holds at most one connection per identity.
func (p *Presence) Bind(username string, c *Client) (superseded *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()

	old := p.clients[username]
	p.clients[username] = c
	if old == c {
		return nil
	}
	return old
}

// UnbindIf removes the identity only when it is still bound to the
// given connection, so a superseded socket closing late cannot knock
// out its successor.
func (p *Presence) UnbindIf(username string, c *Client) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.clients[username] != c {
		return false
	}
	delete(p.clients, username)
	return true
}

func (p *Presence) Lookup(username string) (*Client, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.clients[username]
	return c, ok
}

// IsCurrent reports whether the connection is the one registered for
// the identity.
func (p *Presence) IsCurrent(username string, c *Client) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.clients[username] == c
}

// Snapshot returns the current connections; the sweeper iterates this
// without holding the lock.
func (p *Presence) Snapshot() []*Client {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*Client, 0, len(p.clients))
	for _, c := range p.clients {
		out = append(out, c)
	}
	return out
}

// Online lists the identities currently bound to a live connection.
func (p *Presence) Online() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]string, 0, len(p.clients))
	for username := range p.clients {
		out = append(out, username)
	}
	return out
}
