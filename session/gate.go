package session

import "sync"

// Gate admits one session at a time across the initiating and responding sides.
type Gate struct {
	mu    sync.Mutex
	owner string
}

// TryAcquire takes the gate for owner. It never blocks.
func (g *Gate) TryAcquire(owner string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.owner != "" {
		return false
	}
	g.owner = owner
	return true
}

func (g *Gate) Release(owner string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.owner == owner {
		g.owner = ""
	}
}

// Owner is the id of the session holding the gate, or "".
func (g *Gate) Owner() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.owner
}
