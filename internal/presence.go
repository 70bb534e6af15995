package internal

import (
	"sort"
	"sync"
)

// PresenceTracker counts live sessions per identity. Identities are
// self-asserted, so two people using the same name share one entry.
type PresenceTracker struct {
	mu       sync.Mutex
	sessions map[string]int
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{sessions: make(map[string]int)}
}

// Increment records one more session for identity and returns the new count.
func (p *PresenceTracker) Increment(identity string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[identity]++
	return p.sessions[identity]
}

// Decrement releases one session. Unknown identities are ignored.
func (p *PresenceTracker) Decrement(identity string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	remaining := p.sessions[identity] - 1
	if remaining <= 0 {
		delete(p.sessions, identity)
		return 0
	}
	p.sessions[identity] = remaining
	return remaining
}

func (p *PresenceTracker) Online(identity string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions[identity] > 0
}

// ActiveCount is the number of distinct identities online.
func (p *PresenceTracker) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// Identities lists the identities online, sorted.
func (p *PresenceTracker) Identities() []string {
	p.mu.Lock()
	names := make([]string, 0, len(p.sessions))
	for name := range p.sessions {
		names = append(names, name)
	}
	p.mu.Unlock()
	sort.Strings(names)
	return names
}
