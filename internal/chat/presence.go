package chat

import (
	"sort"
	"sync"
)

// PresenceTracker keeps the set of users currently online. It is fed
// exclusively by channel events, never by REST polling. The set is left
// stale across a disconnect and replaced wholesale by the snapshot that
// follows a reconnect.
type PresenceTracker struct {
	mu     sync.RWMutex
	online map[string]struct{}
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{online: make(map[string]struct{})}
}

func (p *PresenceTracker) SetOnline(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[userID] = struct{}{}
}

func (p *PresenceTracker) SetOffline(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.online, userID)
}

// Replace swaps in a full snapshot.
func (p *PresenceTracker) Replace(userIDs []string) {
	next := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		next[id] = struct{}{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online = next
}

// IsOnline reports membership as of the latest received event.
func (p *PresenceTracker) IsOnline(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.online[userID]
	return ok
}

// Online returns the current set, sorted for stable display.
func (p *PresenceTracker) Online() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.online))
	for id := range p.online {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
