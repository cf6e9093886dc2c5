package aggregator

import (
	"sync"

	"github.com/runnerr0/dwell/internal/pageview"
)

// ActiveSessions maps tab IDs to the session currently timed on them. It
// lives in memory only: a restart starts empty and whatever was pending
// at that moment is lost.
type ActiveSessions struct {
	mu sync.Mutex
	m  map[int]pageview.ActiveEntry
}

// NewActiveSessions returns an empty map.
func NewActiveSessions() *ActiveSessions {
	return &ActiveSessions{m: make(map[int]pageview.ActiveEntry)}
}

// Get returns the entry for tab.
func (a *ActiveSessions) Get(tab int) (pageview.ActiveEntry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.m[tab]
	return e, ok
}

// Put records e for tab.
func (a *ActiveSessions) Put(tab int, e pageview.ActiveEntry) {
	a.mu.Lock()
	a.m[tab] = e
	a.mu.Unlock()
}

// Take removes and returns the entry for tab.
func (a *ActiveSessions) Take(tab int) (pageview.ActiveEntry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.m[tab]
	delete(a.m, tab)
	return e, ok
}

// Len returns the number of timed tabs.
func (a *ActiveSessions) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.m)
}

// Tabs returns a copy of the map.
func (a *ActiveSessions) Tabs() map[int]pageview.ActiveEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[int]pageview.ActiveEntry, len(a.m))
	for k, v := range a.m {
		out[k] = v
	}
	return out
}
