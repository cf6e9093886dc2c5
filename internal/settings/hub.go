package settings

import (
	"sync"

	"github.com/runnerr0/dwell/internal/pageview"
)

// Hub fans settings changes out to subscribers. A slow subscriber only
// ever sees the latest value.
type Hub struct {
	mu   sync.Mutex
	subs map[chan pageview.UserSettings]struct{}
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan pageview.UserSettings]struct{})}
}

// Subscribe returns a channel receiving every broadcast and a function
// that unsubscribes and closes it.
func (h *Hub) Subscribe() (<-chan pageview.UserSettings, func()) {
	ch := make(chan pageview.UserSettings, 1)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Broadcast delivers s to every subscriber without blocking.
func (h *Hub) Broadcast(s pageview.UserSettings) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- s:
		default:
			// Drop the stale value and keep the newest.
			select {
			case <-ch:
			default:
			}
			ch <- s
		}
	}
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
