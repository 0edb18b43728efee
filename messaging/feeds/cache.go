package feeds

import (
	"github.com/nbd-wtf/go-nostr"
	"github.com/sasha-s/go-deadlock"
)

// eventCache keeps the newest event seen for each feed pointer.
type eventCache struct {
	mu     deadlock.Mutex
	events map[string]nostr.Event
}

func newEventCache() *eventCache {
	return &eventCache{events: make(map[string]nostr.Event)}
}

func (c *eventCache) push(e nostr.Event) {
	u, ok := updateFromEvent(e)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if current, ok := c.events[u.Pointer]; ok && current.CreatedAt > e.CreatedAt {
		return
	}
	c.events[u.Pointer] = e
}

func (c *eventCache) byPointer(pointer string) (nostr.Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.events[pointer]
	return e, ok
}
