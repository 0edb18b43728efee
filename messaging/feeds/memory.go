package feeds

import (
	"context"
	"fmt"

	"dappvault/engine/helpers"
	"dappvault/engine/library"
	"github.com/nbd-wtf/go-nostr"
	"github.com/sasha-s/go-deadlock"
)

// Memory is an in-process Transport. Events are signed and verified exactly
// as they are for relays, but never leave the process.
type Memory struct {
	mu          deadlock.Mutex
	latest      map[string]nostr.Event
	subscribers map[string]map[int]*library.Mailbox[Update]
	nextID      int
	offline     bool
}

var _ Transport = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		latest:      make(map[string]nostr.Event),
		subscribers: make(map[string]map[int]*library.Mailbox[Update]),
	}
}

// SetOffline makes every following Publish fail with library.ErrTransport.
func (m *Memory) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

func (m *Memory) Publish(ctx context.Context, key library.KeyPair, topic string, payload []byte, tags nostr.Tags) (Update, error) {
	if err := ctx.Err(); err != nil {
		return Update{}, err
	}
	e, err := helpers.SignEvent(key, Kind, feedTags(key.PublicKey, topic, tags), string(payload))
	if err != nil {
		return Update{}, err
	}
	return m.Receive(e)
}

// Receive accepts an already signed event, as a relay would.
func (m *Memory) Receive(e nostr.Event) (Update, error) {
	if !helpers.ValidEvent(e) {
		return Update{}, fmt.Errorf("%w: bad event signature", library.ErrTransport)
	}
	u, ok := updateFromEvent(e)
	if !ok {
		return Update{}, fmt.Errorf("%w: event has no topic", library.ErrTransport)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline {
		return Update{}, fmt.Errorf("%w: offline", library.ErrTransport)
	}
	m.latest[u.Pointer] = e
	for _, mb := range m.subscribers[u.Pointer] {
		mb.Push(u)
	}
	return u, nil
}

func (m *Memory) Pointer(_ context.Context, address, topic string) (string, error) {
	return PointerHash(address, topic), nil
}

func (m *Memory) Fetch(_ context.Context, pointer string) (Update, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.latest[pointer]
	if !ok {
		return Update{}, library.NotFound(library.ErrFeedNotFound, pointer)
	}
	u, _ := updateFromEvent(e)
	return u, nil
}

func (m *Memory) Subscribe(ctx context.Context, address, topic string) (<-chan Update, error) {
	pointer := PointerHash(address, topic)
	mb := library.NewMailbox[Update](ctx)
	m.mu.Lock()
	if e, ok := m.latest[pointer]; ok {
		u, _ := updateFromEvent(e)
		mb.Push(u)
	}
	id := m.nextID
	m.nextID++
	if m.subscribers[pointer] == nil {
		m.subscribers[pointer] = make(map[int]*library.Mailbox[Update])
	}
	m.subscribers[pointer][id] = mb
	m.mu.Unlock()
	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subscribers[pointer], id)
		m.mu.Unlock()
	}()
	return mb.C, nil
}

// Subscribers returns how many live subscriptions follow the feed.
func (m *Memory) Subscribers(address, topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subscribers[PointerHash(address, topic)])
}
