package state

import (
	"context"

	"dappvault/engine/library"
	"github.com/sasha-s/go-deadlock"
)

type EventKind string

const (
	EventVaultCreated     EventKind = "vault_created"
	EventVaultOpened      EventKind = "vault_opened"
	EventVaultClosed      EventKind = "vault_closed"
	EventAppCreated       EventKind = "app_created"
	EventAppChanged       EventKind = "app_changed"
	EventAppInstalled     EventKind = "app_installed"
	EventUserCreated      EventKind = "user_created"
	EventUserChanged      EventKind = "user_changed"
	EventDeveloperCreated EventKind = "developer_created"
	EventPeerCreated      EventKind = "peer_created"
	EventPeerChanged      EventKind = "peer_changed"
	EventContactCreated   EventKind = "contact_created"
	EventContactChanged   EventKind = "contact_changed"
	EventContactDeleted   EventKind = "contact_deleted"
	EventWalletCreated    EventKind = "wallet_created"
	EventWalletChanged    EventKind = "wallet_changed"
	EventWalletDeleted    EventKind = "wallet_deleted"
	EventTransactionSent  EventKind = "transaction_sent"
)

// Event describes one committed change. Change names the field group that
// changed for *_changed kinds.
type Event struct {
	Kind     EventKind
	EntityID string
	UserID   string
	Change   string
	Data     any
}

type Emitter interface {
	Emit(Event)
}

// Broadcaster fans every emitted event out to its subscribers. Emit never
// blocks on a slow subscriber.
type Broadcaster struct {
	mu     deadlock.Mutex
	nextID int
	subs   map[int]*library.Mailbox[Event]
}

var _ Emitter = (*Broadcaster)(nil)

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]*library.Mailbox[Event])}
}

func (b *Broadcaster) Emit(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, mb := range b.subs {
		mb.Push(e)
	}
}

// Subscribe returns a channel of events emitted from now until ctx is done.
func (b *Broadcaster) Subscribe(ctx context.Context) <-chan Event {
	mb := library.NewMailbox[Event](ctx)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = mb
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}()
	return mb.C
}
