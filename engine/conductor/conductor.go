// Package conductor is the single entry point to an open vault. Every
// mutating operation validates its lookups, commits through the vault's
// write lock and then emits exactly one event.
package conductor

import (
	"context"
	"fmt"
	"time"

	"dappvault/engine/actors"
	"dappvault/engine/library"
	"dappvault/engine/metrics"
	"dappvault/messaging/contacts"
	"dappvault/messaging/contentstore"
	"dappvault/messaging/feeds"
	"dappvault/messaging/publisher"
	"dappvault/state"
	"dappvault/state/wallets"
	"github.com/sasha-s/go-deadlock"
	"github.com/shopspring/decimal"
)

// Chain is the account chain node the vault talks to.
type Chain interface {
	Setup(ctx context.Context) (string, error)
	GetBalance(ctx context.Context, address string) (decimal.Decimal, error)
	GetTokenBalance(ctx context.Context, token, account string) (decimal.Decimal, error)
	SendRawTransaction(ctx context.Context, raw string) (string, error)
	WaitForConfirmations(ctx context.Context, txHash string, required uint64) error
}

type Config struct {
	VaultDir          string
	AppsDir           string
	ScryptWorkFactor  int
	ProfileDebounce   time.Duration
	HandshakeAttempts int
}

// Deps are the collaborators a Conductor drives. Chain and Device may be
// nil; operations that need them then fail with library.ErrTransport.
type Deps struct {
	Transport feeds.Transport
	Store     contentstore.Store
	Chain     Chain
	Device    wallets.Device
	Keychain  actors.Keychain
	Metrics   *metrics.Collector
}

type Conductor struct {
	conf   Config
	deps   Deps
	events *state.Broadcaster

	mu        deadlock.Mutex
	vault     *state.Vault
	publisher *publisher.Publisher
	syncer    *contacts.Syncer
}

func New(conf Config, deps Deps) *Conductor {
	return &Conductor{conf: conf, deps: deps, events: state.NewBroadcaster()}
}

// Events delivers every event emitted from now until ctx is done.
func (c *Conductor) Events(ctx context.Context) <-chan state.Event {
	return c.events.Subscribe(ctx)
}

func (c *Conductor) emit(e state.Event) {
	c.deps.Metrics.RecordEvent(string(e.Kind))
	c.events.Emit(e)
}

// CreateVault creates an empty vault in the configured directory and opens it.
func (c *Conductor) CreateVault(password string) error {
	return c.open(func() (*state.Vault, error) {
		return state.Create(c.conf.VaultDir, password, c.conf.ScryptWorkFactor, c.deps.Metrics)
	}, state.EventVaultCreated)
}

// OpenVault opens the vault. An empty password is looked up in the keychain.
func (c *Conductor) OpenVault(password string) error {
	if password == "" {
		password = c.deps.Keychain.GetPassword()
	}
	return c.open(func() (*state.Vault, error) {
		return state.Open(c.conf.VaultDir, password, c.deps.Metrics)
	}, state.EventVaultOpened)
}

func (c *Conductor) open(fn func() (*state.Vault, error), kind state.EventKind) error {
	c.mu.Lock()
	if c.vault != nil {
		c.mu.Unlock()
		return library.ErrVaultOpen
	}
	v, err := fn()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.vault = v
	c.publisher = publisher.New(v, c.deps.Store, c.deps.Transport, c.conf.AppsDir, c.deps.Metrics)
	c.syncer = contacts.NewSyncer(&ledger{c: c, vault: v}, c.deps.Transport, contacts.Config{
		Debounce:          c.conf.ProfileDebounce,
		HandshakeAttempts: c.conf.HandshakeAttempts,
	}, c.deps.Metrics)
	c.mu.Unlock()
	library.LogCLI(fmt.Sprintf("vault %s open at revision %d", c.conf.VaultDir, v.Revision()), 4)
	c.emit(state.Event{Kind: kind, EntityID: c.conf.VaultDir})
	return nil
}

// CloseVault stops every sync and forgets the decrypted state. Closing a
// closed vault does nothing.
func (c *Conductor) CloseVault() {
	c.mu.Lock()
	v, s := c.vault, c.syncer
	c.vault, c.publisher, c.syncer = nil, nil, nil
	c.mu.Unlock()
	if v == nil {
		return
	}
	s.StopAll()
	v.Close()
	c.emit(state.Event{Kind: state.EventVaultClosed, EntityID: c.conf.VaultDir})
}

type session struct {
	vault     *state.Vault
	publisher *publisher.Publisher
	syncer    *contacts.Syncer
}

func (c *Conductor) session() (session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.vault == nil {
		return session{}, library.ErrVaultClosed
	}
	return session{vault: c.vault, publisher: c.publisher, syncer: c.syncer}, nil
}

// update commits fn and emits the event it describes once the vault is saved.
func (c *Conductor) update(fn func(d *state.Document) (state.Event, error)) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	var e state.Event
	if err := s.vault.Update(func(d *state.Document) error {
		var err error
		e, err = fn(d)
		return err
	}); err != nil {
		return err
	}
	c.emit(e)
	return nil
}

func (c *Conductor) view(fn func(d *state.Document) error) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	return s.vault.View(fn)
}

// Document returns a copy of the open vault's document.
func (c *Conductor) Document() (*state.Document, error) {
	var copied *state.Document
	err := c.view(func(d *state.Document) error {
		b, err := library.Marshal(d)
		if err != nil {
			return err
		}
		copied = &state.Document{}
		if err := library.Unmarshal(b, copied); err != nil {
			return err
		}
		copied.Identities.Ensure()
		copied.Wallets.Ensure()
		copied.Apps.Ensure()
		return nil
	})
	return copied, err
}

func (c *Conductor) SavePassword(password string) bool {
	return c.deps.Keychain.SavePassword(password)
}

func (c *Conductor) GetPassword() string {
	return c.deps.Keychain.GetPassword()
}
