// Package state owns the vault document: every identity, wallet and app the
// vault holds. All mutation goes through Vault.Update, which serializes
// writers and persists before returning.
package state

import (
	"fmt"

	"dappvault/engine/library"
	"dappvault/engine/metrics"
	"dappvault/state/apps"
	"dappvault/state/identity"
	"dappvault/state/wallets"
	"github.com/sasha-s/go-deadlock"
)

const FormatVersion = 1

type Document struct {
	FormatVersion int          `json:"formatVersion"`
	Revision      uint64       `json:"revision"`
	Identities    *identity.DB `json:"identities"`
	Wallets       *wallets.DB  `json:"wallets"`
	Apps          *apps.DB     `json:"apps"`
}

func NewDocument() *Document {
	return &Document{
		FormatVersion: FormatVersion,
		Identities:    identity.NewDB(),
		Wallets:       wallets.NewDB(),
		Apps:          apps.NewDB(),
	}
}

func (d *Document) ensure() {
	if d.Identities == nil {
		d.Identities = identity.NewDB()
	}
	if d.Wallets == nil {
		d.Wallets = wallets.NewDB()
	}
	if d.Apps == nil {
		d.Apps = apps.NewDB()
	}
	d.Identities.Ensure()
	d.Wallets.Ensure()
	d.Apps.Ensure()
}

func (d *Document) snapshot() ([]byte, error) {
	return library.Marshal(d)
}

func restore(b []byte) (*Document, error) {
	d := &Document{}
	if err := library.Unmarshal(b, d); err != nil {
		return nil, err
	}
	if d.FormatVersion > FormatVersion {
		return nil, fmt.Errorf("%w: vault format %d is newer than supported %d", library.ErrValidation, d.FormatVersion, FormatVersion)
	}
	d.FormatVersion = FormatVersion
	d.ensure()
	return d, nil
}

// Vault is an open vault. It is safe for concurrent use.
type Vault struct {
	mu      deadlock.Mutex
	store   *sealedStore
	doc     *Document
	closed  bool
	metrics *metrics.Collector
}

// Update runs fn under the write lock and saves the result. If fn or the
// save fails, the document is restored to its state before the call.
func (v *Vault) Update(fn func(*Document) error) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return library.ErrVaultClosed
	}
	before, err := v.doc.snapshot()
	if err != nil {
		return fmt.Errorf("snapshotting vault: %w", err)
	}
	rollback := func() {
		d, err := restore(before)
		if err != nil {
			library.LogCLI(fmt.Sprintf("vault rollback failed: %s", err), 0)
			return
		}
		v.doc = d
	}
	if err := fn(v.doc); err != nil {
		rollback()
		return err
	}
	v.doc.Revision++
	if err := v.store.save(v.doc); err != nil {
		rollback()
		return err
	}
	v.metrics.RecordSave()
	return nil
}

// View runs fn under the lock. fn must not modify the document.
func (v *Vault) View(fn func(*Document) error) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return library.ErrVaultClosed
	}
	return fn(v.doc)
}

func (v *Vault) Revision() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.doc.Revision
}

func (v *Vault) Dir() string {
	return v.store.dir
}

// Close forgets the decrypted document. Later calls fail with
// library.ErrVaultClosed.
func (v *Vault) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	v.doc = NewDocument()
}
