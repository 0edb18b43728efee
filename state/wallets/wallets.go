// Package wallets keeps the vault's chain accounts. An address belongs to at
// most one wallet; every insert checks this.
package wallets

import (
	"context"
	"encoding/hex"
	"fmt"

	"dappvault/engine/library"
	"github.com/google/uuid"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"
)

// DB is the wallet section of the vault document. It has no lock of its own;
// the vault serializes access.
type DB struct {
	HD     map[string]*HDWallet        `json:"hd"`
	PK     map[string]*SingleKeyWallet `json:"pk"`
	Ledger map[string]*HardwareWallet  `json:"ledger"`
}

func NewDB() *DB {
	db := &DB{}
	db.Ensure()
	return db
}

// Ensure allocates any section lost to a nil encoding.
func (db *DB) Ensure() {
	if db.HD == nil {
		db.HD = make(map[string]*HDWallet)
	}
	if db.PK == nil {
		db.PK = make(map[string]*SingleKeyWallet)
	}
	if db.Ledger == nil {
		db.Ledger = make(map[string]*HardwareWallet)
	}
	for _, w := range db.PK {
		if w.PrivateKeys == nil {
			w.PrivateKeys = make(map[string]string)
		}
	}
	for _, w := range db.Ledger {
		if w.Accounts == nil {
			w.Accounts = make(map[string]uint32)
		}
	}
}

func checkChain(chain Chain) error {
	if chain != ChainEthereum {
		return fmt.Errorf("%w: %s", library.ErrUnsupportedChain, chain)
	}
	return nil
}

// WalletForAccount finds the wallet holding address, ignoring checksum case.
func (db *DB) WalletForAccount(address string) (Ref, bool) {
	for id, w := range db.HD {
		if slices.IndexFunc(w.Accounts, func(a string) bool { return sameAddress(a, address) }) >= 0 {
			return Ref{Type: TypeHD, ID: id}, true
		}
	}
	for id, w := range db.PK {
		if slices.IndexFunc(w.Accounts, func(a string) bool { return sameAddress(a, address) }) >= 0 {
			return Ref{Type: TypePK, ID: id}, true
		}
	}
	for id, w := range db.Ledger {
		for a := range w.Accounts {
			if sameAddress(a, address) {
				return Ref{Type: TypeLedger, ID: id}, true
			}
		}
	}
	return Ref{}, false
}

// claim fails unless address is free or already held by owner.
func (db *DB) claim(address string, owner Ref) (held bool, err error) {
	ref, ok := db.WalletForAccount(address)
	if !ok {
		return false, nil
	}
	if ref == owner {
		return true, nil
	}
	return false, fmt.Errorf("%w: %s", library.ErrAccountExists, address)
}

// CreateHDWallet creates a wallet from fresh seed words and derives its
// first account.
func (db *DB) CreateHDWallet(chain Chain, name string) (*HDWallet, string, error) {
	if err := checkChain(chain); err != nil {
		return nil, "", err
	}
	mnemonic, err := newMnemonic()
	if err != nil {
		return nil, "", err
	}
	w, err := db.insertHD(mnemonic, name)
	if err != nil {
		return nil, "", err
	}
	return w, w.Accounts[0], nil
}

func (db *DB) ImportMnemonicWallet(chain Chain, mnemonic, name string) (*HDWallet, error) {
	if err := checkChain(chain); err != nil {
		return nil, err
	}
	normalized, err := validateMnemonic(mnemonic)
	if err != nil {
		return nil, err
	}
	return db.insertHD(normalized, name)
}

func (db *DB) insertHD(mnemonic, name string) (*HDWallet, error) {
	address, err := deriveAddress(mnemonic, 0)
	if err != nil {
		return nil, err
	}
	w := &HDWallet{
		ID:       uuid.NewString(),
		Name:     name,
		Mnemonic: mnemonic,
		Indexes:  []uint32{0},
		Accounts: []string{address},
	}
	if _, err := db.claim(address, Ref{Type: TypeHD, ID: w.ID}); err != nil {
		return nil, err
	}
	db.HD[w.ID] = w
	return w, nil
}

// AddHDWalletAccount derives the account at index. Adding an index twice
// returns the same address.
func (db *DB) AddHDWalletAccount(walletID string, index uint32) (string, error) {
	w, ok := db.HD[walletID]
	if !ok {
		return "", library.NotFound(library.ErrWalletNotFound, walletID)
	}
	address, err := deriveAddress(w.Mnemonic, index)
	if err != nil {
		return "", err
	}
	held, err := db.claim(address, Ref{Type: TypeHD, ID: walletID})
	if err != nil {
		return "", err
	}
	if !held {
		w.Indexes = append(w.Indexes, index)
		w.Accounts = append(w.Accounts, address)
	}
	return address, nil
}

// ImportPrivateKey adds a key to walletID, or when walletID is empty to the
// first single key wallet, creating one if none exists.
func (db *DB) ImportPrivateKey(chain Chain, privateKey, walletID string) (*SingleKeyWallet, string, error) {
	if err := checkChain(chain); err != nil {
		return nil, "", err
	}
	sk, err := parseAccountKey(privateKey)
	if err != nil {
		return nil, "", err
	}
	var w *SingleKeyWallet
	switch {
	case walletID != "":
		var ok bool
		if w, ok = db.PK[walletID]; !ok {
			return nil, "", library.NotFound(library.ErrWalletNotFound, walletID)
		}
	case len(db.PK) > 0:
		ids := make([]string, 0, len(db.PK))
		for id := range db.PK {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		w = db.PK[ids[0]]
	default:
		w = &SingleKeyWallet{ID: uuid.NewString(), PrivateKeys: make(map[string]string)}
	}
	address := Address(sk.PubKey())
	held, err := db.claim(address, Ref{Type: TypePK, ID: w.ID})
	if err != nil {
		return nil, "", err
	}
	if !held {
		w.PrivateKeys[address] = hex.EncodeToString(sk.Serialize())
		w.Accounts = append(w.Accounts, address)
	}
	db.PK[w.ID] = w
	return w, address, nil
}

// QueryHardwareAccounts reads the address at each index from device.
func QueryHardwareAccounts(ctx context.Context, device Device, indexes []uint32) (map[string]uint32, error) {
	addresses := make([]string, len(indexes))
	g, ctx := errgroup.WithContext(ctx)
	for i, index := range indexes {
		i, index := i, index
		g.Go(func() error {
			accounts, err := device.Accounts(ctx, []uint32{index})
			if err != nil {
				return fmt.Errorf("%w: reading account %d: %s", library.ErrHardwareWallet, index, err)
			}
			if len(accounts) != 1 {
				return fmt.Errorf("%w: device returned %d accounts for index %d", library.ErrHardwareWallet, len(accounts), index)
			}
			addresses[i] = accounts[0]
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make(map[string]uint32, len(indexes))
	for i, index := range indexes {
		out[addresses[i]] = index
	}
	return out, nil
}

// AddHardwareAccounts records device accounts under the hardware wallet
// called name, creating it on first use. It returns the addresses added.
func (db *DB) AddHardwareAccounts(chain Chain, name string, accounts map[string]uint32) (*HardwareWallet, []string, error) {
	if err := checkChain(chain); err != nil {
		return nil, nil, err
	}
	var w *HardwareWallet
	for _, existing := range db.Ledger {
		if existing.Name == name {
			w = existing
			break
		}
	}
	if w == nil {
		w = &HardwareWallet{ID: uuid.NewString(), Name: name, Accounts: make(map[string]uint32)}
	}
	owner := Ref{Type: TypeLedger, ID: w.ID}
	addresses := make([]string, 0, len(accounts))
	for address := range accounts {
		addresses = append(addresses, address)
	}
	slices.Sort(addresses)
	for _, address := range addresses {
		if _, err := db.claim(address, owner); err != nil {
			return nil, nil, err
		}
	}
	for _, address := range addresses {
		w.Accounts[address] = accounts[address]
	}
	db.Ledger[w.ID] = w
	return w, addresses, nil
}

// DeleteWallet removes a wallet. Deleting a wallet that does not exist is
// not an error.
func (db *DB) DeleteWallet(chain Chain, t Type, walletID string) error {
	if err := checkChain(chain); err != nil {
		return err
	}
	switch t {
	case TypeHD:
		delete(db.HD, walletID)
	case TypePK:
		delete(db.PK, walletID)
	case TypeLedger:
		delete(db.Ledger, walletID)
	default:
		return fmt.Errorf("%w: unknown wallet type %q", library.ErrValidation, t)
	}
	return nil
}

// Accounts lists the addresses of a wallet.
func (db *DB) Accounts(t Type, walletID string) ([]string, error) {
	switch t {
	case TypeHD:
		if w, ok := db.HD[walletID]; ok {
			return append([]string(nil), w.Accounts...), nil
		}
	case TypePK:
		if w, ok := db.PK[walletID]; ok {
			return append([]string(nil), w.Accounts...), nil
		}
	case TypeLedger:
		if w, ok := db.Ledger[walletID]; ok {
			out := make([]string, 0, len(w.Accounts))
			for a := range w.Accounts {
				out = append(out, a)
			}
			slices.Sort(out)
			return out, nil
		}
	default:
		return nil, fmt.Errorf("%w: unknown wallet type %q", library.ErrValidation, t)
	}
	return nil, library.NotFound(library.ErrWalletNotFound, walletID)
}
