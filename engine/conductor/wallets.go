package conductor

import (
	"context"
	"fmt"

	"dappvault/engine/library"
	"dappvault/state"
	"dappvault/state/wallets"
	"github.com/shopspring/decimal"
)

type WalletAccounts struct {
	WalletID string
	Accounts []string
}

func walletCreated(id string, accounts []string) state.Event {
	return state.Event{Kind: state.EventWalletCreated, EntityID: id, Data: accounts}
}

// CreateHDWallet returns the new wallet with its first account.
func (c *Conductor) CreateHDWallet(chain wallets.Chain, name string) (w WalletAccounts, err error) {
	err = c.update(func(d *state.Document) (state.Event, error) {
		hd, _, err := d.Wallets.CreateHDWallet(chain, name)
		if err != nil {
			return state.Event{}, err
		}
		w = WalletAccounts{WalletID: hd.ID, Accounts: append([]string(nil), hd.Accounts...)}
		return walletCreated(hd.ID, w.Accounts), nil
	})
	return w, err
}

func (c *Conductor) ImportMnemonicWallet(chain wallets.Chain, mnemonic, name string) (w WalletAccounts, err error) {
	err = c.update(func(d *state.Document) (state.Event, error) {
		hd, err := d.Wallets.ImportMnemonicWallet(chain, mnemonic, name)
		if err != nil {
			return state.Event{}, err
		}
		w = WalletAccounts{WalletID: hd.ID, Accounts: append([]string(nil), hd.Accounts...)}
		return walletCreated(hd.ID, w.Accounts), nil
	})
	return w, err
}

// ImportPrivateKey adds a key to walletID, or to the first single key wallet
// when walletID is empty, creating one if there is none.
func (c *Conductor) ImportPrivateKey(chain wallets.Chain, privateKey, walletID string) (w WalletAccounts, err error) {
	err = c.update(func(d *state.Document) (state.Event, error) {
		existing := len(d.Wallets.PK)
		pk, _, err := d.Wallets.ImportPrivateKey(chain, privateKey, walletID)
		if err != nil {
			return state.Event{}, err
		}
		w = WalletAccounts{WalletID: pk.ID, Accounts: append([]string(nil), pk.Accounts...)}
		if len(d.Wallets.PK) > existing {
			return walletCreated(pk.ID, w.Accounts), nil
		}
		return state.Event{Kind: state.EventWalletChanged, EntityID: pk.ID, Change: "accounts", Data: w.Accounts}, nil
	})
	return w, err
}

func (c *Conductor) AddHDWalletAccount(walletID string, index uint32) (address string, err error) {
	err = c.update(func(d *state.Document) (state.Event, error) {
		address, err = d.Wallets.AddHDWalletAccount(walletID, index)
		if err != nil {
			return state.Event{}, err
		}
		return state.Event{Kind: state.EventWalletChanged, EntityID: walletID, Change: "accounts", Data: address}, nil
	})
	return address, err
}

// AddHardwareAccounts asks the connected device for the accounts at indexes
// and stores them in the hardware wallet called name, creating it when
// there is none.
func (c *Conductor) AddHardwareAccounts(ctx context.Context, chain wallets.Chain, name string, indexes []uint32) (w WalletAccounts, err error) {
	if _, err := c.session(); err != nil {
		return WalletAccounts{}, err
	}
	if c.deps.Device == nil {
		return WalletAccounts{}, fmt.Errorf("%w: no device connected", library.ErrHardwareWallet)
	}
	found, err := wallets.QueryHardwareAccounts(ctx, c.deps.Device, indexes)
	if err != nil {
		return WalletAccounts{}, err
	}
	err = c.update(func(d *state.Document) (state.Event, error) {
		before := len(d.Wallets.Ledger)
		hw, accounts, err := d.Wallets.AddHardwareAccounts(chain, name, found)
		if err != nil {
			return state.Event{}, err
		}
		w = WalletAccounts{WalletID: hw.ID, Accounts: accounts}
		if len(d.Wallets.Ledger) == before {
			return state.Event{Kind: state.EventWalletChanged, EntityID: hw.ID, Change: "accounts", Data: accounts}, nil
		}
		return walletCreated(hw.ID, accounts), nil
	})
	return w, err
}

// DeleteWallet removes the wallet and every link to it. Deleting a wallet
// that does not exist succeeds.
func (c *Conductor) DeleteWallet(chain wallets.Chain, t wallets.Type, walletID string) error {
	return c.update(func(d *state.Document) (state.Event, error) {
		if err := d.Wallets.DeleteWallet(chain, t, walletID); err != nil {
			return state.Event{}, err
		}
		d.Identities.DeleteWalletLinks(walletID)
		return state.Event{Kind: state.EventWalletDeleted, EntityID: walletID}, nil
	})
}

// SetUserDefaultWallet links address to userID as their default account.
func (c *Conductor) SetUserDefaultWallet(userID, address string) error {
	return c.update(func(d *state.Document) (state.Event, error) {
		if _, err := d.Identities.User(userID); err != nil {
			return state.Event{}, err
		}
		ref, ok := d.Wallets.WalletForAccount(address)
		if !ok {
			return state.Event{}, library.NotFound(library.ErrAccountNotFound, address)
		}
		if err := d.Identities.LinkWallet(userID, ref.ID, address, true); err != nil {
			return state.Event{}, err
		}
		return state.Event{Kind: state.EventUserChanged, EntityID: userID, UserID: userID, Change: "defaultWallet", Data: address}, nil
	})
}

// SignTransaction signs tx with the key for tx.From. Hardware signing runs
// without holding the vault lock.
func (c *Conductor) SignTransaction(ctx context.Context, t wallets.Type, walletID string, tx wallets.Transaction) (wallets.SignedTransaction, error) {
	var signer wallets.Signer
	err := c.view(func(d *state.Document) error {
		var err error
		signer, err = d.Wallets.Signer(t, walletID, tx.From, c.deps.Device)
		return err
	})
	if err != nil {
		return wallets.SignedTransaction{}, err
	}
	return wallets.SignTransaction(ctx, signer, tx)
}

// SendTransaction signs and submits tx, then waits for confirmations blocks
// unless confirmations is zero. It returns the transaction hash.
func (c *Conductor) SendTransaction(ctx context.Context, t wallets.Type, walletID string, tx wallets.Transaction, confirmations uint64) (string, error) {
	if c.deps.Chain == nil {
		return "", fmt.Errorf("%w: no chain node configured", library.ErrTransport)
	}
	signed, err := c.SignTransaction(ctx, t, walletID, tx)
	if err != nil {
		return "", err
	}
	hash, err := c.deps.Chain.SendRawTransaction(ctx, signed.Raw)
	if err != nil {
		return "", err
	}
	library.LogCLI(fmt.Sprintf("sent transaction %s from %s", hash, tx.From), 4)
	if confirmations > 0 {
		if err := c.deps.Chain.WaitForConfirmations(ctx, hash, confirmations); err != nil {
			return hash, err
		}
	}
	c.emit(state.Event{Kind: state.EventTransactionSent, EntityID: hash, Data: signed})
	return hash, nil
}

// GetTokenBalance returns account's balance of the 18 decimal token contract.
func (c *Conductor) GetTokenBalance(ctx context.Context, token, account string) (decimal.Decimal, error) {
	if c.deps.Chain == nil {
		return decimal.Zero, fmt.Errorf("%w: no chain node configured", library.ErrTransport)
	}
	return c.deps.Chain.GetTokenBalance(ctx, token, account)
}

func (c *Conductor) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	if c.deps.Chain == nil {
		return decimal.Zero, fmt.Errorf("%w: no chain node configured", library.ErrTransport)
	}
	return c.deps.Chain.GetBalance(ctx, address)
}
