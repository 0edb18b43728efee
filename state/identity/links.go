package identity

import (
	"dappvault/engine/library"
)

// LinkWallet attaches account of walletID to identityID. Linking the same
// account again only updates the default flag. An identity's first link is
// its default; setting a default clears the previous one.
func (db *DB) LinkWallet(identityID, walletID, account string, def bool) error {
	if _, ok := db.Kind(identityID); !ok {
		return library.NotFound(library.ErrIdentityNotFound, identityID)
	}
	idx := -1
	hasLinks := false
	for i, l := range db.Links {
		if l.IdentityID != identityID {
			continue
		}
		hasLinks = true
		if l.WalletID == walletID && l.Account == account {
			idx = i
		}
	}
	if !hasLinks {
		def = true
	}
	if def {
		for i := range db.Links {
			if db.Links[i].IdentityID == identityID {
				db.Links[i].Default = false
			}
		}
	}
	if idx >= 0 {
		if def {
			db.Links[idx].Default = true
		}
		return nil
	}
	db.Links = append(db.Links, Link{IdentityID: identityID, WalletID: walletID, Account: account, Default: def})
	return nil
}

func (db *DB) DefaultWallet(identityID string) (Link, bool) {
	for _, l := range db.Links {
		if l.IdentityID == identityID && l.Default {
			return l, true
		}
	}
	return Link{}, false
}

func (db *DB) LinksOf(identityID string) []Link {
	var out []Link
	for _, l := range db.Links {
		if l.IdentityID == identityID {
			out = append(out, l)
		}
	}
	return out
}

// DeleteWalletLinks drops every link to walletID.
func (db *DB) DeleteWalletLinks(walletID string) {
	kept := db.Links[:0]
	for _, l := range db.Links {
		if l.WalletID != walletID {
			kept = append(kept, l)
		}
	}
	db.Links = kept
}
