package conductor

import (
	"dappvault/messaging/contacts"
	"dappvault/state"
	"dappvault/state/identity"
)

// ledger commits what the contact syncer learns. It is bound to one vault
// so a syncer outliving CloseVault cannot write into a reopened one.
type ledger struct {
	c     *Conductor
	vault *state.Vault
}

var _ contacts.Ledger = (*ledger)(nil)

func (l *ledger) update(fn func(d *state.Document) (state.Event, bool, error)) error {
	var e state.Event
	var changed bool
	err := l.vault.Update(func(d *state.Document) error {
		var err error
		e, changed, err = fn(d)
		return err
	})
	if err == nil && changed {
		l.c.emit(e)
	}
	return err
}

func (l *ledger) Session(userID string) (s contacts.UserSession, err error) {
	err = l.vault.View(func(d *state.Document) error {
		s, err = contacts.NewSession(d.Identities, userID)
		return err
	})
	return s, err
}

func (l *ledger) Contact(userID, contactID string) (s contacts.ContactSession, err error) {
	err = l.vault.View(func(d *state.Document) error {
		s, err = contacts.NewContactSession(d.Identities, userID, contactID)
		return err
	})
	return s, err
}

func (l *ledger) SetConnectionState(userID, contactID string, next identity.ConnectionState) error {
	return l.update(func(d *state.Document) (state.Event, bool, error) {
		c, err := d.Identities.Contact(userID, contactID)
		if err != nil {
			return state.Event{}, false, err
		}
		if c.ConnectionState == next {
			return state.Event{}, false, nil
		}
		if err := c.Advance(next); err != nil {
			return state.Event{}, false, err
		}
		return state.Event{
			Kind:     state.EventContactChanged,
			EntityID: contactID,
			UserID:   userID,
			Change:   "connectionState",
			Data:     next,
		}, true, nil
	})
}

func (l *ledger) SetContactFeed(userID, contactID, feed string) error {
	return l.update(func(d *state.Document) (state.Event, bool, error) {
		c, err := d.Identities.Contact(userID, contactID)
		if err != nil {
			return state.Event{}, false, err
		}
		if c.ContactFeed == feed {
			return state.Event{}, false, nil
		}
		c.ContactFeed = feed
		return state.Event{Kind: state.EventContactChanged, EntityID: contactID, UserID: userID, Change: "contactFeed"}, true, nil
	})
}

func (l *ledger) UpdatePeerProfile(peerID string, profile identity.Profile) error {
	return l.update(func(d *state.Document) (state.Event, bool, error) {
		p, err := d.Identities.Peer(peerID)
		if err != nil {
			return state.Event{}, false, err
		}
		if p.Profile == profile {
			return state.Event{}, false, nil
		}
		p.Profile = profile
		return state.Event{Kind: state.EventPeerChanged, EntityID: peerID, Change: "profile", Data: profile}, true, nil
	})
}

func (l *ledger) SetProfileHash(userID, hash string) error {
	return l.update(func(d *state.Document) (state.Event, bool, error) {
		if err := d.Identities.SetProfileHash(userID, hash); err != nil {
			return state.Event{}, false, err
		}
		return state.Event{Kind: state.EventUserChanged, EntityID: userID, UserID: userID, Change: "profilePublished"}, true, nil
	})
}
