package conductor

import (
	"context"
	"fmt"

	"dappvault/engine/library"
	"dappvault/messaging/contacts"
	"dappvault/state"
	"dappvault/state/identity"
)

func (c *Conductor) CreateUser(profile identity.Profile) (u identity.OwnUser, err error) {
	err = c.update(func(d *state.Document) (state.Event, error) {
		created, err := d.Identities.CreateOwnUser(profile)
		if err != nil {
			return state.Event{}, err
		}
		u = *created
		return state.Event{Kind: state.EventUserCreated, EntityID: u.ID, UserID: u.ID}, nil
	})
	return u, err
}

func (c *Conductor) CreateDeveloper(profile identity.Profile) (dev identity.OwnDeveloper, err error) {
	err = c.update(func(d *state.Document) (state.Event, error) {
		created, err := d.Identities.CreateOwnDeveloper(profile)
		if err != nil {
			return state.Event{}, err
		}
		dev = *created
		return state.Event{Kind: state.EventDeveloperCreated, EntityID: dev.ID}, nil
	})
	return dev, err
}

// UpdateUser replaces the user's profile. Publication to the public feed
// follows after the debounce window when the user is syncing.
func (c *Conductor) UpdateUser(userID string, profile identity.Profile) error {
	err := c.update(func(d *state.Document) (state.Event, error) {
		if err := d.Identities.UpdateUserProfile(userID, profile); err != nil {
			return state.Event{}, err
		}
		return state.Event{Kind: state.EventUserChanged, EntityID: userID, UserID: userID, Change: "profile", Data: profile}, nil
	})
	if err != nil {
		return err
	}
	if s, err := c.session(); err == nil {
		s.syncer.ProfileChanged(userID)
	}
	return nil
}

func (c *Conductor) SetUserPrivate(userID string, private bool) error {
	err := c.update(func(d *state.Document) (state.Event, error) {
		if err := d.Identities.SetPrivate(userID, private); err != nil {
			return state.Event{}, err
		}
		return state.Event{Kind: state.EventUserChanged, EntityID: userID, UserID: userID, Change: "privateProfile", Data: private}, nil
	})
	if err != nil {
		return err
	}
	if s, err := c.session(); err == nil {
		s.syncer.SetPrivate(userID, private)
	}
	return nil
}

// AddPeer records a peer user. A known public key updates the existing peer.
func (c *Conductor) AddPeer(publicKey string, profile identity.Profile, publicFeed, firstContactAddress string, otherFeeds map[string]string) (p identity.Peer, err error) {
	err = c.update(func(d *state.Document) (state.Event, error) {
		peer, created, err := d.Identities.CreatePeerUser(publicKey, profile, publicFeed, firstContactAddress, otherFeeds)
		if err != nil {
			return state.Event{}, err
		}
		p = *peer
		if created {
			return state.Event{Kind: state.EventPeerCreated, EntityID: p.ID}, nil
		}
		return state.Event{Kind: state.EventPeerChanged, EntityID: p.ID, Change: "profile", Data: profile}, nil
	})
	return p, err
}

// fetchPeer reads a public profile feed. The feed must be signed by the key
// the profile names.
func (c *Conductor) fetchPeer(ctx context.Context, feedHash string) (contacts.PublicProfile, error) {
	u, err := c.deps.Transport.Fetch(ctx, feedHash)
	if err != nil {
		return contacts.PublicProfile{}, err
	}
	p, err := contacts.ParsePublicProfile(u.Payload)
	if err != nil {
		return contacts.PublicProfile{}, err
	}
	if p.PublicKey != u.Address {
		return contacts.PublicProfile{}, fmt.Errorf("%w: feed %s is not written by %s", library.ErrValidation, feedHash, p.PublicKey)
	}
	return p, nil
}

// AddPeerByFeed adds the peer whose public feed is behind feedHash.
func (c *Conductor) AddPeerByFeed(ctx context.Context, feedHash string) (identity.Peer, error) {
	p, err := c.fetchPeer(ctx, feedHash)
	if err != nil {
		return identity.Peer{}, err
	}
	return c.AddPeer(p.PublicKey, p.Profile, feedHash, "", nil)
}

func (c *Conductor) CreateContactFromPeer(userID, peerID string, alias identity.ContactProfile) (contact identity.Contact, err error) {
	err = c.update(func(d *state.Document) (state.Event, error) {
		created, err := d.Identities.CreateContactFromPeer(userID, peerID, alias)
		if err != nil {
			return state.Event{}, err
		}
		contact = *created
		return state.Event{Kind: state.EventContactCreated, EntityID: contact.ID, UserID: userID, Data: peerID}, nil
	})
	if err == nil {
		c.contactAdded(userID, contact.ID)
	}
	return contact, err
}

// CreateContactFromFeed adds the peer behind feedHash and makes it a contact
// of userID in one commit.
func (c *Conductor) CreateContactFromFeed(ctx context.Context, userID, feedHash string, alias identity.ContactProfile) (contact identity.Contact, err error) {
	if err := c.view(func(d *state.Document) error {
		_, err := d.Identities.User(userID)
		return err
	}); err != nil {
		return identity.Contact{}, err
	}
	p, err := c.fetchPeer(ctx, feedHash)
	if err != nil {
		return identity.Contact{}, err
	}
	err = c.update(func(d *state.Document) (state.Event, error) {
		peer, _, err := d.Identities.CreatePeerUser(p.PublicKey, p.Profile, feedHash, "", nil)
		if err != nil {
			return state.Event{}, err
		}
		created, err := d.Identities.CreateContactFromPeer(userID, peer.ID, alias)
		if err != nil {
			return state.Event{}, err
		}
		contact = *created
		return state.Event{Kind: state.EventContactCreated, EntityID: contact.ID, UserID: userID, Data: peer.ID}, nil
	})
	if err == nil {
		c.contactAdded(userID, contact.ID)
	}
	return contact, err
}

func (c *Conductor) contactAdded(userID, contactID string) {
	if s, err := c.session(); err == nil {
		s.syncer.ContactAdded(userID, contactID)
	}
}

// DeleteContact removes the contact and stops watching it. The peer stays.
func (c *Conductor) DeleteContact(userID, contactID string) error {
	err := c.update(func(d *state.Document) (state.Event, error) {
		if err := d.Identities.DeleteContact(userID, contactID); err != nil {
			return state.Event{}, err
		}
		return state.Event{Kind: state.EventContactDeleted, EntityID: contactID, UserID: userID}, nil
	})
	if err != nil {
		return err
	}
	if s, err := c.session(); err == nil {
		s.syncer.ContactRemoved(userID, contactID)
	}
	return nil
}

func (c *Conductor) UpdatePeerProfile(peerID string, profile identity.Profile) error {
	return c.update(func(d *state.Document) (state.Event, error) {
		if err := d.Identities.UpdatePeerProfile(peerID, profile); err != nil {
			return state.Event{}, err
		}
		return state.Event{Kind: state.EventPeerChanged, EntityID: peerID, Change: "profile", Data: profile}, nil
	})
}

func (c *Conductor) SetContactFeed(userID, contactID, feed string) error {
	return c.update(func(d *state.Document) (state.Event, error) {
		if err := d.Identities.SetContactFeed(userID, contactID, feed); err != nil {
			return state.Event{}, err
		}
		return state.Event{Kind: state.EventContactChanged, EntityID: contactID, UserID: userID, Change: "contactFeed"}, nil
	})
}

func (c *Conductor) UpdateContactProfile(userID, contactID string, alias identity.ContactProfile) error {
	return c.update(func(d *state.Document) (state.Event, error) {
		if err := d.Identities.UpdateContactProfile(userID, contactID, alias); err != nil {
			return state.Event{}, err
		}
		return state.Event{Kind: state.EventContactChanged, EntityID: contactID, UserID: userID, Change: "alias", Data: alias}, nil
	})
}

// EstablishContact runs the first contact handshake. Transport failures end
// in the failed state rather than an error; call again to retry.
func (c *Conductor) EstablishContact(ctx context.Context, userID, contactID string) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	return s.syncer.Establish(ctx, userID, contactID)
}

// StartSync publishes userID's profile and watches their contacts until
// StopSync or CloseVault.
func (c *Conductor) StartSync(userID string) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	return s.syncer.StartUser(userID)
}

func (c *Conductor) StopSync(userID string) {
	if s, err := c.session(); err == nil {
		s.syncer.StopUser(userID)
	}
}
