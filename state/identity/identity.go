// Package identity stores the vault's own identities, the peers they know
// and the contacts between them, plus the identity to wallet links.
package identity

import (
	"fmt"

	"dappvault/engine/library"
	"dappvault/messaging/feeds"
	"github.com/google/uuid"
	"golang.org/x/exp/slices"
)

// DB is the identity section of the vault document. It has no lock of its
// own; the vault serializes access.
type DB struct {
	Users      map[string]*OwnUser      `json:"users"`
	Developers map[string]*OwnDeveloper `json:"developers"`
	Apps       map[string]*OwnApp       `json:"apps"`
	Peers      map[string]*Peer         `json:"peers"`
	Contacts   map[string]*Contact      `json:"contacts"`
	Links      []Link                   `json:"links"`
}

func NewDB() *DB {
	db := &DB{}
	db.Ensure()
	return db
}

func (db *DB) Ensure() {
	if db.Users == nil {
		db.Users = make(map[string]*OwnUser)
	}
	if db.Developers == nil {
		db.Developers = make(map[string]*OwnDeveloper)
	}
	if db.Apps == nil {
		db.Apps = make(map[string]*OwnApp)
	}
	if db.Peers == nil {
		db.Peers = make(map[string]*Peer)
	}
	if db.Contacts == nil {
		db.Contacts = make(map[string]*Contact)
	}
}

// newID allocates an id no identity or contact uses yet.
func (db *DB) newID() string {
	for {
		id := uuid.NewString()
		if _, used := db.Kind(id); used {
			continue
		}
		if _, used := db.Contacts[id]; used {
			continue
		}
		return id
	}
}

// Kind reports which kind of identity id is.
func (db *DB) Kind(id string) (Kind, bool) {
	if _, ok := db.Users[id]; ok {
		return KindOwnUser, true
	}
	if _, ok := db.Developers[id]; ok {
		return KindOwnDeveloper, true
	}
	if _, ok := db.Apps[id]; ok {
		return KindOwnApp, true
	}
	if _, ok := db.Peers[id]; ok {
		return KindPeerUser, true
	}
	return "", false
}

func (db *DB) CreateOwnUser(profile Profile) (*OwnUser, error) {
	kp, err := library.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	u := &OwnUser{
		ID:      db.newID(),
		KeyPair: kp,
		Profile: profile,
		PublicFeed: feeds.OwnFeed{
			KeyPair:  kp,
			Topic:    feeds.TopicProfile,
			FeedHash: feeds.PointerHash(kp.PublicKey, feeds.TopicProfile),
		},
	}
	db.Users[u.ID] = u
	return u, nil
}

func (db *DB) CreateOwnDeveloper(profile Profile) (*OwnDeveloper, error) {
	kp, err := library.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	d := &OwnDeveloper{ID: db.newID(), KeyPair: kp, Profile: profile}
	db.Developers[d.ID] = d
	return d, nil
}

func (db *DB) CreateOwnApp() (*OwnApp, error) {
	kp, err := library.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	a := &OwnApp{ID: db.newID(), KeyPair: kp}
	db.Apps[a.ID] = a
	return a, nil
}

func (db *DB) User(id string) (*OwnUser, error) {
	u, ok := db.Users[id]
	if !ok {
		return nil, library.NotFound(library.ErrIdentityNotFound, id)
	}
	return u, nil
}

func (db *DB) Developer(id string) (*OwnDeveloper, error) {
	d, ok := db.Developers[id]
	if !ok {
		return nil, library.NotFound(library.ErrIdentityNotFound, id)
	}
	return d, nil
}

func (db *DB) App(id string) (*OwnApp, error) {
	a, ok := db.Apps[id]
	if !ok {
		return nil, library.NotFound(library.ErrIdentityNotFound, id)
	}
	return a, nil
}

func (db *DB) Peer(id string) (*Peer, error) {
	p, ok := db.Peers[id]
	if !ok {
		return nil, library.NotFound(library.ErrPeerNotFound, id)
	}
	return p, nil
}

func (db *DB) PeerByKey(publicKey string) (*Peer, bool) {
	for _, p := range db.Peers {
		if p.PublicKey == publicKey {
			return p, true
		}
	}
	return nil, false
}

func (db *DB) UpdateUserProfile(userID string, profile Profile) error {
	u, err := db.User(userID)
	if err != nil {
		return err
	}
	u.Profile = profile
	return nil
}

func (db *DB) SetPrivate(userID string, private bool) error {
	u, err := db.User(userID)
	if err != nil {
		return err
	}
	u.PrivateProfile = private
	return nil
}

// SetProfileHash records the fingerprint of a profile that was written to
// the user's public feed.
func (db *DB) SetProfileHash(userID, hash string) error {
	u, err := db.User(userID)
	if err != nil {
		return err
	}
	u.ProfileHash = hash
	return nil
}

// CreatePeerUser adds a peer. A peer with the same public key is updated in
// place and keeps its id; created is false in that case.
func (db *DB) CreatePeerUser(publicKey string, profile Profile, publicFeed, firstContactAddress string, otherFeeds map[string]string) (p *Peer, created bool, err error) {
	if _, err := library.ParsePublicKey(publicKey); err != nil {
		return nil, false, err
	}
	p, ok := db.PeerByKey(publicKey)
	if !ok {
		p = &Peer{ID: db.newID(), PublicKey: publicKey, OtherFeeds: make(map[string]string)}
		db.Peers[p.ID] = p
		created = true
	}
	p.Profile = profile
	if publicFeed != "" {
		p.PublicFeed = publicFeed
	}
	if firstContactAddress != "" {
		p.FirstContactAddress = firstContactAddress
	}
	if p.OtherFeeds == nil {
		p.OtherFeeds = make(map[string]string)
	}
	for topic, address := range otherFeeds {
		p.OtherFeeds[topic] = address
	}
	return p, created, nil
}

func (db *DB) UpdatePeerProfile(peerID string, profile Profile) error {
	p, err := db.Peer(peerID)
	if err != nil {
		return err
	}
	p.Profile = profile
	return nil
}

// CreateContactFromPeer makes peerID a contact of userID. The first contact
// feed and its mirror address are derived before the contact is stored.
func (db *DB) CreateContactFromPeer(userID, peerID string, alias ContactProfile) (*Contact, error) {
	u, err := db.User(userID)
	if err != nil {
		return nil, err
	}
	p, err := db.Peer(peerID)
	if err != nil {
		return nil, library.NotFound(library.ErrIdentityNotFound, peerID)
	}
	for _, c := range db.Contacts {
		if c.UserID == userID && c.PeerID == peerID {
			return nil, fmt.Errorf("%w: %s", library.ErrContactExists, c.ID)
		}
	}
	key, err := feeds.FirstContactKey(u.KeyPair, p.PublicKey)
	if err != nil {
		return nil, err
	}
	mirror, err := feeds.FirstContactAddress(u.KeyPair, p.PublicKey)
	if err != nil {
		return nil, err
	}
	c := &Contact{
		ID:     db.newID(),
		UserID: userID,
		PeerID: peerID,
		Alias:  alias,
		FirstContactFeed: feeds.OwnFeed{
			KeyPair:  key,
			Topic:    feeds.TopicFirstContact,
			FeedHash: feeds.PointerHash(key.PublicKey, feeds.TopicFirstContact),
		},
		MirrorAddress:   mirror,
		ConnectionState: StateCreated,
	}
	db.Contacts[c.ID] = c
	return c, nil
}

// Contact returns contactID if it belongs to userID.
func (db *DB) Contact(userID, contactID string) (*Contact, error) {
	c, ok := db.Contacts[contactID]
	if !ok || c.UserID != userID {
		return nil, library.NotFound(library.ErrContactNotFound, contactID)
	}
	return c, nil
}

// ContactsOf lists a user's contacts ordered by id.
func (db *DB) ContactsOf(userID string) []*Contact {
	var ids []string
	for id, c := range db.Contacts {
		if c.UserID == userID {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	out := make([]*Contact, 0, len(ids))
	for _, id := range ids {
		out = append(out, db.Contacts[id])
	}
	return out
}

// DeleteContact removes the contact. The peer stays.
func (db *DB) DeleteContact(userID, contactID string) error {
	if _, err := db.Contact(userID, contactID); err != nil {
		return err
	}
	delete(db.Contacts, contactID)
	return nil
}

func (db *DB) SetContactFeed(userID, contactID, feed string) error {
	c, err := db.Contact(userID, contactID)
	if err != nil {
		return err
	}
	c.ContactFeed = feed
	return nil
}

func (db *DB) UpdateContactProfile(userID, contactID string, alias ContactProfile) error {
	c, err := db.Contact(userID, contactID)
	if err != nil {
		return err
	}
	c.Alias = alias
	return nil
}
