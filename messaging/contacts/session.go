package contacts

import "dappvault/state/identity"

// NewSession copies userID and its contacts out of db.
func NewSession(db *identity.DB, userID string) (UserSession, error) {
	u, err := db.User(userID)
	if err != nil {
		return UserSession{}, err
	}
	s := UserSession{
		UserID:      u.ID,
		KeyPair:     u.KeyPair,
		Profile:     u.Profile,
		Private:     u.PrivateProfile,
		ProfileHash: u.ProfileHash,
		PublicFeed:  u.PublicFeed,
	}
	for _, c := range db.ContactsOf(userID) {
		cs, err := NewContactSession(db, userID, c.ID)
		if err != nil {
			return UserSession{}, err
		}
		s.Contacts = append(s.Contacts, cs)
	}
	return s, nil
}

func NewContactSession(db *identity.DB, userID, contactID string) (ContactSession, error) {
	c, err := db.Contact(userID, contactID)
	if err != nil {
		return ContactSession{}, err
	}
	p, err := db.Peer(c.PeerID)
	if err != nil {
		return ContactSession{}, err
	}
	return ContactSession{
		ContactID:        c.ID,
		PeerID:           p.ID,
		PeerPublicKey:    p.PublicKey,
		FirstContactFeed: c.FirstContactFeed,
		MirrorAddress:    c.MirrorAddress,
		ContactFeed:      c.ContactFeed,
		State:            c.ConnectionState,
	}, nil
}

