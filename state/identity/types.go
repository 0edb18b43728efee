package identity

import (
	"dappvault/engine/library"
	"dappvault/messaging/feeds"
)

type Kind string

const (
	KindOwnUser      Kind = "own_user"
	KindOwnDeveloper Kind = "own_developer"
	KindOwnApp       Kind = "own_app"
	KindPeerUser     Kind = "peer_user"
)

type Profile struct {
	Name       string `json:"name"`
	Avatar     string `json:"avatar,omitempty"`
	Bio        string `json:"bio,omitempty"`
	EthAddress string `json:"ethAddress,omitempty"`
}

type OwnUser struct {
	ID             string          `json:"id"`
	KeyPair        library.KeyPair `json:"keyPair"`
	Profile        Profile         `json:"profile"`
	PrivateProfile bool            `json:"privateProfile"`
	// ProfileHash is the fingerprint of the last profile written to PublicFeed.
	ProfileHash string        `json:"profileHash,omitempty"`
	PublicFeed  feeds.OwnFeed `json:"publicFeed"`
}

type OwnDeveloper struct {
	ID      string          `json:"id"`
	KeyPair library.KeyPair `json:"keyPair"`
	Profile Profile         `json:"profile"`
}

type OwnApp struct {
	ID      string          `json:"id"`
	KeyPair library.KeyPair `json:"keyPair"`
}

type Peer struct {
	ID                  string            `json:"id"`
	PublicKey           string            `json:"publicKey"`
	Profile             Profile           `json:"profile"`
	PublicFeed          string            `json:"publicFeed"`
	// FirstContactAddress is the address the peer advertised. It is kept for
	// display only: contact handshakes use the pairwise address derived from
	// both keys.
	FirstContactAddress string            `json:"firstContactAddress,omitempty"`
	OtherFeeds          map[string]string `json:"otherFeeds,omitempty"`
}

// ContactProfile is the local alias a user gives one of their contacts.
type ContactProfile struct {
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

type ConnectionState string

const (
	StateCreated             ConnectionState = "created"
	StateSendingFirstContact ConnectionState = "sending_first_contact"
	StateSent                ConnectionState = "sent"
	StateConnected           ConnectionState = "connected"
	StateFailed              ConnectionState = "failed"
)

type Contact struct {
	ID     string         `json:"id"`
	UserID string         `json:"userId"`
	PeerID string         `json:"peerId"`
	Alias  ContactProfile `json:"alias"`
	// FirstContactFeed is written by the user, MirrorAddress by the peer.
	FirstContactFeed feeds.OwnFeed   `json:"firstContactFeed"`
	MirrorAddress    string          `json:"mirrorAddress"`
	ContactFeed      string          `json:"contactFeed,omitempty"`
	ConnectionState  ConnectionState `json:"connectionState"`
}

// Link attaches a wallet account to an identity.
type Link struct {
	IdentityID string `json:"identityId"`
	WalletID   string `json:"walletId"`
	Account    string `json:"account"`
	Default    bool   `json:"default"`
}
