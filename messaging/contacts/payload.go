package contacts

import (
	"encoding/json"
	"fmt"

	"dappvault/engine/library"
	"dappvault/state/identity"
	"github.com/tidwall/gjson"
)

// PublicProfile is what a user writes to their public feed.
type PublicProfile struct {
	PublicKey string           `json:"publicKey"`
	Profile   identity.Profile `json:"profile"`
}

// FirstContact is what a user writes to a contact's first contact feed.
type FirstContact struct {
	Type       string           `json:"type"`
	PublicKey  string           `json:"publicKey"`
	Profile    identity.Profile `json:"profile"`
	PublicFeed string           `json:"publicFeed"`
}

const firstContactType = "first_contact"

func encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	return b, nil
}

func parseProfile(r gjson.Result) identity.Profile {
	return identity.Profile{
		Name:       r.Get("name").String(),
		Avatar:     r.Get("avatar").String(),
		Bio:        r.Get("bio").String(),
		EthAddress: r.Get("ethAddress").String(),
	}
}

// ParsePublicProfile reads a public feed payload. Unknown fields are ignored.
func ParsePublicProfile(payload []byte) (PublicProfile, error) {
	if !gjson.ValidBytes(payload) {
		return PublicProfile{}, fmt.Errorf("%w: public profile is not JSON", library.ErrValidation)
	}
	doc := gjson.ParseBytes(payload)
	p := PublicProfile{
		PublicKey: doc.Get("publicKey").String(),
		Profile:   parseProfile(doc.Get("profile")),
	}
	if _, err := library.ParsePublicKey(p.PublicKey); err != nil {
		return PublicProfile{}, err
	}
	return p, nil
}

func parseFirstContact(payload []byte) (FirstContact, error) {
	if !gjson.ValidBytes(payload) {
		return FirstContact{}, fmt.Errorf("%w: first contact payload is not JSON", library.ErrValidation)
	}
	doc := gjson.ParseBytes(payload)
	if doc.Get("type").String() != firstContactType {
		return FirstContact{}, fmt.Errorf("%w: unexpected payload type %q", library.ErrValidation, doc.Get("type").String())
	}
	return FirstContact{
		Type:       firstContactType,
		PublicKey:  doc.Get("publicKey").String(),
		Profile:    parseProfile(doc.Get("profile")),
		PublicFeed: doc.Get("publicFeed").String(),
	}, nil
}
