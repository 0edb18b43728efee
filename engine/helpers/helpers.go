package helpers

import (
	"fmt"
	"time"

	"dappvault/engine/library"
	"github.com/nbd-wtf/go-nostr"
)

// SignEvent builds an event authored by kp and signs it.
func SignEvent(kp library.KeyPair, kind int, tags nostr.Tags, content string) (r nostr.Event, err error) {
	r = nostr.Event{
		PubKey:    kp.PublicKey,
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}
	r.ID = r.GetID()
	if err = r.Sign(kp.PrivateKey); err != nil {
		return r, fmt.Errorf("%w: %s", library.ErrInvalidKey, err)
	}
	return
}

// ValidEvent reports whether the event id and signature match its content.
func ValidEvent(e nostr.Event) bool {
	if e.ID != e.GetID() {
		return false
	}
	ok, err := e.CheckSignature()
	return ok && err == nil
}
