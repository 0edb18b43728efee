// Package feeds implements signed, single-writer feeds. A feed is addressed
// by the public key that signs it plus a topic; readers follow it through a
// stable pointer hash.
package feeds

import (
	"context"
	"time"

	"dappvault/engine/library"
	"github.com/nbd-wtf/go-nostr"
)

// Kind is the nostr event kind every feed update is published as.
const Kind = 30078

const (
	TopicProfile      = "profile"
	TopicFirstContact = "first-contact"
	TopicAppUpdates   = "app-updates"
)

type OwnFeed struct {
	KeyPair  library.KeyPair `json:"keyPair"`
	Topic    string          `json:"topic"`
	FeedHash string          `json:"feedHash,omitempty"`
}

func NewOwnFeed(topic string) (OwnFeed, error) {
	kp, err := library.GenerateKeyPair()
	if err != nil {
		return OwnFeed{}, err
	}
	return OwnFeed{KeyPair: kp, Topic: topic}, nil
}

// Address is the public key readers use to follow the feed.
func (f OwnFeed) Address() string {
	return f.KeyPair.PublicKey
}

// Update is one verified write to a feed.
type Update struct {
	Address   string
	Topic     string
	Pointer   string
	Hash      string
	Payload   []byte
	CreatedAt time.Time
}

// Transport moves feed updates between writers and readers.
type Transport interface {
	// Publish signs payload with key and makes it the latest value of the
	// feed (key.PublicKey, topic). The returned update carries its hash.
	Publish(ctx context.Context, key library.KeyPair, topic string, payload []byte, tags nostr.Tags) (Update, error)
	// Pointer returns the stable pointer hash of a feed.
	Pointer(ctx context.Context, address, topic string) (string, error)
	// Fetch returns the latest update behind pointer, or library.ErrFeedNotFound.
	Fetch(ctx context.Context, pointer string) (Update, error)
	// Subscribe delivers the latest value (if any) followed by every new
	// update of the feed until ctx is done, then closes the channel.
	Subscribe(ctx context.Context, address, topic string) (<-chan Update, error)
}

func PointerHash(address, topic string) string {
	return library.Sha256Sum("feed:" + address + ":" + topic)
}

func updateFromEvent(e nostr.Event) (Update, bool) {
	topic, ok := library.GetFirstTag(e, "d")
	if !ok {
		return Update{}, false
	}
	return Update{
		Address:   e.PubKey,
		Topic:     topic,
		Pointer:   PointerHash(e.PubKey, topic),
		Hash:      e.ID,
		Payload:   []byte(e.Content),
		CreatedAt: time.Unix(int64(e.CreatedAt), 0),
	}, true
}

func feedTags(address, topic string, extra nostr.Tags) nostr.Tags {
	tags := nostr.Tags{{"d", topic}, {"f", PointerHash(address, topic)}}
	return append(tags, extra...)
}
