package feeds

import (
	"context"
	"errors"
	"testing"
	"time"

	"dappvault/engine/helpers"
	"dappvault/engine/library"
	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Update) Update {
	t.Helper()
	select {
	case u, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for feed update")
	}
	return Update{}
}

func TestMemoryPublishFetch(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	feed, err := NewOwnFeed(TopicProfile)
	require.NoError(t, err)

	pointer, err := m.Pointer(ctx, feed.Address(), feed.Topic)
	require.NoError(t, err)
	_, err = m.Fetch(ctx, pointer)
	assert.True(t, errors.Is(err, library.ErrFeedNotFound))

	u, err := m.Publish(ctx, feed.KeyPair, feed.Topic, []byte(`{"name":"alice"}`), nil)
	require.NoError(t, err)
	assert.Equal(t, pointer, u.Pointer)
	assert.NotEmpty(t, u.Hash)

	got, err := m.Fetch(ctx, pointer)
	require.NoError(t, err)
	assert.Equal(t, u.Hash, got.Hash)
	assert.JSONEq(t, `{"name":"alice"}`, string(got.Payload))
}

func TestMemorySubscribeReplaysLatest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewMemory()
	feed, err := NewOwnFeed(TopicProfile)
	require.NoError(t, err)

	_, err = m.Publish(ctx, feed.KeyPair, feed.Topic, []byte("one"), nil)
	require.NoError(t, err)
	ch, err := m.Subscribe(ctx, feed.Address(), feed.Topic)
	require.NoError(t, err)
	assert.Equal(t, "one", string(receive(t, ch).Payload))

	_, err = m.Publish(ctx, feed.KeyPair, feed.Topic, []byte("two"), nil)
	require.NoError(t, err)
	assert.Equal(t, "two", string(receive(t, ch).Payload))

	cancel()
	require.Eventually(t, func() bool { return m.Subscribers(feed.Address(), feed.Topic) == 0 },
		time.Second, 10*time.Millisecond)
}

func TestMemoryRejectsForgedEvent(t *testing.T) {
	m := NewMemory()
	kp, err := library.GenerateKeyPair()
	require.NoError(t, err)
	e, err := helpers.SignEvent(kp, Kind, nostr.Tags{{"d", TopicProfile}}, "real")
	require.NoError(t, err)
	e.Content = "forged"

	_, err = m.Receive(e)
	assert.True(t, errors.Is(err, library.ErrTransport))
}

func TestMemoryOffline(t *testing.T) {
	m := NewMemory()
	m.SetOffline(true)
	kp, err := library.GenerateKeyPair()
	require.NoError(t, err)

	_, err = m.Publish(context.Background(), kp, TopicProfile, []byte("x"), nil)
	assert.True(t, errors.Is(err, library.ErrTransport))
}

func TestFirstContactAddressesMirror(t *testing.T) {
	alice, err := library.GenerateKeyPair()
	require.NoError(t, err)
	bob, err := library.GenerateKeyPair()
	require.NoError(t, err)

	aliceOut, err := FirstContactKey(alice, bob.PublicKey)
	require.NoError(t, err)
	bobOut, err := FirstContactKey(bob, alice.PublicKey)
	require.NoError(t, err)
	assert.NotEqual(t, aliceOut.PublicKey, bobOut.PublicKey)

	aliceMirror, err := FirstContactAddress(alice, bob.PublicKey)
	require.NoError(t, err)
	bobMirror, err := FirstContactAddress(bob, alice.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, bobOut.PublicKey, aliceMirror)
	assert.Equal(t, aliceOut.PublicKey, bobMirror)
}

func TestRelaysWithoutURLs(t *testing.T) {
	r := NewRelays(nil, nil)
	kp, err := library.GenerateKeyPair()
	require.NoError(t, err)

	_, err = r.Publish(context.Background(), kp, TopicProfile, []byte("x"), nil)
	assert.True(t, errors.Is(err, library.ErrTransport))
	_, err = r.Subscribe(context.Background(), kp.PublicKey, TopicProfile)
	assert.True(t, errors.Is(err, library.ErrTransport))
}

func TestEventCacheKeepsNewest(t *testing.T) {
	c := newEventCache()
	kp, err := library.GenerateKeyPair()
	require.NoError(t, err)
	older, err := helpers.SignEvent(kp, Kind, feedTags(kp.PublicKey, TopicProfile, nil), "old")
	require.NoError(t, err)
	older.CreatedAt -= 60
	newer, err := helpers.SignEvent(kp, Kind, feedTags(kp.PublicKey, TopicProfile, nil), "new")
	require.NoError(t, err)

	c.push(newer)
	c.push(older)
	e, ok := c.byPointer(PointerHash(kp.PublicKey, TopicProfile))
	require.True(t, ok)
	assert.Equal(t, "new", e.Content)
}
