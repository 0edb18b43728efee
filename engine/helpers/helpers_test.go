package helpers

import (
	"testing"

	"dappvault/engine/library"
	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignEvent(t *testing.T) {
	kp, err := library.GenerateKeyPair()
	require.NoError(t, err)

	e, err := SignEvent(kp, 30078, nostr.Tags{{"d", "profile"}}, `{"name":"alice"}`)
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKey, e.PubKey)
	assert.True(t, ValidEvent(e))

	e.Content = `{"name":"mallory"}`
	assert.False(t, ValidEvent(e))
}
