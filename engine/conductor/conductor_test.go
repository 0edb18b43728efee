package conductor

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dappvault/engine/actors"
	"dappvault/engine/library"
	"dappvault/messaging/contentstore"
	"dappvault/messaging/feeds"
	"dappvault/state"
	"dappvault/state/apps"
	"dappvault/state/identity"
	"dappvault/state/wallets"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

type fakeChain struct {
	sent []string
}

func (f *fakeChain) Setup(context.Context) (string, error) { return "1", nil }

func (f *fakeChain) GetBalance(context.Context, string) (decimal.Decimal, error) {
	return decimal.RequireFromString("1.5"), nil
}

func (f *fakeChain) GetTokenBalance(_ context.Context, token, _ string) (decimal.Decimal, error) {
	if token == "" {
		return decimal.Zero, library.ErrValidation
	}
	return decimal.RequireFromString("42"), nil
}

func (f *fakeChain) SendRawTransaction(_ context.Context, raw string) (string, error) {
	f.sent = append(f.sent, raw)
	return "0xfeed", nil
}

func (f *fakeChain) WaitForConfirmations(context.Context, string, uint64) error { return nil }

func newConductor(t *testing.T, transport feeds.Transport, store contentstore.Store, chain Chain) *Conductor {
	dir := t.TempDir()
	c := New(Config{
		VaultDir:          filepath.Join(dir, "vault"),
		AppsDir:           filepath.Join(dir, "apps"),
		ScryptWorkFactor:  10,
		ProfileDebounce:   20 * time.Millisecond,
		HandshakeAttempts: 2,
	}, Deps{
		Transport: transport,
		Store:     store,
		Chain:     chain,
		Keychain:  actors.NewKeychain("dappvault-test", dir),
	})
	t.Cleanup(c.CloseVault)
	return c
}

func newStore(t *testing.T) *contentstore.Disk {
	store, err := contentstore.NewDisk(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func nextEvent(t *testing.T, events <-chan state.Event) state.Event {
	t.Helper()
	select {
	case e := <-events:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return state.Event{}
}

func TestVaultLifecycle(t *testing.T) {
	keyring.MockInit()
	c := newConductor(t, feeds.NewMemory(), newStore(t), nil)

	_, err := c.CreateUser(identity.Profile{Name: "alice"})
	assert.ErrorIs(t, err, library.ErrVaultClosed)

	require.NoError(t, c.CreateVault("secret"))
	assert.ErrorIs(t, c.CreateVault("secret"), library.ErrVaultOpen)
	u, err := c.CreateUser(identity.Profile{Name: "alice"})
	require.NoError(t, err)
	c.CloseVault()
	c.CloseVault()

	assert.ErrorIs(t, c.OpenVault("wrong"), state.ErrWrongPassword)
	assert.True(t, c.SavePassword("secret"))
	assert.Equal(t, "secret", c.GetPassword())
	require.NoError(t, c.OpenVault(""))

	doc, err := c.Document()
	require.NoError(t, err)
	require.Contains(t, doc.Identities.Users, u.ID)
	assert.Equal(t, "alice", doc.Identities.Users[u.ID].Profile.Name)
}

func TestEventsFollowCommits(t *testing.T) {
	keyring.MockInit()
	c := newConductor(t, feeds.NewMemory(), newStore(t), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := c.Events(ctx)

	require.NoError(t, c.CreateVault("secret"))
	assert.Equal(t, state.EventVaultCreated, nextEvent(t, events).Kind)

	u, err := c.CreateUser(identity.Profile{Name: "alice"})
	require.NoError(t, err)
	e := nextEvent(t, events)
	assert.Equal(t, state.EventUserCreated, e.Kind)
	assert.Equal(t, u.ID, e.EntityID)

	assert.ErrorIs(t, c.UpdateUser("missing", identity.Profile{}), library.ErrIdentityNotFound)
	_, err = c.CreateContactFromPeer(u.ID, "missing", identity.ContactProfile{})
	assert.ErrorIs(t, err, library.ErrIdentityNotFound)

	require.NoError(t, c.UpdateUser(u.ID, identity.Profile{Name: "alice b"}))
	e = nextEvent(t, events)
	assert.Equal(t, state.EventUserChanged, e.Kind)
	assert.Equal(t, "profile", e.Change)
}

func TestContactHandshakeBetweenVaults(t *testing.T) {
	keyring.MockInit()
	ctx := context.Background()
	transport := feeds.NewMemory()
	store := newStore(t)
	alice := newConductor(t, transport, store, nil)
	bob := newConductor(t, transport, store, nil)
	require.NoError(t, alice.CreateVault("a"))
	require.NoError(t, bob.CreateVault("b"))

	aliceUser, err := alice.CreateUser(identity.Profile{Name: "alice"})
	require.NoError(t, err)
	bobUser, err := bob.CreateUser(identity.Profile{Name: "bob"})
	require.NoError(t, err)
	require.NoError(t, alice.StartSync(aliceUser.ID))
	require.NoError(t, bob.StartSync(bobUser.ID))

	published := func(feed string) func() bool {
		return func() bool {
			_, err := transport.Fetch(ctx, feed)
			return err == nil
		}
	}
	require.Eventually(t, published(aliceUser.PublicFeed.FeedHash), 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, published(bobUser.PublicFeed.FeedHash), 2*time.Second, 10*time.Millisecond)

	aliceContact, err := alice.CreateContactFromFeed(ctx, aliceUser.ID, bobUser.PublicFeed.FeedHash, identity.ContactProfile{Name: "b"})
	require.NoError(t, err)
	bobContact, err := bob.CreateContactFromFeed(ctx, bobUser.ID, aliceUser.PublicFeed.FeedHash, identity.ContactProfile{})
	require.NoError(t, err)

	connected := func(c *Conductor, userID, contactID string) bool {
		doc, err := c.Document()
		if err != nil {
			return false
		}
		contact, err := doc.Identities.Contact(userID, contactID)
		return err == nil && contact.Connected()
	}
	require.Eventually(t, func() bool {
		return connected(alice, aliceUser.ID, aliceContact.ID) && connected(bob, bobUser.ID, bobContact.ID)
	}, 5*time.Second, 10*time.Millisecond)

	doc, err := alice.Document()
	require.NoError(t, err)
	peer, ok := doc.Identities.PeerByKey(bobUser.KeyPair.PublicKey)
	require.True(t, ok)
	assert.Equal(t, "bob", peer.Profile.Name)

	require.NoError(t, bob.UpdateUser(bobUser.ID, identity.Profile{Name: "robert"}))
	require.Eventually(t, func() bool {
		doc, err := alice.Document()
		if err != nil {
			return false
		}
		p, ok := doc.Identities.PeerByKey(bobUser.KeyPair.PublicKey)
		return ok && p.Profile.Name == "robert"
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, alice.DeleteContact(aliceUser.ID, aliceContact.ID))
	doc, err = alice.Document()
	require.NoError(t, err)
	assert.Empty(t, doc.Identities.ContactsOf(aliceUser.ID))
	_, ok = doc.Identities.PeerByKey(bobUser.KeyPair.PublicKey)
	assert.True(t, ok)
}

func TestEstablishContactWithoutSync(t *testing.T) {
	keyring.MockInit()
	ctx := context.Background()
	transport := feeds.NewMemory()
	store := newStore(t)
	alice := newConductor(t, transport, store, nil)
	bob := newConductor(t, transport, store, nil)
	require.NoError(t, alice.CreateVault("a"))
	require.NoError(t, bob.CreateVault("b"))

	aliceUser, err := alice.CreateUser(identity.Profile{Name: "alice"})
	require.NoError(t, err)
	bobUser, err := bob.CreateUser(identity.Profile{Name: "bob"})
	require.NoError(t, err)
	bobPeer, err := alice.AddPeer(bobUser.KeyPair.PublicKey, bobUser.Profile, bobUser.PublicFeed.FeedHash, "", nil)
	require.NoError(t, err)
	alicePeer, err := bob.AddPeer(aliceUser.KeyPair.PublicKey, aliceUser.Profile, aliceUser.PublicFeed.FeedHash, "", nil)
	require.NoError(t, err)
	aliceContact, err := alice.CreateContactFromPeer(aliceUser.ID, bobPeer.ID, identity.ContactProfile{})
	require.NoError(t, err)
	bobContact, err := bob.CreateContactFromPeer(bobUser.ID, alicePeer.ID, identity.ContactProfile{})
	require.NoError(t, err)

	contactState := func(c *Conductor, userID, contactID string) identity.ConnectionState {
		doc, err := c.Document()
		if err != nil {
			return ""
		}
		contact, err := doc.Identities.Contact(userID, contactID)
		if err != nil {
			return ""
		}
		return contact.ConnectionState
	}

	require.NoError(t, alice.EstablishContact(ctx, aliceUser.ID, aliceContact.ID))
	assert.Equal(t, identity.StateSent, contactState(alice, aliceUser.ID, aliceContact.ID))

	// bob finds alice's descriptor already waiting at his mirror address
	require.NoError(t, bob.EstablishContact(ctx, bobUser.ID, bobContact.ID))
	assert.Equal(t, identity.StateConnected, contactState(bob, bobUser.ID, bobContact.ID))

	require.Eventually(t, func() bool {
		return contactState(alice, aliceUser.ID, aliceContact.ID) == identity.StateConnected
	}, 5*time.Second, 10*time.Millisecond)
}

func TestAddPeerByFeedRejectsForeignWriter(t *testing.T) {
	keyring.MockInit()
	ctx := context.Background()
	transport := feeds.NewMemory()
	c := newConductor(t, transport, newStore(t), nil)
	require.NoError(t, c.CreateVault("secret"))

	writer, err := library.GenerateKeyPair()
	require.NoError(t, err)
	claimed, err := library.GenerateKeyPair()
	require.NoError(t, err)
	u, err := transport.Publish(ctx, writer, feeds.TopicProfile, []byte(`{"publicKey":"`+claimed.PublicKey+`","profile":{"name":"mallory"}}`), nil)
	require.NoError(t, err)

	_, err = c.AddPeerByFeed(ctx, u.Pointer)
	assert.ErrorIs(t, err, library.ErrValidation)
	_, err = c.AddPeerByFeed(ctx, "unknown")
	assert.ErrorIs(t, err, library.ErrFeedNotFound)
}

func TestWalletOperations(t *testing.T) {
	keyring.MockInit()
	ctx := context.Background()
	chain := &fakeChain{}
	c := newConductor(t, feeds.NewMemory(), newStore(t), chain)
	require.NoError(t, c.CreateVault("secret"))
	u, err := c.CreateUser(identity.Profile{Name: "alice"})
	require.NoError(t, err)

	_, err = c.CreateHDWallet("bitcoin", "")
	assert.ErrorIs(t, err, library.ErrUnsupportedChain)
	w, err := c.CreateHDWallet(wallets.ChainEthereum, "main")
	require.NoError(t, err)
	require.Len(t, w.Accounts, 1)
	second, err := c.AddHDWalletAccount(w.WalletID, 1)
	require.NoError(t, err)
	assert.NotEqual(t, w.Accounts[0], second)

	require.NoError(t, c.SetUserDefaultWallet(u.ID, w.Accounts[0]))
	doc, err := c.Document()
	require.NoError(t, err)
	link, ok := doc.Identities.DefaultWallet(u.ID)
	require.True(t, ok)
	assert.Equal(t, w.WalletID, link.WalletID)

	tx := wallets.Transaction{From: w.Accounts[0], ChainID: 1, Gas: 21000, To: w.Accounts[0], Value: big.NewInt(1)}
	signed, err := c.SignTransaction(ctx, wallets.TypeHD, w.WalletID, tx)
	require.NoError(t, err)
	hash, err := hex.DecodeString(strings.TrimPrefix(signed.Hash, "0x"))
	require.NoError(t, err)
	sig, err := hex.DecodeString(strings.TrimPrefix(signed.Signature, "0x"))
	require.NoError(t, err)
	from, err := wallets.Recover(hash, sig)
	require.NoError(t, err)
	assert.Equal(t, w.Accounts[0], from)

	txHash, err := c.SendTransaction(ctx, wallets.TypeHD, w.WalletID, tx, 1)
	require.NoError(t, err)
	assert.Equal(t, "0xfeed", txHash)
	assert.Equal(t, []string{signed.Raw}, chain.sent)

	balance, err := c.GetBalance(ctx, w.Accounts[0])
	require.NoError(t, err)
	assert.Equal(t, "1.5", balance.String())
	tokens, err := c.GetTokenBalance(ctx, "0x3535353535353535353535353535353535353535", w.Accounts[0])
	require.NoError(t, err)
	assert.Equal(t, "42", tokens.String())

	_, err = c.AddHardwareAccounts(ctx, wallets.ChainEthereum, "ledger", []uint32{0})
	assert.ErrorIs(t, err, library.ErrHardwareWallet)

	require.NoError(t, c.DeleteWallet(wallets.ChainEthereum, wallets.TypeHD, w.WalletID))
	require.NoError(t, c.DeleteWallet(wallets.ChainEthereum, wallets.TypeHD, w.WalletID))
	doc, err = c.Document()
	require.NoError(t, err)
	assert.Empty(t, doc.Identities.LinksOf(u.ID))
}

type fakeDevice struct{}

func (fakeDevice) Accounts(_ context.Context, indexes []uint32) ([]string, error) {
	out := make([]string, len(indexes))
	for i, index := range indexes {
		out[i] = fmt.Sprintf("0x%040x", index+1)
	}
	return out, nil
}

func (fakeDevice) Sign(context.Context, uint32, []byte) ([]byte, error) {
	return make([]byte, 65), nil
}

func TestHardwareAccountsEvents(t *testing.T) {
	keyring.MockInit()
	dir := t.TempDir()
	c := New(Config{VaultDir: filepath.Join(dir, "vault"), AppsDir: filepath.Join(dir, "apps"), ScryptWorkFactor: 10},
		Deps{Transport: feeds.NewMemory(), Store: newStore(t), Device: fakeDevice{}, Keychain: actors.NewKeychain("dappvault-test", dir)})
	t.Cleanup(c.CloseVault)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := c.Events(ctx)
	require.NoError(t, c.CreateVault("secret"))
	assert.Equal(t, state.EventVaultCreated, nextEvent(t, events).Kind)

	first, err := c.AddHardwareAccounts(ctx, wallets.ChainEthereum, "nano", []uint32{0})
	require.NoError(t, err)
	e := nextEvent(t, events)
	assert.Equal(t, state.EventWalletCreated, e.Kind)
	assert.Equal(t, first.WalletID, e.EntityID)

	more, err := c.AddHardwareAccounts(ctx, wallets.ChainEthereum, "nano", []uint32{1})
	require.NoError(t, err)
	assert.Equal(t, first.WalletID, more.WalletID)
	e = nextEvent(t, events)
	assert.Equal(t, state.EventWalletChanged, e.Kind)
	assert.Equal(t, first.WalletID, e.EntityID)

	other, err := c.AddHardwareAccounts(ctx, wallets.ChainEthereum, "trezor", []uint32{2})
	require.NoError(t, err)
	assert.NotEqual(t, first.WalletID, other.WalletID)
	assert.Equal(t, state.EventWalletCreated, nextEvent(t, events).Kind)
}

func TestChainRequired(t *testing.T) {
	keyring.MockInit()
	c := newConductor(t, feeds.NewMemory(), newStore(t), nil)
	_, err := c.GetBalance(context.Background(), "0x00")
	assert.ErrorIs(t, err, library.ErrTransport)
}

func TestPublishAndInstallBetweenVaults(t *testing.T) {
	keyring.MockInit()
	ctx := context.Background()
	transport := feeds.NewMemory()
	store := newStore(t)
	dev := newConductor(t, transport, store, nil)
	user := newConductor(t, transport, store, nil)
	require.NoError(t, dev.CreateVault("d"))
	require.NoError(t, user.CreateVault("u"))

	contents := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(contents, "index.html"), []byte("hi"), 0o644))
	developer, err := dev.CreateDeveloper(identity.Profile{Name: "acme"})
	require.NoError(t, err)
	app, err := dev.CreateApp(apps.CreateParams{ContentsPath: contents, DeveloperID: developer.ID, Name: "notes"})
	require.NoError(t, err)
	updateHash, err := dev.PublishApp(ctx, app.ID, "")
	require.NoError(t, err)

	u, err := transport.Fetch(ctx, updateHash)
	require.NoError(t, err)
	var manifest apps.SignedManifest
	require.NoError(t, json.Unmarshal(u.Payload, &manifest))

	owner, err := user.CreateUser(identity.Profile{Name: "carol"})
	require.NoError(t, err)
	installed, err := user.InstallApp(ctx, manifest, owner.ID, apps.UserSettings{})
	require.NoError(t, err)
	assert.Equal(t, apps.InstallReady, installed.InstallationState)
	b, err := os.ReadFile(filepath.Join(installed.ContentsPath, "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(b))

	w, err := user.CreateHDWallet(wallets.ChainEthereum, "main")
	require.NoError(t, err)
	require.NoError(t, user.SetAppDefaultWallet(installed.ID, owner.ID, w.Accounts[0]))
	assert.ErrorIs(t, user.SetAppDefaultWallet("missing", owner.ID, w.Accounts[0]), library.ErrNotFound)
	udoc, err := user.Document()
	require.NoError(t, err)
	settings, err := udoc.Apps.Settings(installed.ID, owner.ID)
	require.NoError(t, err)
	require.NotNil(t, settings.DefaultWallet)
	assert.Equal(t, w.WalletID, settings.DefaultWallet.WalletID)

	dev.CloseVault()
	require.NoError(t, dev.OpenVault("d"))
	doc, err := dev.Document()
	require.NoError(t, err)
	own, err := doc.Apps.OwnApp(app.ID)
	require.NoError(t, err)
	v, err := own.VersionData("")
	require.NoError(t, err)
	assert.Equal(t, u.Hash, v.VersionHash)

	assert.ErrorIs(t, dev.AddAppVersion(app.ID, "next", apps.Permissions{}), library.ErrInvalidVersion)
	assert.ErrorIs(t, dev.AddAppVersion(app.ID, "1.0.0", apps.Permissions{}), library.ErrStateConflict)
	require.NoError(t, dev.AddAppVersion(app.ID, "1.1.0", apps.Permissions{}))
	nextHash, err := dev.PublishApp(ctx, app.ID, "")
	require.NoError(t, err)
	assert.Equal(t, updateHash, nextHash)
	latest, err := transport.Fetch(ctx, updateHash)
	require.NoError(t, err)
	var next apps.SignedManifest
	require.NoError(t, json.Unmarshal(latest.Payload, &next))
	assert.Equal(t, "1.1.0", next.Data.Version)
	assert.Equal(t, manifest.Data.ContentsHash, next.Data.ContentsHash)
}
