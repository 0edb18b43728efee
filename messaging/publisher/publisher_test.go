package publisher

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"dappvault/engine/library"
	"dappvault/messaging/contentstore"
	"dappvault/messaging/feeds"
	"dappvault/state"
	"dappvault/state/apps"
	"dappvault/state/identity"
	"dappvault/state/wallets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	vault     *state.Vault
	pub       *Publisher
	transport *feeds.Memory
	appsDir   string
}

func newFixture(t *testing.T, store contentstore.Store, transport *feeds.Memory) *fixture {
	v, err := state.Create(t.TempDir(), "secret", 10, nil)
	require.NoError(t, err)
	t.Cleanup(v.Close)
	appsDir := t.TempDir()
	return &fixture{vault: v, pub: New(v, store, transport, appsDir, nil), transport: transport, appsDir: appsDir}
}

func newStore(t *testing.T) *contentstore.Disk {
	store, err := contentstore.NewDisk(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func (f *fixture) developer(t *testing.T) string {
	var id string
	require.NoError(t, f.vault.Update(func(d *state.Document) error {
		dev, err := d.Identities.CreateOwnDeveloper(identity.Profile{Name: "acme"})
		id = dev.ID
		return err
	}))
	return id
}

func (f *fixture) user(t *testing.T) string {
	var id string
	require.NoError(t, f.vault.Update(func(d *state.Document) error {
		u, err := d.Identities.CreateOwnUser(identity.Profile{Name: "alice"})
		id = u.ID
		return err
	}))
	return id
}

func contents(t *testing.T) string {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>hello</h1>"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "js"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "js", "app.js"), []byte("main()"), 0o644))
	return dir
}

func TestCreateAppDefaults(t *testing.T) {
	f := newFixture(t, newStore(t), feeds.NewMemory())
	devID := f.developer(t)

	a, err := f.pub.CreateApp(apps.CreateParams{ContentsPath: contents(t), DeveloperID: devID, Version: "v1"})
	require.NoError(t, err)
	assert.Equal(t, apps.DefaultName, a.Name)
	assert.Equal(t, apps.DefaultVersion, a.Version)
	assert.NotEmpty(t, a.MFID)

	_, err = f.pub.CreateApp(apps.CreateParams{DeveloperID: "missing"})
	assert.ErrorIs(t, err, library.ErrIdentityNotFound)
}

func TestPublishAndInstall(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	transport := feeds.NewMemory()
	dev := newFixture(t, store, transport)
	devID := dev.developer(t)

	a, err := dev.pub.CreateApp(apps.CreateParams{
		ContentsPath: contents(t),
		DeveloperID:  devID,
		Name:         "notes",
		Version:      "0.2.0",
		Permissions:  apps.Permissions{Required: []string{"contacts"}},
	})
	require.NoError(t, err)

	updateHash, err := dev.pub.PublishApp(ctx, a.ID, "")
	require.NoError(t, err)
	assert.Equal(t, feeds.PointerHash(a.UpdateFeed.Address(), feeds.TopicAppUpdates), updateHash)

	_, err = dev.pub.PublishApp(ctx, a.ID, "0.2.0")
	assert.ErrorIs(t, err, library.ErrAlreadyPublished)
	assert.ErrorIs(t, err, library.ErrStateConflict)

	var version apps.VersionData
	require.NoError(t, dev.vault.View(func(d *state.Document) error {
		own, err := d.Apps.OwnApp(a.ID)
		if err != nil {
			return err
		}
		version = *own.Versions["0.2.0"]
		assert.Equal(t, updateHash, own.UpdateFeed.FeedHash)
		return nil
	}))
	assert.True(t, version.Published())
	assert.Equal(t, contentstore.URI(version.ContentsHash), version.ContentsURI)

	u, err := transport.Fetch(ctx, updateHash)
	require.NoError(t, err)
	assert.Equal(t, version.VersionHash, u.Hash)
	var manifest apps.SignedManifest
	require.NoError(t, json.Unmarshal(u.Payload, &manifest))
	require.NoError(t, manifest.Verify())
	assert.Equal(t, "acme", manifest.Data.Author.Name)
	assert.Equal(t, a.MFID, manifest.Data.ID)

	other := newFixture(t, store, transport)
	userID := other.user(t)
	installed, err := other.pub.InstallApp(ctx, manifest, userID, apps.UserSettings{PermissionsChecked: true})
	require.NoError(t, err)
	assert.Equal(t, apps.InstallReady, installed.InstallationState)
	b, err := os.ReadFile(filepath.Join(installed.ContentsPath, "js", "app.js"))
	require.NoError(t, err)
	assert.Equal(t, "main()", string(b))

	again, err := other.pub.InstallApp(ctx, manifest, userID, apps.UserSettings{})
	require.NoError(t, err)
	assert.Equal(t, installed.ID, again.ID)
	assert.Equal(t, apps.InstallReady, again.InstallationState)
}

func TestPublishAppIsNotReentrant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newStore(t), feeds.NewMemory())
	a, err := f.pub.CreateApp(apps.CreateParams{ContentsPath: contents(t), DeveloperID: f.developer(t)})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.pub.PublishApp(ctx, a.ID, "")
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range results {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, library.ErrStateConflict)
		}
	}
	assert.Equal(t, 1, ok)
}

func TestPublishAppLookups(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newStore(t), feeds.NewMemory())
	_, err := f.pub.PublishApp(ctx, "missing", "")
	assert.ErrorIs(t, err, library.ErrAppNotFound)

	a, err := f.pub.CreateApp(apps.CreateParams{ContentsPath: contents(t), DeveloperID: f.developer(t)})
	require.NoError(t, err)
	_, err = f.pub.PublishApp(ctx, a.ID, "9.9.9")
	assert.ErrorIs(t, err, library.ErrValidation)
}

func TestPublishAppTransportFailure(t *testing.T) {
	ctx := context.Background()
	transport := feeds.NewMemory()
	f := newFixture(t, newStore(t), transport)
	a, err := f.pub.CreateApp(apps.CreateParams{ContentsPath: contents(t), DeveloperID: f.developer(t)})
	require.NoError(t, err)

	transport.SetOffline(true)
	_, err = f.pub.PublishApp(ctx, a.ID, "")
	assert.ErrorIs(t, err, library.ErrTransport)

	transport.SetOffline(false)
	_, err = f.pub.PublishApp(ctx, a.ID, "")
	require.NoError(t, err)
}

func TestInstallDownloadFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newStore(t), feeds.NewMemory())
	userID := f.user(t)
	appKey, err := library.GenerateKeyPair()
	require.NoError(t, err)
	devKey, err := library.GenerateKeyPair()
	require.NoError(t, err)
	manifest, err := apps.SignManifest(apps.ManifestData{
		ID:           appKey.PublicKey,
		Author:       apps.Author{ID: devKey.PublicKey, Name: "someone"},
		Name:         "ghost",
		Version:      "1.0.0",
		ContentsHash: strings.Repeat("ab", 32),
		UpdateHash:   strings.Repeat("cd", 32),
	}, appKey, devKey)
	require.NoError(t, err)

	installed, err := f.pub.InstallApp(ctx, manifest, userID, apps.UserSettings{})
	require.NoError(t, err)
	assert.Equal(t, apps.InstallDownloadError, installed.InstallationState)

	require.NoError(t, f.vault.View(func(d *state.Document) error {
		a, err := d.Apps.InstalledApp(installed.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, apps.InstallDownloadError, a.InstallationState)
		return nil
	}))

	manifest.Signatures[0], manifest.Signatures[1] = manifest.Signatures[1], manifest.Signatures[0]
	_, err = f.pub.InstallApp(ctx, manifest, userID, apps.UserSettings{})
	assert.ErrorIs(t, err, library.ErrInvalidManifest)
}

func TestPublishContents(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	f := newFixture(t, store, feeds.NewMemory())
	dir := contents(t)
	a, err := f.pub.CreateApp(apps.CreateParams{ContentsPath: dir, DeveloperID: f.developer(t)})
	require.NoError(t, err)

	uri, err := f.pub.PublishContents(ctx, a.ID, "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "urn:blake3:"))

	out := t.TempDir()
	require.NoError(t, store.DownloadDirectoryTo(ctx, strings.TrimPrefix(uri, "urn:blake3:"), out))
	b, err := os.ReadFile(filepath.Join(out, "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "<h1>hello</h1>", string(b))
}

func TestAppUserSettings(t *testing.T) {
	f := newFixture(t, newStore(t), feeds.NewMemory())
	userID := f.user(t)
	a, err := f.pub.CreateApp(apps.CreateParams{ContentsPath: contents(t), DeveloperID: f.developer(t)})
	require.NoError(t, err)

	var contactID, account string
	require.NoError(t, f.vault.Update(func(d *state.Document) error {
		peerKey, err := library.GenerateKeyPair()
		if err != nil {
			return err
		}
		p, _, err := d.Identities.CreatePeerUser(peerKey.PublicKey, identity.Profile{Name: "bob"}, "", "", nil)
		if err != nil {
			return err
		}
		c, err := d.Identities.CreateContactFromPeer(userID, p.ID, identity.ContactProfile{})
		if err != nil {
			return err
		}
		contactID = c.ID
		_, account, err = d.Wallets.CreateHDWallet(wallets.ChainEthereum, "main")
		return err
	}))

	_, err = f.pub.ApproveContacts(a.ID, userID, []string{"missing"})
	assert.ErrorIs(t, err, library.ErrContactNotFound)
	approved, err := f.pub.ApproveContacts(a.ID, userID, []string{contactID})
	require.NoError(t, err)
	assert.Equal(t, contactID, approved[apps.ContactAlias(a.ID, userID, contactID)])

	assert.ErrorIs(t, f.pub.SetDefaultWallet(a.ID, userID, "0x0000000000000000000000000000000000000001"), library.ErrAccountNotFound)
	require.NoError(t, f.pub.SetDefaultWallet(a.ID, userID, strings.ToLower(account)))

	require.NoError(t, f.vault.View(func(d *state.Document) error {
		s, err := d.Apps.Settings(a.ID, userID)
		if err != nil {
			return err
		}
		require.NotNil(t, s.DefaultWallet)
		assert.Equal(t, account, s.DefaultWallet.Account)
		assert.Len(t, s.ApprovedContacts, 1)
		return nil
	}))
}
