// Package publisher builds, signs and publishes app versions and installs
// apps published by others.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"dappvault/engine/library"
	"dappvault/engine/metrics"
	"dappvault/messaging/contentstore"
	"dappvault/messaging/feeds"
	"dappvault/state"
	"dappvault/state/apps"
	"dappvault/state/identity"
	"dappvault/state/wallets"
	"github.com/sasha-s/go-deadlock"
)

// Publisher never holds the vault lock while talking to the content store
// or the feed transport.
type Publisher struct {
	vault     *state.Vault
	store     contentstore.Store
	transport feeds.Transport
	appsDir   string
	metrics   *metrics.Collector

	mu         deadlock.Mutex
	publishing map[string]struct{}
}

func New(vault *state.Vault, store contentstore.Store, transport feeds.Transport, appsDir string, m *metrics.Collector) *Publisher {
	return &Publisher{
		vault:      vault,
		store:      store,
		transport:  transport,
		appsDir:    appsDir,
		metrics:    m,
		publishing: make(map[string]struct{}),
	}
}

// CreateApp allocates an app identity and an own app for developerID.
func (p *Publisher) CreateApp(params apps.CreateParams) (apps.OwnApp, error) {
	var created apps.OwnApp
	err := p.vault.Update(func(d *state.Document) error {
		if _, err := d.Identities.Developer(params.DeveloperID); err != nil {
			return err
		}
		appIdentity, err := d.Identities.CreateOwnApp()
		if err != nil {
			return err
		}
		params.IdentityID = appIdentity.ID
		params.MFID = appIdentity.KeyPair.PublicKey
		a, err := d.Apps.Create(params)
		if err != nil {
			return err
		}
		created = *a
		return nil
	})
	if err == nil {
		library.LogCLI(fmt.Sprintf("created app %s %s@%s", created.ID, created.Name, created.Version), 4)
	}
	return created, err
}

// AddVersion starts a new unpublished version of an own app and makes it
// the current one. Its contents are uploaded when it is published.
func (p *Publisher) AddVersion(appID, version string, permissions apps.Permissions) error {
	return p.vault.Update(func(d *state.Document) error {
		a, err := d.Apps.OwnApp(appID)
		if err != nil {
			return err
		}
		return a.AddVersion(version, permissions)
	})
}

type publication struct {
	version      string
	name         string
	contentsPath string
	contentsHash string
	permissions  apps.Permissions
	updateFeed   feeds.OwnFeed
	app          library.KeyPair
	developer    identity.OwnDeveloper
}

func (p *Publisher) resolve(appID, version string) (publication, error) {
	var pub publication
	err := p.vault.View(func(d *state.Document) error {
		a, err := d.Apps.OwnApp(appID)
		if err != nil {
			return err
		}
		appIdentity, err := d.Identities.App(a.IdentityID)
		if err != nil {
			return err
		}
		dev, err := d.Identities.Developer(a.DeveloperID)
		if err != nil {
			return err
		}
		v, err := a.VersionData(version)
		if err != nil {
			return err
		}
		if version == "" {
			version = a.Version
		}
		if v.Published() {
			return fmt.Errorf("%w: %s@%s", library.ErrAlreadyPublished, appID, version)
		}
		pub = publication{
			version:      version,
			name:         a.Name,
			contentsPath: a.ContentsPath,
			contentsHash: v.ContentsHash,
			permissions:  v.Permissions,
			updateFeed:   a.UpdateFeed,
			app:          appIdentity.KeyPair,
			developer:    *dev,
		}
		return nil
	})
	return pub, err
}

func (p *Publisher) begin(key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.publishing[key]; busy {
		return fmt.Errorf("%w: %s is being published", library.ErrStateConflict, key)
	}
	p.publishing[key] = struct{}{}
	return nil
}

func (p *Publisher) end(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.publishing, key)
}

// PublishApp signs and publishes a manifest for version (the current version
// when empty) and returns the pointer hash of the app's update feed. A
// version is published at most once.
func (p *Publisher) PublishApp(ctx context.Context, appID, version string) (string, error) {
	pub, err := p.resolve(appID, version)
	if err != nil {
		return "", err
	}
	key := appID + "@" + pub.version
	if err := p.begin(key); err != nil {
		return "", err
	}
	defer p.end(key)
	// a publication may have finished between resolve and begin
	if pub, err = p.resolve(appID, pub.version); err != nil {
		return "", err
	}

	if pub.contentsHash == "" {
		hash, err := p.uploadContents(ctx, appID, pub.version, pub.contentsPath)
		if err != nil {
			return "", err
		}
		pub.contentsHash = hash
	}

	updateHash, err := p.transport.Pointer(ctx, pub.updateFeed.Address(), pub.updateFeed.Topic)
	if err != nil {
		return "", err
	}
	err = p.vault.Update(func(d *state.Document) error {
		a, err := d.Apps.OwnApp(appID)
		if err != nil {
			return err
		}
		a.UpdateFeed.FeedHash = updateHash
		return nil
	})
	if err != nil {
		return "", err
	}

	manifest, err := apps.SignManifest(apps.ManifestData{
		ID:           pub.app.PublicKey,
		Author:       apps.Author{ID: pub.developer.KeyPair.PublicKey, Name: pub.developer.Profile.Name},
		Name:         pub.name,
		Version:      pub.version,
		ContentsHash: pub.contentsHash,
		UpdateHash:   updateHash,
		Permissions:  pub.permissions,
	}, pub.app, pub.developer.KeyPair)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(manifest)
	if err != nil {
		return "", fmt.Errorf("encoding manifest: %w", err)
	}
	u, err := p.transport.Publish(ctx, pub.updateFeed.KeyPair, pub.updateFeed.Topic, payload, nil)
	if err != nil {
		return "", err
	}

	err = p.vault.Update(func(d *state.Document) error {
		a, err := d.Apps.OwnApp(appID)
		if err != nil {
			return err
		}
		v, err := a.VersionData(pub.version)
		if err != nil {
			return err
		}
		if v.Published() {
			return fmt.Errorf("%w: %s", library.ErrAlreadyPublished, key)
		}
		v.VersionHash = u.Hash
		return nil
	})
	if err != nil {
		return "", err
	}
	library.LogCLI(fmt.Sprintf("published %s as %s", key, u.Hash), 4)
	return updateHash, nil
}

func (p *Publisher) uploadContents(ctx context.Context, appID, version, dir string) (string, error) {
	hash, err := p.store.UploadDirectory(ctx, dir)
	if err != nil {
		return "", err
	}
	err = p.vault.Update(func(d *state.Document) error {
		a, err := d.Apps.OwnApp(appID)
		if err != nil {
			return err
		}
		v, err := a.VersionData(version)
		if err != nil {
			return err
		}
		v.ContentsHash = hash
		v.ContentsURI = contentstore.URI(hash)
		return nil
	})
	return hash, err
}

// PublishContents uploads the app's contents again without publishing a
// manifest and returns their URI.
func (p *Publisher) PublishContents(ctx context.Context, appID, version string) (string, error) {
	var dir string
	err := p.vault.View(func(d *state.Document) error {
		a, err := d.Apps.OwnApp(appID)
		if err != nil {
			return err
		}
		if _, err := a.VersionData(version); err != nil {
			return err
		}
		if version == "" {
			version = a.Version
		}
		dir = a.ContentsPath
		return nil
	})
	if err != nil {
		return "", err
	}
	hash, err := p.uploadContents(ctx, appID, version, dir)
	if err != nil {
		return "", err
	}
	return contentstore.URI(hash), nil
}

// Dir is where the contents of an installed manifest are placed.
func (p *Publisher) Dir(m apps.ManifestData) string {
	return filepath.Join(p.appsDir, m.ID, m.Version)
}

// InstallApp installs manifest for userID. Download failures are recorded
// as download_error on the returned app and are not returned as errors.
func (p *Publisher) InstallApp(ctx context.Context, manifest apps.SignedManifest, userID string, settings apps.UserSettings) (apps.InstalledApp, error) {
	if err := manifest.Verify(); err != nil {
		return apps.InstalledApp{}, err
	}
	dir := p.Dir(manifest.Data)
	var installed apps.InstalledApp
	var ready bool
	err := p.vault.Update(func(d *state.Document) error {
		if _, err := d.Identities.User(userID); err != nil {
			return err
		}
		a, ok := d.Apps.Install(manifest, userID, settings, dir)
		ready = ok
		if !ready {
			a.InstallationState = apps.InstallDownloading
		}
		installed = *a
		return nil
	})
	if err != nil || ready {
		return installed, err
	}

	next := apps.InstallReady
	if err := p.store.DownloadDirectoryTo(ctx, manifest.Data.ContentsHash, dir); err != nil {
		library.LogCLI(fmt.Sprintf("downloading %s@%s: %s", manifest.Data.Name, manifest.Data.Version, err), 1)
		next = apps.InstallDownloadError
	}
	err = p.vault.Update(func(d *state.Document) error {
		if err := d.Apps.SetInstallationState(installed.ID, next); err != nil {
			return err
		}
		a, _ := d.Apps.InstalledApp(installed.ID)
		installed = *a
		return nil
	})
	p.metrics.RecordInstall(string(next))
	return installed, err
}

// ApproveContacts lets an app see some of userID's contacts and returns the
// alias each one is known by to the app.
func (p *Publisher) ApproveContacts(appID, userID string, contactIDs []string) (map[string]string, error) {
	var approved map[string]string
	err := p.vault.Update(func(d *state.Document) error {
		for _, id := range contactIDs {
			if _, err := d.Identities.Contact(userID, id); err != nil {
				return err
			}
		}
		var err error
		approved, err = d.Apps.ApproveContacts(appID, userID, contactIDs)
		return err
	})
	return approved, err
}

// SetDefaultWallet makes address the account the app uses for userID.
func (p *Publisher) SetDefaultWallet(appID, userID, address string) error {
	return p.vault.Update(func(d *state.Document) error {
		if _, err := d.Identities.User(userID); err != nil {
			return err
		}
		ref, ok := d.Wallets.WalletForAccount(address)
		if !ok {
			return library.NotFound(library.ErrAccountNotFound, address)
		}
		accounts, err := d.Wallets.Accounts(ref.Type, ref.ID)
		if err != nil {
			return err
		}
		for _, a := range accounts {
			if wallets.NormalizeAddress(a) == wallets.NormalizeAddress(address) {
				address = a
			}
		}
		return d.Apps.SetDefaultWallet(appID, userID, ref.ID, address)
	})
}
