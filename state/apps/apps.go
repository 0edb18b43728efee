// Package apps keeps the apps a vault develops and the apps it installed,
// together with per-user settings for each.
package apps

import (
	"fmt"

	"dappvault/engine/library"
	"dappvault/messaging/feeds"
	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
)

const (
	DefaultName    = "Untitled"
	DefaultVersion = "1.0.0"
)

// DB is the app section of the vault document. It has no lock of its own;
// the vault serializes access.
type DB struct {
	Own       map[string]*OwnApp       `json:"own"`
	Installed map[string]*InstalledApp `json:"installed"`
}

func NewDB() *DB {
	db := &DB{}
	db.Ensure()
	return db
}

func (db *DB) Ensure() {
	if db.Own == nil {
		db.Own = make(map[string]*OwnApp)
	}
	if db.Installed == nil {
		db.Installed = make(map[string]*InstalledApp)
	}
	for _, a := range db.Own {
		if a.Versions == nil {
			a.Versions = make(map[string]*VersionData)
		}
		if a.Users == nil {
			a.Users = make(map[string]*UserSettings)
		}
	}
	for _, a := range db.Installed {
		if a.Users == nil {
			a.Users = make(map[string]*UserSettings)
		}
	}
}

// ValidVersion reports whether v is a strict semantic version such as 1.2.3.
func ValidVersion(v string) bool {
	_, err := semver.StrictNewVersion(v)
	return err == nil
}

type CreateParams struct {
	ContentsPath string
	DeveloperID  string
	IdentityID   string
	MFID         string
	Name         string
	Version      string
	Permissions  Permissions
}

// Create adds an own app. A missing name becomes "Untitled" and a missing or
// invalid version becomes 1.0.0.
func (db *DB) Create(p CreateParams) (*OwnApp, error) {
	if p.Name == "" {
		p.Name = DefaultName
	}
	if !ValidVersion(p.Version) {
		p.Version = DefaultVersion
	}
	updateFeed, err := feeds.NewOwnFeed(feeds.TopicAppUpdates)
	if err != nil {
		return nil, err
	}
	app := &OwnApp{
		ID:           uuid.NewString(),
		IdentityID:   p.IdentityID,
		MFID:         p.MFID,
		DeveloperID:  p.DeveloperID,
		Name:         p.Name,
		ContentsPath: p.ContentsPath,
		Version:      p.Version,
		Versions: map[string]*VersionData{
			p.Version: {Permissions: p.Permissions},
		},
		UpdateFeed: updateFeed,
		Users:      make(map[string]*UserSettings),
	}
	db.Own[app.ID] = app
	return app, nil
}

func (db *DB) OwnApp(id string) (*OwnApp, error) {
	a, ok := db.Own[id]
	if !ok {
		return nil, library.NotFound(library.ErrAppNotFound, id)
	}
	return a, nil
}

// VersionData returns version of the app, or its current version when
// version is empty.
func (a *OwnApp) VersionData(version string) (*VersionData, error) {
	if version == "" {
		version = a.Version
	}
	v, ok := a.Versions[version]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no version %q", library.ErrInvalidVersion, a.ID, version)
	}
	return v, nil
}

// AddVersion starts a new unpublished version and makes it current.
func (a *OwnApp) AddVersion(version string, permissions Permissions) error {
	if !ValidVersion(version) {
		return fmt.Errorf("%w: %q", library.ErrInvalidVersion, version)
	}
	if _, ok := a.Versions[version]; ok {
		return fmt.Errorf("%w: version %s exists", library.ErrStateConflict, version)
	}
	a.Versions[version] = &VersionData{Permissions: permissions}
	a.Version = version
	return nil
}

// Install records an installed app for userID. ready is true when the same
// manifest version is already installed and downloaded.
func (db *DB) Install(manifest SignedManifest, userID string, settings UserSettings, contentsPath string) (app *InstalledApp, ready bool) {
	for _, existing := range db.Installed {
		if existing.Manifest.Data.ID == manifest.Data.ID {
			app = existing
			break
		}
	}
	if app == nil {
		app = &InstalledApp{
			ID:                uuid.NewString(),
			InstallationState: InstallCreated,
			Users:             make(map[string]*UserSettings),
		}
		db.Installed[app.ID] = app
	}
	ready = app.InstallationState == InstallReady &&
		app.Manifest.Data.Version == manifest.Data.Version &&
		app.Manifest.Data.ContentsHash == manifest.Data.ContentsHash
	if !ready {
		app.Manifest = manifest
		app.ContentsPath = contentsPath
		app.InstallationState = InstallCreated
	}
	s := settings
	app.Users[userID] = &s
	return app, ready
}

func (db *DB) InstalledApp(id string) (*InstalledApp, error) {
	a, ok := db.Installed[id]
	if !ok {
		return nil, library.NotFound(library.ErrAppNotFound, id)
	}
	return a, nil
}

func (db *DB) SetInstallationState(id string, state InstallationState) error {
	a, err := db.InstalledApp(id)
	if err != nil {
		return err
	}
	a.InstallationState = state
	return nil
}

// userSettings finds the settings userID has for any app, own or installed.
func (db *DB) userSettings(appID, userID string) (*UserSettings, error) {
	var users map[string]*UserSettings
	if a, ok := db.Own[appID]; ok {
		users = a.Users
	} else if a, ok := db.Installed[appID]; ok {
		users = a.Users
	} else {
		return nil, library.NotFound(library.ErrAppNotFound, appID)
	}
	s, ok := users[userID]
	if !ok {
		s = &UserSettings{}
		users[userID] = s
	}
	if s.ApprovedContacts == nil {
		s.ApprovedContacts = make(map[string]string)
	}
	return s, nil
}

// ContactAlias is the id an app sees for a contact. It is stable per app and
// user so the app never learns the contact's vault id.
func ContactAlias(appID, userID, contactID string) string {
	return library.Sha256Sum("alias:" + appID + ":" + userID + ":" + contactID)
}

// ApproveContacts lets the app see contactIDs on behalf of userID and
// returns the alias to contact mapping that was added.
func (db *DB) ApproveContacts(appID, userID string, contactIDs []string) (map[string]string, error) {
	s, err := db.userSettings(appID, userID)
	if err != nil {
		return nil, err
	}
	approved := make(map[string]string, len(contactIDs))
	for _, id := range contactIDs {
		alias := ContactAlias(appID, userID, id)
		s.ApprovedContacts[alias] = id
		approved[alias] = id
	}
	return approved, nil
}

func (db *DB) SetDefaultWallet(appID, userID, walletID, account string) error {
	s, err := db.userSettings(appID, userID)
	if err != nil {
		return err
	}
	s.DefaultWallet = &WalletAccount{WalletID: walletID, Account: account}
	return nil
}

// Settings returns userID's settings for the app, zero when none were saved.
func (db *DB) Settings(appID, userID string) (UserSettings, error) {
	var users map[string]*UserSettings
	if a, ok := db.Own[appID]; ok {
		users = a.Users
	} else if a, ok := db.Installed[appID]; ok {
		users = a.Users
	} else {
		return UserSettings{}, library.NotFound(library.ErrAppNotFound, appID)
	}
	if s, ok := users[userID]; ok {
		return *s, nil
	}
	return UserSettings{}, nil
}
