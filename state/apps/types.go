package apps

import (
	"dappvault/messaging/feeds"
)

type InstallationState string

const (
	InstallCreated       InstallationState = "created"
	InstallDownloading   InstallationState = "downloading"
	InstallReady         InstallationState = "ready"
	InstallDownloadError InstallationState = "download_error"
)

type Permissions struct {
	Required []string `json:"required,omitempty"`
	Optional []string `json:"optional,omitempty"`
}

type PermissionGrants struct {
	Granted []string `json:"granted,omitempty"`
	Denied  []string `json:"denied,omitempty"`
}

type WalletAccount struct {
	WalletID string `json:"walletId"`
	Account  string `json:"account"`
}

// UserSettings is what one user decided about one app.
type UserSettings struct {
	PermissionsChecked bool             `json:"permissionsChecked"`
	Grants             PermissionGrants `json:"grants"`
	// ApprovedContacts maps the alias the app sees to the contact id.
	ApprovedContacts map[string]string `json:"approvedContacts,omitempty"`
	DefaultWallet    *WalletAccount    `json:"defaultWallet,omitempty"`
}

type VersionData struct {
	ContentsHash string      `json:"contentsHash,omitempty"`
	ContentsURI  string      `json:"contentsUri,omitempty"`
	VersionHash  string      `json:"versionHash,omitempty"`
	Permissions  Permissions `json:"permissions"`
}

// Published reports whether a manifest was written for this version.
func (v *VersionData) Published() bool {
	return v.VersionHash != ""
}

type OwnApp struct {
	ID           string                   `json:"id"`
	IdentityID   string                   `json:"identityId"`
	MFID         string                   `json:"mfid"`
	DeveloperID  string                   `json:"developerId"`
	Name         string                   `json:"name"`
	ContentsPath string                   `json:"contentsPath"`
	Version      string                   `json:"version"`
	Versions     map[string]*VersionData  `json:"versions"`
	UpdateFeed   feeds.OwnFeed            `json:"updateFeed"`
	Users        map[string]*UserSettings `json:"users"`
}

type InstalledApp struct {
	ID                string                   `json:"id"`
	Manifest          SignedManifest           `json:"manifest"`
	InstallationState InstallationState        `json:"installationState"`
	ContentsPath      string                   `json:"contentsPath"`
	Users             map[string]*UserSettings `json:"users"`
}
