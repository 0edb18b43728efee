package conductor

import (
	"context"

	"dappvault/state"
	"dappvault/state/apps"
)

func (c *Conductor) CreateApp(params apps.CreateParams) (apps.OwnApp, error) {
	s, err := c.session()
	if err != nil {
		return apps.OwnApp{}, err
	}
	a, err := s.publisher.CreateApp(params)
	if err != nil {
		return apps.OwnApp{}, err
	}
	c.emit(state.Event{Kind: state.EventAppCreated, EntityID: a.ID, Data: a.Version})
	return a, nil
}

// AddAppVersion makes version the current, unpublished version of appID.
func (c *Conductor) AddAppVersion(appID, version string, permissions apps.Permissions) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	if err := s.publisher.AddVersion(appID, version, permissions); err != nil {
		return err
	}
	c.emit(state.Event{Kind: state.EventAppChanged, EntityID: appID, Change: "version", Data: version})
	return nil
}

// PublishApp publishes version (the current one when empty) and returns the
// update feed hash peers follow to find the latest version.
func (c *Conductor) PublishApp(ctx context.Context, appID, version string) (string, error) {
	s, err := c.session()
	if err != nil {
		return "", err
	}
	hash, err := s.publisher.PublishApp(ctx, appID, version)
	if err != nil {
		return "", err
	}
	c.emit(state.Event{Kind: state.EventAppChanged, EntityID: appID, Change: "published", Data: hash})
	return hash, nil
}

func (c *Conductor) PublishContents(ctx context.Context, appID, version string) (string, error) {
	s, err := c.session()
	if err != nil {
		return "", err
	}
	uri, err := s.publisher.PublishContents(ctx, appID, version)
	if err != nil {
		return "", err
	}
	c.emit(state.Event{Kind: state.EventAppChanged, EntityID: appID, Change: "contents", Data: uri})
	return uri, nil
}

// InstallApp installs manifest for userID. A failed download is reported
// through the returned app's state.
func (c *Conductor) InstallApp(ctx context.Context, manifest apps.SignedManifest, userID string, settings apps.UserSettings) (apps.InstalledApp, error) {
	s, err := c.session()
	if err != nil {
		return apps.InstalledApp{}, err
	}
	a, err := s.publisher.InstallApp(ctx, manifest, userID, settings)
	if err != nil {
		return apps.InstalledApp{}, err
	}
	c.emit(state.Event{Kind: state.EventAppInstalled, EntityID: a.ID, UserID: userID, Data: a.InstallationState})
	return a, nil
}

func (c *Conductor) ApproveContacts(appID, userID string, contactIDs []string) (map[string]string, error) {
	s, err := c.session()
	if err != nil {
		return nil, err
	}
	approved, err := s.publisher.ApproveContacts(appID, userID, contactIDs)
	if err != nil {
		return nil, err
	}
	c.emit(state.Event{Kind: state.EventAppChanged, EntityID: appID, UserID: userID, Change: "approvedContacts", Data: approved})
	return approved, nil
}

func (c *Conductor) SetAppDefaultWallet(appID, userID, address string) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	if err := s.publisher.SetDefaultWallet(appID, userID, address); err != nil {
		return err
	}
	c.emit(state.Event{Kind: state.EventAppChanged, EntityID: appID, UserID: userID, Change: "defaultWallet", Data: address})
	return nil
}
