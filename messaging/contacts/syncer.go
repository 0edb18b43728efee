// Package contacts runs the contact handshake and keeps own users' public
// profiles and their contacts' profiles in sync over feeds.
package contacts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dappvault/engine/library"
	"dappvault/engine/metrics"
	"dappvault/messaging/feeds"
	"dappvault/state/identity"
	"github.com/nbd-wtf/go-nostr"
	"github.com/sasha-s/go-deadlock"
)

type ContactSession struct {
	ContactID        string
	PeerID           string
	PeerPublicKey    string
	FirstContactFeed feeds.OwnFeed
	MirrorAddress    string
	ContactFeed      string
	State            identity.ConnectionState
}

// UserSession is a consistent copy of what the syncer needs about a user.
type UserSession struct {
	UserID      string
	KeyPair     library.KeyPair
	Profile     identity.Profile
	Private     bool
	ProfileHash string
	PublicFeed  feeds.OwnFeed
	Contacts    []ContactSession
}

// Ledger is where the syncer reads state from and commits what it learns.
type Ledger interface {
	Session(userID string) (UserSession, error)
	Contact(userID, contactID string) (ContactSession, error)
	SetConnectionState(userID, contactID string, state identity.ConnectionState) error
	SetContactFeed(userID, contactID, feed string) error
	UpdatePeerProfile(peerID string, profile identity.Profile) error
	SetProfileHash(userID, hash string) error
}

type Config struct {
	Debounce          time.Duration
	HandshakeAttempts int
}

type Syncer struct {
	ledger    Ledger
	transport feeds.Transport
	conf      Config
	metrics   *metrics.Collector

	mu       deadlock.Mutex
	users    map[string]*userSync
	inFlight map[string]struct{}
	// mirror watchers of handshakes started while their user is not syncing
	handshakes map[string]*handshakeWatch
	wg         deadlock.WaitGroup
}

type handshakeWatch struct {
	cancel context.CancelFunc
}

type userSync struct {
	ctx      context.Context
	cancel   context.CancelFunc
	wg       deadlock.WaitGroup
	notify   chan struct{}
	loop     context.CancelFunc
	watchers map[string]context.CancelFunc
}

func NewSyncer(ledger Ledger, transport feeds.Transport, conf Config, m *metrics.Collector) *Syncer {
	if conf.Debounce <= 0 {
		conf.Debounce = 10 * time.Second
	}
	if conf.HandshakeAttempts <= 0 {
		conf.HandshakeAttempts = 3
	}
	return &Syncer{
		ledger:    ledger,
		transport: transport,
		conf:      conf,
		metrics:   m,
		users:      make(map[string]*userSync),
		inFlight:   make(map[string]struct{}),
		handshakes: make(map[string]*handshakeWatch),
	}
}

// StartUser starts the profile publication loop and one watcher per contact.
// Handshakes that were interrupted are resumed.
func (s *Syncer) StartUser(userID string) error {
	session, err := s.ledger.Session(userID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, running := s.users[userID]; running {
		library.LogCLI(fmt.Sprintf("sync already running for user %s", userID), 2)
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	us := &userSync{
		ctx:      ctx,
		cancel:   cancel,
		notify:   make(chan struct{}, 1),
		watchers: make(map[string]context.CancelFunc),
	}
	s.users[userID] = us
	if !session.Private {
		s.startLoop(userID, us)
	}
	for _, c := range session.Contacts {
		s.watch(userID, us, c)
		if c.State == identity.StateCreated || c.State == identity.StateSendingFirstContact {
			s.establishAsync(userID, us, c.ContactID)
		}
	}
	s.metrics.SetActiveSyncs(len(s.users))
	library.LogCLI(fmt.Sprintf("started sync for user %s", userID), 3)
	return nil
}

// StopUser cancels the user's loop and watchers and waits for them to exit.
// Stopping a user that is not running does nothing.
func (s *Syncer) StopUser(userID string) {
	s.mu.Lock()
	us, ok := s.users[userID]
	if ok {
		delete(s.users, userID)
		s.metrics.SetActiveSyncs(len(s.users))
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	us.cancel()
	us.wg.Wait()
	library.LogCLI(fmt.Sprintf("stopped sync for user %s", userID), 3)
}

// StopAll stops every user and every pending handshake watcher.
func (s *Syncer) StopAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	for key, h := range s.handshakes {
		h.cancel()
		delete(s.handshakes, key)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.StopUser(id)
	}
	s.wg.Wait()
}

func (s *Syncer) Running(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[userID]
	return ok
}

// ProfileChanged restarts the debounce window of the user's publication loop.
func (s *Syncer) ProfileChanged(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if us, ok := s.users[userID]; ok {
		select {
		case us.notify <- struct{}{}:
		default:
		}
	}
}

// SetPrivate suspends or resumes profile publication. Resuming re-evaluates
// the current profile after the debounce window.
func (s *Syncer) SetPrivate(userID string, private bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	us, ok := s.users[userID]
	if !ok {
		return
	}
	if private && us.loop != nil {
		us.loop()
		us.loop = nil
	} else if !private && us.loop == nil {
		s.startLoop(userID, us)
	}
}

// ContactAdded watches the new contact and starts its handshake. Contacts of
// users that are not syncing wait for an explicit Establish.
func (s *Syncer) ContactAdded(userID, contactID string) {
	c, err := s.ledger.Contact(userID, contactID)
	if err != nil {
		library.LogCLI(err.Error(), 1)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	us, ok := s.users[userID]
	if !ok {
		return
	}
	s.watch(userID, us, c)
	s.establishAsync(userID, us, contactID)
}

func (s *Syncer) ContactRemoved(userID, contactID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopHandshakeWatch(userID, contactID)
	if us, ok := s.users[userID]; ok {
		if cancel, ok := us.watchers[contactID]; ok {
			cancel()
			delete(us.watchers, contactID)
		}
	}
}

// Watching reports whether a watcher runs for the contact.
func (s *Syncer) Watching(userID, contactID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if us, ok := s.users[userID]; ok {
		if _, watching := us.watchers[contactID]; watching {
			return true
		}
	}
	_, pending := s.handshakes[userID+"/"+contactID]
	return pending
}

// startLoop must be called with s.mu held.
func (s *Syncer) startLoop(userID string, us *userSync) {
	ctx, cancel := context.WithCancel(us.ctx)
	us.loop = cancel
	us.wg.Add(1)
	go func() {
		defer us.wg.Done()
		s.publicationLoop(ctx, userID, us.notify)
	}()
}

func (s *Syncer) publicationLoop(ctx context.Context, userID string, notify <-chan struct{}) {
	timer := time.NewTimer(s.conf.Debounce)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-notify:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.conf.Debounce)
		case <-timer.C:
			if err := s.PublishProfile(ctx, userID); err != nil {
				library.LogCLI(fmt.Sprintf("public profile publication for user %s: %s", userID, err), 1)
			}
		}
	}
}

// PublishProfile writes the user's profile to their public feed unless it is
// private or its fingerprint matches the last one written.
func (s *Syncer) PublishProfile(ctx context.Context, userID string) error {
	session, err := s.ledger.Session(userID)
	if err != nil {
		return err
	}
	if session.Private {
		return nil
	}
	hash, err := library.Fingerprint(session.Profile)
	if err != nil {
		return err
	}
	if hash == session.ProfileHash {
		return nil
	}
	payload, err := encode(PublicProfile{PublicKey: session.KeyPair.PublicKey, Profile: session.Profile})
	if err != nil {
		return err
	}
	feed := session.PublicFeed
	if _, err := s.transport.Publish(ctx, feed.KeyPair, feed.Topic, payload, nil); err != nil {
		return err
	}
	library.LogCLI(fmt.Sprintf("public profile published for user %s", userID), 3)
	return s.ledger.SetProfileHash(userID, hash)
}

// watch must be called with s.mu held.
func (s *Syncer) watch(userID string, us *userSync, c ContactSession) {
	if _, ok := us.watchers[c.ContactID]; ok {
		return
	}
	s.stopHandshakeWatch(userID, c.ContactID)
	ctx, cancel := context.WithCancel(us.ctx)
	us.watchers[c.ContactID] = cancel
	us.wg.Add(2)
	go func() {
		defer us.wg.Done()
		s.watchMirror(ctx, userID, c)
	}()
	go func() {
		defer us.wg.Done()
		s.watchPeer(ctx, c)
	}()
}

func (s *Syncer) watchMirror(ctx context.Context, userID string, c ContactSession) {
	updates, err := s.transport.Subscribe(ctx, c.MirrorAddress, feeds.TopicFirstContact)
	if err != nil {
		library.LogCLI(fmt.Sprintf("watching contact %s: %s", c.ContactID, err), 1)
		s.fail(userID, c.ContactID)
		return
	}
	for u := range updates {
		s.accept(userID, c, u)
	}
}

// accept records u when it is the peer's descriptor and reports whether the
// contact is connected afterwards.
func (s *Syncer) accept(userID string, c ContactSession, u feeds.Update) bool {
	fc, err := parseFirstContact(u.Payload)
	if err != nil || fc.PublicKey != c.PeerPublicKey {
		library.LogCLI(fmt.Sprintf("ignoring first contact update %s for contact %s", u.Hash, c.ContactID), 2)
		return false
	}
	s.received(userID, c.ContactID, u.Pointer)
	current, err := s.ledger.Contact(userID, c.ContactID)
	return err == nil && current.State == identity.StateConnected
}

// checkMirror looks for a descriptor the peer already published at the
// mirror address.
func (s *Syncer) checkMirror(ctx context.Context, userID string, c ContactSession) bool {
	u, err := s.transport.Fetch(ctx, feeds.PointerHash(c.MirrorAddress, feeds.TopicFirstContact))
	if err != nil {
		if !errors.Is(err, library.ErrNotFound) {
			library.LogCLI(fmt.Sprintf("fetching mirror of contact %s: %s", c.ContactID, err), 2)
		}
		return false
	}
	return s.accept(userID, c, u)
}

// watchHandshake waits for the peer's descriptor of a contact whose user is
// not syncing. It stops once the contact connects. Must be called with s.mu
// held.
func (s *Syncer) watchHandshake(userID string, c ContactSession) {
	key := userID + "/" + c.ContactID
	if _, ok := s.handshakes[key]; ok {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &handshakeWatch{cancel: cancel}
	s.handshakes[key] = h
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			if s.handshakes[key] == h {
				delete(s.handshakes, key)
			}
			s.mu.Unlock()
			cancel()
		}()
		updates, err := s.transport.Subscribe(ctx, c.MirrorAddress, feeds.TopicFirstContact)
		if err != nil {
			library.LogCLI(fmt.Sprintf("watching contact %s: %s", c.ContactID, err), 1)
			s.fail(userID, c.ContactID)
			return
		}
		for u := range updates {
			if s.accept(userID, c, u) {
				return
			}
		}
	}()
}

// stopHandshakeWatch must be called with s.mu held.
func (s *Syncer) stopHandshakeWatch(userID, contactID string) {
	key := userID + "/" + contactID
	if h, ok := s.handshakes[key]; ok {
		h.cancel()
		delete(s.handshakes, key)
	}
}

// ensureMirrorWatch must be called with s.mu held.
func (s *Syncer) ensureMirrorWatch(userID string, c ContactSession) {
	if us, ok := s.users[userID]; ok {
		s.watch(userID, us, c)
		return
	}
	s.watchHandshake(userID, c)
}

// received records the peer's first contact feed. The contact connects once
// our own descriptor is sent too.
func (s *Syncer) received(userID, contactID, pointer string) {
	if err := s.ledger.SetContactFeed(userID, contactID, pointer); err != nil {
		library.LogCLI(err.Error(), 1)
		return
	}
	current, err := s.ledger.Contact(userID, contactID)
	if err != nil {
		library.LogCLI(err.Error(), 1)
		return
	}
	if current.State == identity.StateSent {
		if err := s.ledger.SetConnectionState(userID, contactID, identity.StateConnected); err != nil {
			library.LogCLI(err.Error(), 1)
		}
	}
}

func (s *Syncer) watchPeer(ctx context.Context, c ContactSession) {
	updates, err := s.transport.Subscribe(ctx, c.PeerPublicKey, feeds.TopicProfile)
	if err != nil {
		library.LogCLI(fmt.Sprintf("watching peer %s: %s", c.PeerID, err), 1)
		return
	}
	for u := range updates {
		p, err := ParsePublicProfile(u.Payload)
		if err != nil || p.PublicKey != c.PeerPublicKey {
			continue
		}
		if err := s.ledger.UpdatePeerProfile(c.PeerID, p.Profile); err != nil {
			library.LogCLI(err.Error(), 1)
		}
	}
}

func (s *Syncer) fail(userID, contactID string) {
	c, err := s.ledger.Contact(userID, contactID)
	if err != nil || c.State == identity.StateConnected || c.State == identity.StateFailed {
		return
	}
	if err := s.ledger.SetConnectionState(userID, contactID, identity.StateFailed); err != nil {
		library.LogCLI(err.Error(), 1)
	}
}

// establishAsync must be called with s.mu held.
func (s *Syncer) establishAsync(userID string, us *userSync, contactID string) {
	us.wg.Add(1)
	go func() {
		defer us.wg.Done()
		if err := s.Establish(us.ctx, userID, contactID); err != nil {
			library.LogCLI(fmt.Sprintf("handshake with contact %s: %s", contactID, err), 1)
		}
	}()
}

// Establish publishes the user's descriptor on the contact's first contact
// feed. Publish failures are retried; when every attempt fails the contact
// is marked failed and no error is returned. A connected contact is left
// alone and a failed one starts over. Once sent, the mirror address is
// checked and watched until the peer's descriptor arrives, whether or not
// the user is syncing.
func (s *Syncer) Establish(ctx context.Context, userID, contactID string) error {
	key := userID + "/" + contactID
	s.mu.Lock()
	if _, busy := s.inFlight[key]; busy {
		s.mu.Unlock()
		return nil
	}
	s.inFlight[key] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.inFlight, key)
		s.mu.Unlock()
	}()

	c, err := s.ledger.Contact(userID, contactID)
	if err != nil {
		return err
	}
	switch c.State {
	case identity.StateConnected:
		return nil
	case identity.StateSent:
		if c.ContactFeed != "" {
			return s.ledger.SetConnectionState(userID, contactID, identity.StateConnected)
		}
		if !s.checkMirror(ctx, userID, c) {
			s.mu.Lock()
			s.ensureMirrorWatch(userID, c)
			s.mu.Unlock()
		}
		return nil
	case identity.StateFailed:
		if err := s.ledger.SetConnectionState(userID, contactID, identity.StateCreated); err != nil {
			return err
		}
	}
	if err := s.ledger.SetConnectionState(userID, contactID, identity.StateSendingFirstContact); err != nil {
		return err
	}
	session, err := s.ledger.Session(userID)
	if err != nil {
		return err
	}
	payload, err := encode(FirstContact{
		Type:       firstContactType,
		PublicKey:  session.KeyPair.PublicKey,
		Profile:    session.Profile,
		PublicFeed: session.PublicFeed.FeedHash,
	})
	if err != nil {
		return err
	}
	tags := nostr.Tags{{"p", c.MirrorAddress}}
	var published bool
	for attempt := 1; attempt <= s.conf.HandshakeAttempts; attempt++ {
		_, err := s.transport.Publish(ctx, c.FirstContactFeed.KeyPair, feeds.TopicFirstContact, payload, tags)
		if err == nil {
			published = true
			break
		}
		library.LogCLI(fmt.Sprintf("first contact attempt %d/%d for contact %s: %s", attempt, s.conf.HandshakeAttempts, contactID, err), 2)
		if ctx.Err() != nil {
			break
		}
	}
	if !published {
		return s.ledger.SetConnectionState(userID, contactID, identity.StateFailed)
	}
	if err := s.ledger.SetConnectionState(userID, contactID, identity.StateSent); err != nil {
		return err
	}
	current, err := s.ledger.Contact(userID, contactID)
	if err != nil {
		return err
	}
	if current.ContactFeed != "" {
		return s.ledger.SetConnectionState(userID, contactID, identity.StateConnected)
	}
	if s.checkMirror(ctx, userID, current) {
		return nil
	}
	s.mu.Lock()
	s.ensureMirrorWatch(userID, current)
	s.mu.Unlock()
	return nil
}
