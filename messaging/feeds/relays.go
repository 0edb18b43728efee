package feeds

import (
	"context"
	"fmt"
	"time"

	"dappvault/engine/helpers"
	"dappvault/engine/library"
	"dappvault/engine/metrics"
	"github.com/nbd-wtf/go-nostr"
	"github.com/sasha-s/go-deadlock"
)

// Relays publishes feeds as replaceable nostr events on a set of relays.
// A write succeeds when at least one relay accepts it.
type Relays struct {
	urls    []string
	timeout time.Duration
	metrics *metrics.Collector
	cache   *eventCache
}

var _ Transport = (*Relays)(nil)

func NewRelays(urls []string, m *metrics.Collector) *Relays {
	return &Relays{
		urls:    urls,
		timeout: 10 * time.Second,
		metrics: m,
		cache:   newEventCache(),
	}
}

func (r *Relays) Publish(ctx context.Context, key library.KeyPair, topic string, payload []byte, tags nostr.Tags) (Update, error) {
	e, err := helpers.SignEvent(key, Kind, feedTags(key.PublicKey, topic, tags), string(payload))
	if err != nil {
		return Update{}, err
	}
	u, _ := updateFromEvent(e)
	err = r.publishToRelays(ctx, e)
	r.metrics.RecordFeedPublish(topic, err)
	if err != nil {
		return Update{}, err
	}
	r.cache.push(e)
	return u, nil
}

func (r *Relays) publishToRelays(ctx context.Context, e nostr.Event) error {
	if len(r.urls) == 0 {
		return fmt.Errorf("%w: no relays configured", library.ErrTransport)
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	var wg = &deadlock.WaitGroup{}
	var mu deadlock.Mutex
	accepted := 0
	var lastErr error
	for _, url := range r.urls {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			relay, err := nostr.RelayConnect(ctx, url)
			if err != nil {
				library.LogCLI(fmt.Sprintf("could not connect to relay %s: %s", url, err), 2)
				mu.Lock()
				lastErr = err
				mu.Unlock()
				return
			}
			defer relay.Close()
			_, err = relay.Publish(ctx, e)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				library.LogCLI(fmt.Sprintf("could not publish to relay %s: %s", url, err), 2)
				lastErr = err
				return
			}
			accepted++
		}(url)
	}
	wg.Wait()
	if accepted == 0 {
		return fmt.Errorf("%w: no relay accepted event %s: %v", library.ErrTransport, e.ID, lastErr)
	}
	return nil
}

func (r *Relays) Pointer(_ context.Context, address, topic string) (string, error) {
	return PointerHash(address, topic), nil
}

// Fetch asks every relay for the newest event behind pointer. Relays that
// fail are skipped; the local cache answers when none of them respond.
func (r *Relays) Fetch(ctx context.Context, pointer string) (Update, error) {
	filters := nostr.Filters{{
		Kinds: []int{Kind},
		Tags:  nostr.TagMap{"f": []string{pointer}},
		Limit: 1,
	}}
	events := r.query(ctx, filters)
	var latest nostr.Event
	found := false
	for _, e := range events {
		// relays are not trusted to apply tag filters, and the f tag is
		// only valid when it matches the signer and topic
		if !library.HasTag(e, "f", pointer) {
			continue
		}
		if u, ok := updateFromEvent(e); !ok || u.Pointer != pointer {
			continue
		}
		if !found || e.CreatedAt > latest.CreatedAt {
			latest = e
			found = true
		}
	}
	if found {
		r.cache.push(latest)
	} else if latest, found = r.cache.byPointer(pointer); !found {
		return Update{}, library.NotFound(library.ErrFeedNotFound, pointer)
	}
	u, _ := updateFromEvent(latest)
	return u, nil
}

func (r *Relays) query(ctx context.Context, filters nostr.Filters) []nostr.Event {
	sane := library.ValidateSaneExecutionTime()
	defer sane()
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	var events []nostr.Event
	var eventsMu deadlock.Mutex
	wait := &deadlock.WaitGroup{}
	for _, url := range r.urls {
		wait.Add(1)
		go func(url string) {
			defer wait.Done()
			relay, err := nostr.RelayConnect(ctx, url)
			if err != nil {
				library.LogCLI(err.Error(), 3)
				return
			}
			defer relay.Close()
			sub, err := relay.Subscribe(ctx, filters)
			if err != nil {
				library.LogCLI(err.Error(), 2)
				return
			}
			defer sub.Unsub()
			for {
				select {
				case ev, ok := <-sub.Events:
					if !ok {
						return
					}
					if ev == nil || !helpers.ValidEvent(*ev) {
						continue
					}
					eventsMu.Lock()
					events = append(events, *ev)
					eventsMu.Unlock()
				case <-sub.EndOfStoredEvents:
					return
				case <-ctx.Done():
					return
				}
			}
		}(url)
	}
	wait.Wait()
	return events
}

// Subscribe follows the feed on every relay. Each event is delivered once,
// and only if it is newer than the last one delivered.
func (r *Relays) Subscribe(ctx context.Context, address, topic string) (<-chan Update, error) {
	if len(r.urls) == 0 {
		return nil, fmt.Errorf("%w: no relays configured", library.ErrTransport)
	}
	filters := nostr.Filters{{
		Kinds:   []int{Kind},
		Authors: []string{address},
		Tags:    nostr.TagMap{"d": []string{topic}},
	}}
	mb := library.NewMailbox[Update](ctx)
	var mu deadlock.Mutex
	seen := make(map[string]struct{})
	var newest nostr.Timestamp
	deliver := func(e nostr.Event) {
		mu.Lock()
		defer mu.Unlock()
		if !library.HasTag(e, "d", topic) {
			return
		}
		if _, ok := seen[e.ID]; ok || e.CreatedAt < newest {
			return
		}
		seen[e.ID] = struct{}{}
		newest = e.CreatedAt
		u, ok := updateFromEvent(e)
		if !ok {
			return
		}
		r.cache.push(e)
		r.metrics.RecordFeedReceive(topic)
		mb.Push(u)
	}
	for _, url := range r.urls {
		go r.follow(ctx, url, filters, deliver)
	}
	return mb.C, nil
}

func (r *Relays) follow(ctx context.Context, url string, filters nostr.Filters, deliver func(nostr.Event)) {
	relay, err := nostr.RelayConnect(ctx, url)
	if err != nil {
		library.LogCLI(fmt.Sprintf("could not connect to relay %s: %s", url, err), 2)
		return
	}
	defer relay.Close()
	sub, err := relay.Subscribe(ctx, filters)
	if err != nil {
		library.LogCLI(err.Error(), 1)
		return
	}
	defer sub.Unsub()
	for {
		select {
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			if ev != nil && helpers.ValidEvent(*ev) {
				deliver(*ev)
			}
		case <-ctx.Done():
			return
		}
	}
}
