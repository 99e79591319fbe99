package presence

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	lookupTimeout = 5 * time.Second

	// failed lookups are not retried for this long
	failureBackoff = 30 * time.Second
)

// Lookup fetches a human readable name for a user id.
type Lookup interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(ctx context.Context, userID string) (string, error)

// DisplayName calls f.
func (f LookupFunc) DisplayName(ctx context.Context, userID string) (string, error) {
	return f(ctx, userID)
}

// Placeholders are shown while a name is loading or when it cannot be resolved.
type Placeholders struct {
	Loading   string
	Anonymous string
}

var placeholders = map[string]Placeholders{
	"en": {Loading: "Loading...", Anonymous: "Anonymous"},
	"es": {Loading: "Cargando...", Anonymous: "Anónimo"},
	"de": {Loading: "Wird geladen...", Anonymous: "Anonym"},
	"ru": {Loading: "Загрузка...", Anonymous: "Аноним"},
}

// PlaceholdersFor picks the placeholders for a locale such as "ru" or "en-US".
// Unknown locales fall back to English.
func PlaceholdersFor(locale string) Placeholders {
	lang := strings.ToLower(locale)
	if i := strings.IndexAny(lang, "-_"); i >= 0 {
		lang = lang[:i]
	}
	if p, ok := placeholders[lang]; ok {
		return p
	}
	return placeholders["en"]
}

// Names resolves and caches display names for the lifetime of a session.
type Names struct {
	lookup       Lookup
	placeholders Placeholders

	mu     sync.RWMutex
	cache  map[string]string
	failed map[string]time.Time
	now    func() time.Time

	group singleflight.Group
	wg    sync.WaitGroup
}

// NewNames creates a resolver backed by lookup.
func NewNames(lookup Lookup, locale string) *Names {
	return &Names{
		lookup:       lookup,
		placeholders: PlaceholdersFor(locale),
		cache:        make(map[string]string),
		failed:       make(map[string]time.Time),
		now:          time.Now,
	}
}

// SetClock replaces the time source used for the failure backoff.
func (n *Names) SetClock(now func() time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.now = now
}

// Placeholders returns the locale placeholders in use.
func (n *Names) Placeholders() Placeholders {
	return n.placeholders
}

// Resolve returns the display name for userID, calling the lookup at most once
// per id. Failures resolve to the anonymous placeholder and are retried only
// after a backoff.
func (n *Names) Resolve(ctx context.Context, userID string) string {
	if userID == "" {
		return n.placeholders.Anonymous
	}
	if name, ok := n.cached(userID); ok {
		return name
	}

	v, _, _ := n.group.Do(userID, func() (any, error) {
		if name, ok := n.cached(userID); ok {
			return name, nil
		}

		name, err := n.lookup.DisplayName(ctx, userID)
		if err != nil {
			log.Debug().Err(err).Str("user", userID).Msg("display name lookup failed")
			n.mu.Lock()
			n.failed[userID] = n.now().Add(failureBackoff)
			n.mu.Unlock()
			return n.placeholders.Anonymous, nil
		}

		name = strings.TrimSpace(name)
		if name == "" {
			name = n.placeholders.Anonymous
		}

		n.mu.Lock()
		n.cache[userID] = name
		delete(n.failed, userID)
		n.mu.Unlock()

		return name, nil
	})

	return v.(string)
}

// DisplayName never blocks: it returns the cached name, or the loading
// placeholder while a background lookup fills the cache. After a failed lookup
// it returns the anonymous placeholder until the backoff elapses.
func (n *Names) DisplayName(userID string) string {
	if userID == "" {
		return n.placeholders.Anonymous
	}
	if name, ok := n.cached(userID); ok {
		return name
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
		defer cancel()
		n.Resolve(ctx, userID)
	}()

	return n.placeholders.Loading
}

// Wait blocks until background lookups started by DisplayName finish.
func (n *Names) Wait() {
	n.wg.Wait()
}

// cached returns the stored name, or the anonymous placeholder while a
// failed lookup is backing off.
func (n *Names) cached(userID string) (string, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if name, ok := n.cache[userID]; ok {
		return name, true
	}
	if retry, ok := n.failed[userID]; ok && n.now().Before(retry) {
		return n.placeholders.Anonymous, true
	}
	return "", false
}
