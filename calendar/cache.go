package calendar

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const prefetchTimeout = 30 * time.Second

// Source fetches the events intersecting [start, end).
type Source interface {
	Events(ctx context.Context, start, end time.Time) ([]Event, error)
}

// Override is a client-side change the backend does not persist.
type Override struct {
	Title string
}

// Cache keeps the events of each viewed week keyed by week key. Local
// overrides live in a separate overlay and are applied on every read.
type Cache struct {
	weeks  Weeks
	source Source

	mu        sync.Mutex
	entries   map[string][]Event
	gens      map[string]uint64
	overrides map[string]Override

	group singleflight.Group
	wg    sync.WaitGroup
}

// NewCache creates an empty cache backed by source.
func NewCache(source Source, weeks Weeks) *Cache {
	return &Cache{
		weeks:     weeks,
		source:    source,
		entries:   make(map[string][]Event),
		gens:      make(map[string]uint64),
		overrides: make(map[string]Override),
	}
}

// Weeks returns the week scheme used for keys.
func (c *Cache) Weeks() Weeks {
	return c.weeks
}

// GetWeek returns the events of the week identified by key, fetching them on
// a miss. Concurrent misses for the same key share one fetch.
func (c *Cache) GetWeek(ctx context.Context, key string) ([]Event, error) {
	c.mu.Lock()
	if events, ok := c.entries[key]; ok {
		out := c.overlay(events)
		c.mu.Unlock()
		return out, nil
	}
	gen := c.gens[key]
	c.mu.Unlock()

	v, err, _ := c.group.Do(fmt.Sprintf("%s#%d", key, gen), func() (any, error) {
		c.mu.Lock()
		if events, ok := c.entries[key]; ok {
			c.mu.Unlock()
			return events, nil
		}
		c.mu.Unlock()

		start, end, err := c.weeks.Range(key)
		if err != nil {
			return nil, err
		}

		fetched, err := c.source.Events(ctx, start, end)
		if err != nil {
			return nil, fmt.Errorf("fetch week %s: %w", key, err)
		}

		events := make([]Event, 0, len(fetched))
		for _, e := range fetched {
			if e.Overlaps(start, end) {
				events = append(events, e)
			}
		}
		sort.SliceStable(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })

		c.mu.Lock()
		if c.gens[key] == gen {
			c.entries[key] = events
		} else {
			log.Debug().Str("week", key).Msg("week invalidated during fetch, not caching")
		}
		c.mu.Unlock()

		return events, nil
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overlay(v.([]Event)), nil
}

// Prefetch warms key in the background. Errors are logged and dropped.
func (c *Cache) Prefetch(key string) {
	if c.Cached(key) {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), prefetchTimeout)
		defer cancel()
		if _, err := c.GetWeek(ctx, key); err != nil {
			log.Debug().Err(err).Str("week", key).Msg("prefetch failed")
		}
	}()
}

// Wait blocks until running prefetches finish.
func (c *Cache) Wait() {
	c.wg.Wait()
}

// Cached reports whether key has a cache entry.
func (c *Cache) Cached(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// Invalidate drops key so the next GetWeek fetches again. A fetch already in
// flight for key will not repopulate the entry.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	c.gens[key]++
}

// InvalidateEvents drops every week touched by any of the events.
func (c *Cache) InvalidateEvents(events ...Event) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, e := range events {
		for _, key := range c.weeks.Span(e) {
			if !seen[key] {
				seen[key] = true
				keys = append(keys, key)
			}
		}
	}
	for _, key := range keys {
		c.Invalidate(key)
	}
	return keys
}

// SetTitleOverride shows title for eventID regardless of fetched data.
func (c *Cache) SetTitleOverride(eventID, title string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overrides[eventID] = Override{Title: title}
}

// ClearOverride removes any local override for eventID.
func (c *Cache) ClearOverride(eventID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.overrides, eventID)
}

// Override returns the local override for eventID.
func (c *Cache) Override(eventID string) (Override, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.overrides[eventID]
	return o, ok
}

// overlay copies events and applies overrides; c.mu must be held.
func (c *Cache) overlay(events []Event) []Event {
	out := make([]Event, len(events))
	copy(out, events)
	for i, e := range out {
		if o, ok := c.overrides[e.ID]; ok {
			out[i].Title = o.Title
		}
	}
	return out
}
