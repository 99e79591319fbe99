package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrSuperseded is returned when the user navigated away before the requested
// week finished loading. The result must not be displayed.
var ErrSuperseded = errors.New("week no longer displayed")

// ValidationError rejects an event before any network call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// Validate checks the fields a user must fill in.
func Validate(e Event) error {
	if strings.TrimSpace(e.Title) == "" {
		return &ValidationError{Field: "title", Reason: "is required"}
	}
	if e.Start.IsZero() || e.End.IsZero() {
		return &ValidationError{Field: "time", Reason: "is required"}
	}
	if e.End.Before(e.Start) {
		return &ValidationError{Field: "end", Reason: "must not be before start"}
	}
	return nil
}

// Backend persists events.
type Backend interface {
	Source
	CreateEvent(ctx context.Context, e Event) (Event, error)
	UpdateEvent(ctx context.Context, e Event) (Event, error)
	DeleteEvent(ctx context.Context, id string) error
}

// WeekView drives the weekly calendar: it tracks the displayed week, serves it
// from the cache, keeps neighbouring weeks warm and invalidates on mutation.
type WeekView struct {
	cache   *Cache
	backend Backend

	mu      sync.Mutex
	current string
	events  []Event
}

// NewWeekView creates a view with its own cache.
func NewWeekView(backend Backend, weeks Weeks) *WeekView {
	return &WeekView{
		cache:   NewCache(backend, weeks),
		backend: backend,
	}
}

// Cache exposes the underlying cache.
func (v *WeekView) Cache() *Cache {
	return v.cache
}

// Current returns the key of the displayed week.
func (v *WeekView) Current() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// Events returns the events of the displayed week.
func (v *WeekView) Events() []Event {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Event(nil), v.events...)
}

// Navigate displays the week containing t.
func (v *WeekView) Navigate(ctx context.Context, t time.Time) ([]Event, error) {
	return v.show(ctx, v.cache.weeks.Key(t))
}

// Next displays the following week.
func (v *WeekView) Next(ctx context.Context) ([]Event, error) {
	return v.step(ctx, 1)
}

// Prev displays the previous week.
func (v *WeekView) Prev(ctx context.Context) ([]Event, error) {
	return v.step(ctx, -1)
}

// Reload shows the displayed week again, refetching it if it was invalidated.
func (v *WeekView) Reload(ctx context.Context) ([]Event, error) {
	key := v.Current()
	if key == "" {
		return nil, nil
	}
	return v.show(ctx, key)
}

// Create persists a new event and refreshes the affected weeks.
func (v *WeekView) Create(ctx context.Context, e Event) (Event, error) {
	if err := Validate(e); err != nil {
		return Event{}, err
	}

	created, err := v.backend.CreateEvent(ctx, e)
	if err != nil {
		return Event{}, fmt.Errorf("create event: %w", err)
	}

	v.afterMutation(ctx, created)
	return created, nil
}

// Reschedule moves old to [start, end). Both the old and new weeks are
// invalidated.
func (v *WeekView) Reschedule(ctx context.Context, old Event, start, end time.Time) (Event, error) {
	next := old
	next.Start = start
	next.End = end
	if o, ok := v.cache.Override(old.ID); ok {
		next.Title = o.Title
	}
	if err := Validate(next); err != nil {
		return Event{}, err
	}

	saved, err := v.backend.UpdateEvent(ctx, next)
	if err != nil {
		return Event{}, fmt.Errorf("reschedule event %s: %w", old.ID, err)
	}

	v.afterMutation(ctx, old, saved)
	return saved, nil
}

// Rename changes the title of e. The backend may not echo the new title, so
// it is also kept as a local override until the event is deleted.
func (v *WeekView) Rename(ctx context.Context, e Event, title string) (Event, error) {
	next := e
	next.Title = title
	if err := Validate(next); err != nil {
		return Event{}, err
	}

	saved, err := v.backend.UpdateEvent(ctx, next)
	if err != nil {
		return Event{}, fmt.Errorf("rename event %s: %w", e.ID, err)
	}

	v.cache.SetTitleOverride(e.ID, strings.TrimSpace(title))
	saved.Title = strings.TrimSpace(title)

	v.afterMutation(ctx, e, saved)
	return saved, nil
}

// Delete removes e once the backend confirms it.
func (v *WeekView) Delete(ctx context.Context, e Event) error {
	if err := v.backend.DeleteEvent(ctx, e.ID); err != nil {
		return fmt.Errorf("delete event %s: %w", e.ID, err)
	}

	v.cache.ClearOverride(e.ID)
	v.afterMutation(ctx, e)
	return nil
}

func (v *WeekView) step(ctx context.Context, n int) ([]Event, error) {
	key := v.Current()
	if key == "" {
		key = v.cache.weeks.Key(time.Now())
	}
	next, err := v.cache.weeks.Shift(key, n)
	if err != nil {
		return nil, err
	}
	return v.show(ctx, next)
}

func (v *WeekView) show(ctx context.Context, key string) ([]Event, error) {
	v.mu.Lock()
	v.current = key
	v.mu.Unlock()

	events, err := v.cache.GetWeek(ctx, key)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	if v.current != key {
		v.mu.Unlock()
		log.Debug().Str("week", key).Msg("dropping superseded week")
		return nil, ErrSuperseded
	}
	v.events = events
	v.mu.Unlock()

	for _, n := range []int{-1, 1} {
		if adjacent, err := v.cache.weeks.Shift(key, n); err == nil {
			v.cache.Prefetch(adjacent)
		}
	}

	return events, nil
}

func (v *WeekView) afterMutation(ctx context.Context, events ...Event) {
	keys := v.cache.InvalidateEvents(events...)
	log.Debug().Strs("weeks", keys).Msg("invalidated weeks")

	if _, err := v.Reload(ctx); err != nil && !errors.Is(err, ErrSuperseded) {
		log.Warn().Err(err).Str("week", v.Current()).Msg("reload after mutation failed")
	}
}
