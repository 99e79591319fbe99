package calendar

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const week1019 = "2025-10-19T00:00:00Z"

// fakeBackend is an in-memory event store that counts fetches per range start.
type fakeBackend struct {
	mu       sync.Mutex
	events   map[string]Event
	fetches  map[string]int
	nextID   int
	fetchErr error
	writeErr error
	gate     chan struct{}
	// dropTitles mimics a backend that ignores title changes on update
	dropTitles bool
	writes     int
}

func newFakeBackend(events ...Event) *fakeBackend {
	b := &fakeBackend{events: map[string]Event{}, fetches: map[string]int{}}
	for _, e := range events {
		b.events[e.ID] = e
	}
	return b
}

func (b *fakeBackend) Events(ctx context.Context, start, end time.Time) ([]Event, error) {
	b.mu.Lock()
	b.fetches[start.UTC().Format(time.RFC3339)]++
	gate := b.gate
	err := b.fetchErr
	b.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Event
	for _, e := range b.events {
		if e.Overlaps(start, end) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (b *fakeBackend) CreateEvent(ctx context.Context, e Event) (Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes++
	if b.writeErr != nil {
		return Event{}, b.writeErr
	}
	b.nextID++
	e.ID = fmt.Sprintf("new-%d", b.nextID)
	b.events[e.ID] = e
	return e, nil
}

func (b *fakeBackend) UpdateEvent(ctx context.Context, e Event) (Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes++
	if b.writeErr != nil {
		return Event{}, b.writeErr
	}
	prev, ok := b.events[e.ID]
	if !ok {
		return Event{}, errors.New("not found")
	}
	if b.dropTitles {
		e.Title = prev.Title
	}
	b.events[e.ID] = e
	return e, nil
}

func (b *fakeBackend) DeleteEvent(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes++
	if b.writeErr != nil {
		return b.writeErr
	}
	delete(b.events, id)
	return nil
}

func (b *fakeBackend) fetchCount(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fetches[key]
}

func at(day, hour int) time.Time {
	return time.Date(2025, 10, day, hour, 0, 0, 0, time.UTC)
}

func fiveEvents() []Event {
	var events []Event
	for i := 0; i < 5; i++ {
		events = append(events, Event{
			ID:    fmt.Sprintf("ev%d", i),
			Title: fmt.Sprintf("Call %d", i),
			Start: at(19+i, 9),
			End:   at(19+i, 10),
		})
	}
	return events
}

func TestGetWeekFetchesOnceUntilInvalidated(t *testing.T) {
	backend := newFakeBackend(fiveEvents()...)
	cache := NewCache(backend, NewWeeks(time.UTC, time.Sunday))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		events, err := cache.GetWeek(ctx, week1019)
		require.NoError(t, err)
		assert.Len(t, events, 5)
	}
	assert.Equal(t, 1, backend.fetchCount(week1019))

	cache.Invalidate(week1019)
	assert.False(t, cache.Cached(week1019))

	_, err := cache.GetWeek(ctx, week1019)
	require.NoError(t, err)
	assert.Equal(t, 2, backend.fetchCount(week1019))
}

func TestGetWeekSortsByStart(t *testing.T) {
	backend := newFakeBackend(
		Event{ID: "a", Title: "late", Start: at(24, 9), End: at(24, 10)},
		Event{ID: "b", Title: "early", Start: at(20, 9), End: at(20, 10)},
	)
	cache := NewCache(backend, NewWeeks(time.UTC, time.Sunday))

	events, err := cache.GetWeek(context.Background(), week1019)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "early", events[0].Title)
}

func TestGetWeekConcurrentCallersShareFetch(t *testing.T) {
	backend := newFakeBackend(fiveEvents()...)
	backend.gate = make(chan struct{})
	cache := NewCache(backend, NewWeeks(time.UTC, time.Sunday))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			events, err := cache.GetWeek(context.Background(), week1019)
			assert.NoError(t, err)
			assert.Len(t, events, 5)
		}()
	}

	require.Eventually(t, func() bool { return backend.fetchCount(week1019) == 1 }, time.Second, time.Millisecond)
	close(backend.gate)
	wg.Wait()

	assert.Equal(t, 1, backend.fetchCount(week1019))
}

func TestInvalidateDuringFetchDiscardsResult(t *testing.T) {
	backend := newFakeBackend(fiveEvents()...)
	backend.gate = make(chan struct{})
	cache := NewCache(backend, NewWeeks(time.UTC, time.Sunday))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := cache.GetWeek(context.Background(), week1019)
		assert.NoError(t, err)
	}()

	require.Eventually(t, func() bool { return backend.fetchCount(week1019) == 1 }, time.Second, time.Millisecond)
	cache.Invalidate(week1019)
	close(backend.gate)
	<-done

	assert.False(t, cache.Cached(week1019), "stale fetch must not refill an invalidated week")
}

func TestGetWeekErrorIsNotCached(t *testing.T) {
	backend := newFakeBackend(fiveEvents()...)
	backend.fetchErr = errors.New("offline")
	cache := NewCache(backend, NewWeeks(time.UTC, time.Sunday))

	_, err := cache.GetWeek(context.Background(), week1019)
	assert.ErrorContains(t, err, "offline")
	assert.False(t, cache.Cached(week1019))

	backend.mu.Lock()
	backend.fetchErr = nil
	backend.mu.Unlock()

	events, err := cache.GetWeek(context.Background(), week1019)
	require.NoError(t, err)
	assert.Len(t, events, 5)
}

func TestGetWeekRejectsBadKey(t *testing.T) {
	cache := NewCache(newFakeBackend(), NewWeeks(time.UTC, time.Sunday))

	_, err := cache.GetWeek(context.Background(), "2025-10-21T00:00:00Z")
	assert.Error(t, err)
}

func TestTitleOverrideSurvivesRefetch(t *testing.T) {
	backend := newFakeBackend(fiveEvents()...)
	cache := NewCache(backend, NewWeeks(time.UTC, time.Sunday))
	ctx := context.Background()

	cache.SetTitleOverride("ev1", "Renamed locally")

	events, err := cache.GetWeek(ctx, week1019)
	require.NoError(t, err)
	assert.Equal(t, "Renamed locally", events[1].Title)

	cache.Invalidate(week1019)
	events, err = cache.GetWeek(ctx, week1019)
	require.NoError(t, err)
	assert.Equal(t, "Renamed locally", events[1].Title)

	// the overlay never touches the cached server data
	cache.ClearOverride("ev1")
	events, err = cache.GetWeek(ctx, week1019)
	require.NoError(t, err)
	assert.Equal(t, "Call 1", events[1].Title)
	assert.Equal(t, 2, backend.fetchCount(week1019))
}

func TestPrefetchWarmsWeek(t *testing.T) {
	backend := newFakeBackend(fiveEvents()...)
	cache := NewCache(backend, NewWeeks(time.UTC, time.Sunday))

	cache.Prefetch(week1019)
	cache.Wait()
	assert.True(t, cache.Cached(week1019))

	cache.Prefetch(week1019)
	cache.Wait()
	assert.Equal(t, 1, backend.fetchCount(week1019))
}

func TestInvalidateEvents(t *testing.T) {
	backend := newFakeBackend()
	cache := NewCache(backend, NewWeeks(time.UTC, time.Sunday))
	ctx := context.Background()

	for _, key := range []string{"2025-10-12T00:00:00Z", week1019, "2025-10-26T00:00:00Z"} {
		_, err := cache.GetWeek(ctx, key)
		require.NoError(t, err)
	}

	old := Event{ID: "x", Start: at(20, 9), End: at(20, 10)}
	moved := Event{ID: "x", Start: at(27, 9), End: at(27, 10)}
	keys := cache.InvalidateEvents(old, moved)

	assert.Equal(t, []string{week1019, "2025-10-26T00:00:00Z"}, keys)
	assert.True(t, cache.Cached("2025-10-12T00:00:00Z"))
	assert.False(t, cache.Cached(week1019))
	assert.False(t, cache.Cached("2025-10-26T00:00:00Z"))
}
