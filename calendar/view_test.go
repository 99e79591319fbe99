package calendar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newView(backend *fakeBackend) *WeekView {
	return NewWeekView(backend, NewWeeks(time.UTC, time.Sunday))
}

func TestNavigateForwardAndBackHitsCache(t *testing.T) {
	backend := newFakeBackend(fiveEvents()...)
	view := newView(backend)
	ctx := context.Background()

	events, err := view.Navigate(ctx, at(22, 12))
	require.NoError(t, err)
	assert.Len(t, events, 5)
	assert.Equal(t, week1019, view.Current())

	_, err = view.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2025-10-26T00:00:00Z", view.Current())

	events, err = view.Prev(ctx)
	require.NoError(t, err)
	assert.Len(t, events, 5)
	view.Cache().Wait()

	assert.Equal(t, 1, backend.fetchCount(week1019))
}

func TestNavigatePrefetchesNeighbours(t *testing.T) {
	backend := newFakeBackend(fiveEvents()...)
	view := newView(backend)

	_, err := view.Navigate(context.Background(), at(19, 0))
	require.NoError(t, err)
	view.Cache().Wait()

	assert.True(t, view.Cache().Cached("2025-10-12T00:00:00Z"))
	assert.True(t, view.Cache().Cached("2025-10-26T00:00:00Z"))
	assert.Equal(t, 1, backend.fetchCount("2025-10-26T00:00:00Z"))
}

func TestMutationInvalidatesAndReloads(t *testing.T) {
	backend := newFakeBackend(fiveEvents()...)
	view := newView(backend)
	ctx := context.Background()

	_, err := view.Navigate(ctx, at(19, 0))
	require.NoError(t, err)
	view.Cache().Wait()

	created, err := view.Create(ctx, Event{Title: "Demo", Start: at(21, 14), End: at(21, 15)})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	assert.Len(t, view.Events(), 6)
	assert.Equal(t, 2, backend.fetchCount(week1019))
	assert.Equal(t, 1, backend.fetchCount("2025-10-26T00:00:00Z"), "untouched week stays cached")
}

func TestRescheduleAcrossWeeksInvalidatesBoth(t *testing.T) {
	events := fiveEvents()
	backend := newFakeBackend(events...)
	view := newView(backend)
	ctx := context.Background()

	_, err := view.Navigate(ctx, at(19, 0))
	require.NoError(t, err)
	view.Cache().Wait()

	_, err = view.Reschedule(ctx, events[0], at(28, 9), at(28, 10))
	require.NoError(t, err)
	view.Cache().Wait()

	assert.Len(t, view.Events(), 4)

	next, err := view.Next(ctx)
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, "ev0", next[0].ID)
	assert.Equal(t, 2, backend.fetchCount("2025-10-26T00:00:00Z"))
}

func TestRenameKeepsLocalTitleWhenBackendDropsIt(t *testing.T) {
	events := fiveEvents()
	backend := newFakeBackend(events...)
	backend.dropTitles = true
	view := newView(backend)
	ctx := context.Background()

	_, err := view.Navigate(ctx, at(19, 0))
	require.NoError(t, err)

	renamed, err := view.Rename(ctx, events[2], "  Quarterly review ")
	require.NoError(t, err)
	assert.Equal(t, "Quarterly review", renamed.Title)
	assert.Equal(t, "Quarterly review", view.Events()[2].Title)

	require.NoError(t, view.Delete(ctx, events[2]))
	_, ok := view.Cache().Override("ev2")
	assert.False(t, ok, "deleting an event clears its override")
	assert.Len(t, view.Events(), 4)
}

func TestValidationBlocksNetwork(t *testing.T) {
	backend := newFakeBackend(fiveEvents()...)
	view := newView(backend)
	ctx := context.Background()

	_, err := view.Create(ctx, Event{Title: "  ", Start: at(20, 9), End: at(20, 10)})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "title", verr.Field)

	_, err = view.Reschedule(ctx, fiveEvents()[0], at(20, 10), at(20, 9))
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "end", verr.Field)

	_, err = view.Rename(ctx, fiveEvents()[0], "")
	require.ErrorAs(t, err, &verr)

	assert.Equal(t, 0, backend.writes)
}

func TestFailedDeleteLeavesWeekUntouched(t *testing.T) {
	events := fiveEvents()
	backend := newFakeBackend(events...)
	view := newView(backend)
	ctx := context.Background()

	_, err := view.Navigate(ctx, at(19, 0))
	require.NoError(t, err)

	backend.mu.Lock()
	backend.writeErr = errors.New("500")
	backend.mu.Unlock()

	err = view.Delete(ctx, events[0])
	assert.ErrorContains(t, err, "500")
	assert.Len(t, view.Events(), 5)
	assert.True(t, view.Cache().Cached(week1019))
}

func TestSupersededNavigationIsDropped(t *testing.T) {
	backend := newFakeBackend(fiveEvents()...)
	gate := make(chan struct{})
	backend.gate = gate
	view := newView(backend)

	result := make(chan error, 1)
	go func() {
		_, err := view.Navigate(context.Background(), at(19, 0))
		result <- err
	}()

	require.Eventually(t, func() bool { return backend.fetchCount(week1019) == 1 }, time.Second, time.Millisecond)

	// the user moves on while the first week is still loading
	backend.mu.Lock()
	backend.gate = nil
	backend.mu.Unlock()
	_, err := view.Navigate(context.Background(), at(5, 0))
	require.NoError(t, err)

	close(gate)
	assert.ErrorIs(t, <-result, ErrSuperseded)
	assert.Equal(t, "2025-10-05T00:00:00Z", view.Current())
	assert.Empty(t, view.Events())
	view.Cache().Wait()
}
