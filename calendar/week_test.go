package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyMapsWholeWeekToSunday(t *testing.T) {
	weeks := NewWeeks(time.UTC, time.Sunday)

	for day := 19; day <= 25; day++ {
		ts := time.Date(2025, 10, day, 15, 30, 0, 0, time.UTC)
		assert.Equal(t, "2025-10-19T00:00:00Z", weeks.Key(ts), "day %d", day)
	}
	assert.Equal(t, "2025-10-26T00:00:00Z", weeks.Key(time.Date(2025, 10, 26, 0, 0, 0, 0, time.UTC)))
}

func TestKeyHonoursLocationAndFirstDay(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	weeks := NewWeeks(loc, time.Monday)

	// Sunday 22:00 UTC is already Monday in UTC+3
	ts := time.Date(2025, 10, 19, 22, 0, 0, 0, time.UTC)
	assert.Equal(t, "2025-10-19T21:00:00Z", weeks.Key(ts))
}

func TestRangeAndShift(t *testing.T) {
	weeks := NewWeeks(time.UTC, time.Sunday)

	start, end, err := weeks.Range("2025-10-19T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 10, 26, 0, 0, 0, 0, time.UTC), end)
	assert.Equal(t, time.Sunday, start.Weekday())

	next, err := weeks.Shift("2025-10-19T00:00:00Z", 1)
	require.NoError(t, err)
	assert.Equal(t, "2025-10-26T00:00:00Z", next)

	prev, err := weeks.Shift("2025-10-19T00:00:00Z", -1)
	require.NoError(t, err)
	assert.Equal(t, "2025-10-12T00:00:00Z", prev)

	_, _, err = weeks.Range("2025-10-20T00:00:00Z")
	assert.Error(t, err, "a Monday is not a week start")

	_, _, err = weeks.Range("last week")
	assert.Error(t, err)
}

func TestShiftAcrossDaylightSaving(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata not available")
	}
	weeks := NewWeeks(loc, time.Sunday)

	key := weeks.Key(time.Date(2025, 10, 29, 12, 0, 0, 0, loc))
	next, err := weeks.Shift(key, 1)
	require.NoError(t, err)

	start, _, err := weeks.Range(next)
	require.NoError(t, err)
	assert.Equal(t, 0, start.Hour(), "week starts at local midnight after the clocks change")
	assert.Equal(t, 2, start.Day())
}

func TestSpan(t *testing.T) {
	weeks := NewWeeks(time.UTC, time.Sunday)

	inside := Event{Start: time.Date(2025, 10, 20, 9, 0, 0, 0, time.UTC), End: time.Date(2025, 10, 20, 10, 0, 0, 0, time.UTC)}
	assert.Equal(t, []string{"2025-10-19T00:00:00Z"}, weeks.Span(inside))

	endsAtBoundary := Event{Start: time.Date(2025, 10, 25, 22, 0, 0, 0, time.UTC), End: time.Date(2025, 10, 26, 0, 0, 0, 0, time.UTC)}
	assert.Equal(t, []string{"2025-10-19T00:00:00Z"}, weeks.Span(endsAtBoundary))

	crossing := Event{Start: time.Date(2025, 10, 25, 22, 0, 0, 0, time.UTC), End: time.Date(2025, 10, 27, 1, 0, 0, 0, time.UTC)}
	assert.Equal(t, []string{"2025-10-19T00:00:00Z", "2025-10-26T00:00:00Z"}, weeks.Span(crossing))

	instant := Event{Start: time.Date(2025, 10, 26, 0, 0, 0, 0, time.UTC), End: time.Date(2025, 10, 26, 0, 0, 0, 0, time.UTC)}
	assert.Equal(t, []string{"2025-10-26T00:00:00Z"}, weeks.Span(instant))
}

func TestOverlaps(t *testing.T) {
	start := time.Date(2025, 10, 19, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 7)

	assert.True(t, Event{Start: start.Add(-time.Hour), End: start.Add(time.Hour)}.Overlaps(start, end))
	assert.False(t, Event{Start: start.Add(-time.Hour), End: start}.Overlaps(start, end))
	assert.False(t, Event{Start: end, End: end.Add(time.Hour)}.Overlaps(start, end))
	assert.True(t, Event{Start: start, End: start}.Overlaps(start, end))
	assert.False(t, Event{Start: end, End: end}.Overlaps(start, end))
}

func TestParseWeekday(t *testing.T) {
	d, err := ParseWeekday("Monday")
	require.NoError(t, err)
	assert.Equal(t, time.Monday, d)

	d, err = ParseWeekday("sat")
	require.NoError(t, err)
	assert.Equal(t, time.Saturday, d)

	d, err = ParseWeekday("")
	require.NoError(t, err)
	assert.Equal(t, time.Sunday, d)

	_, err = ParseWeekday("s")
	assert.Error(t, err)
}
