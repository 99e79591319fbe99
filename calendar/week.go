package calendar

import (
	"fmt"
	"strings"
	"time"
)

// Event is a calendar entry. Values are replaced, never mutated, on reschedule
// or rename.
type Event struct {
	ID    string    `json:"id"`
	Title string    `json:"title"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Color string    `json:"color,omitempty"`
}

// Overlaps reports whether the event intersects [start, end). Zero length
// events count when their instant falls inside the range.
func (e Event) Overlaps(start, end time.Time) bool {
	if !e.End.After(e.Start) {
		return !e.Start.Before(start) && e.Start.Before(end)
	}
	return e.Start.Before(end) && e.End.After(start)
}

// Weeks maps instants to canonical week keys: the week's first day at local
// midnight, rendered as a UTC RFC 3339 instant.
type Weeks struct {
	loc   *time.Location
	first time.Weekday
}

// NewWeeks creates a week scheme for loc starting on first. A nil loc means
// time.Local.
func NewWeeks(loc *time.Location, first time.Weekday) Weeks {
	if loc == nil {
		loc = time.Local
	}
	return Weeks{loc: loc, first: first}
}

// ParseWeekday accepts English weekday names such as "sunday" or "Mon".
func ParseWeekday(name string) (time.Weekday, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return time.Sunday, nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		if n == full || (len(n) >= 3 && strings.HasPrefix(full, n)) {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("unknown weekday %q", name)
}

// Start returns the beginning of the week containing t.
func (w Weeks) Start(t time.Time) time.Time {
	local := t.In(w.loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, w.loc)
	back := (int(midnight.Weekday()) - int(w.first) + 7) % 7
	return midnight.AddDate(0, 0, -back)
}

// Key returns the canonical key of the week containing t.
func (w Weeks) Key(t time.Time) string {
	return w.Start(t).UTC().Format(time.RFC3339)
}

// Range parses a key into the week's [start, end) interval.
func (w Weeks) Range(key string) (time.Time, time.Time, error) {
	ts, err := time.Parse(time.RFC3339, key)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid week key %q: %w", key, err)
	}
	start := ts.In(w.loc)
	if !start.Equal(w.Start(start)) {
		return time.Time{}, time.Time{}, fmt.Errorf("week key %q is not a week start", key)
	}
	return start, start.AddDate(0, 0, 7), nil
}

// Shift returns the key n weeks after key.
func (w Weeks) Shift(key string, n int) (string, error) {
	start, _, err := w.Range(key)
	if err != nil {
		return "", err
	}
	return w.Key(start.AddDate(0, 0, 7*n)), nil
}

// Span returns the keys of every week the event touches.
func (w Weeks) Span(e Event) []string {
	start := w.Start(e.Start)
	last := e.End
	if e.End.After(e.Start) {
		// the end instant is exclusive
		last = e.End.Add(-time.Nanosecond)
	}

	var keys []string
	for ; !start.After(last); start = start.AddDate(0, 0, 7) {
		keys = append(keys, start.UTC().Format(time.RFC3339))
	}
	if len(keys) == 0 {
		keys = append(keys, w.Key(e.Start))
	}
	return keys
}
