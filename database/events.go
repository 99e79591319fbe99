package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/CrowderSoup/crm-board/calendar"
)

func scanEvent(row scanner) (calendar.Event, error) {
	var e calendar.Event
	var start, end string
	if err := row.Scan(&e.ID, &e.Title, &start, &end, &e.Color); err != nil {
		return calendar.Event{}, err
	}

	var err error
	if e.Start, err = parseTime(start); err != nil {
		return calendar.Event{}, fmt.Errorf("event %s start: %w", e.ID, err)
	}
	if e.End, err = parseTime(end); err != nil {
		return calendar.Event{}, fmt.Errorf("event %s end: %w", e.ID, err)
	}
	return e, nil
}

// ListEvents returns the events intersecting [start, end) ordered by start.
func (s *DataService) ListEvents(start, end time.Time) ([]calendar.Event, error) {
	from, to := formatTime(start), formatTime(end)
	rows, err := s.db.Query(`SELECT id, title, start_at, end_at, color FROM events
		WHERE start_at < ? AND (end_at > ? OR (end_at <= start_at AND start_at >= ?))
		ORDER BY start_at, id`, to, from, from)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := []calendar.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return events, nil
}

// GetEvent returns the event with id.
func (s *DataService) GetEvent(id string) (calendar.Event, error) {
	e, err := scanEvent(s.db.QueryRow("SELECT id, title, start_at, end_at, color FROM events WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return calendar.Event{}, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return calendar.Event{}, fmt.Errorf("failed to query event: %w", err)
	}
	return e, nil
}

// CreateEvent validates and stores a new event.
func (s *DataService) CreateEvent(e calendar.Event) (calendar.Event, error) {
	if err := calendar.Validate(e); err != nil {
		return calendar.Event{}, err
	}

	e.ID = newID()
	e.Start, e.End = e.Start.UTC(), e.End.UTC()
	_, err := s.db.Exec("INSERT INTO events (id, title, start_at, end_at, color) VALUES (?, ?, ?, ?, ?)",
		e.ID, e.Title, formatTime(e.Start), formatTime(e.End), e.Color)
	if err != nil {
		return calendar.Event{}, fmt.Errorf("failed to insert event: %w", err)
	}
	return e, nil
}

// UpdateEvent replaces the title, schedule and color of an existing event.
func (s *DataService) UpdateEvent(e calendar.Event) (calendar.Event, error) {
	if err := calendar.Validate(e); err != nil {
		return calendar.Event{}, err
	}

	e.Start, e.End = e.Start.UTC(), e.End.UTC()
	res, err := s.db.Exec(`UPDATE events SET title = ?, start_at = ?, end_at = ?, color = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, e.Title, formatTime(e.Start), formatTime(e.End), e.Color, e.ID)
	if err != nil {
		return calendar.Event{}, fmt.Errorf("failed to update event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return calendar.Event{}, fmt.Errorf("event %s: %w", e.ID, ErrNotFound)
	}
	return e, nil
}

// DeleteEvent removes an event.
func (s *DataService) DeleteEvent(id string) error {
	res, err := s.db.Exec("DELETE FROM events WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	return nil
}
