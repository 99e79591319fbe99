package database

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalid is returned for writes the schema would accept but the board must not.
var ErrInvalid = errors.New("invalid input")

// timeFormat is fixed width so stored instants sort as text.
const timeFormat = "2006-01-02T15:04:05.000Z"

// User is an account created on first magic-link login.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeFormat, s)
}
