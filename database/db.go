package database

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

var schema = []struct {
	name string
	ddl  string
}{
	{"users", `CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`},
	{"lists", `CREATE TABLE IF NOT EXISTS lists (
		id TEXT PRIMARY KEY,
		board_id TEXT NOT NULL,
		title TEXT NOT NULL,
		position INTEGER NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`},
	{"cards", `CREATE TABLE IF NOT EXISTS cards (
		id TEXT PRIMARY KEY,
		list_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		contact_name TEXT NOT NULL DEFAULT '',
		contact_email TEXT NOT NULL DEFAULT '',
		contact_phone TEXT NOT NULL DEFAULT '',
		industry TEXT NOT NULL DEFAULT '',
		priority TEXT NOT NULL DEFAULT '',
		position INTEGER NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (list_id) REFERENCES lists(id) ON DELETE CASCADE
	)`},
	{"events", `CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		start_at TEXT NOT NULL,
		end_at TEXT NOT NULL,
		color TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`},
}

// InitDB opens the sqlite database at path and creates missing tables.
func InitDB(path string) (*sql.DB, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_foreign_keys=on&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite serializes writers; one connection avoids SQLITE_BUSY between our own queries
	db.SetMaxOpenConns(1)

	for _, table := range schema {
		if _, err := db.Exec(table.ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create %s table: %w", table.name, err)
		}
	}

	for _, idx := range []string{
		`CREATE INDEX IF NOT EXISTS idx_lists_board ON lists(board_id, position)`,
		`CREATE INDEX IF NOT EXISTS idx_cards_list ON cards(list_id, position)`,
		`CREATE INDEX IF NOT EXISTS idx_events_start ON events(start_at)`,
	} {
		if _, err := db.Exec(idx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create index: %w", err)
		}
	}

	log.Info().Str("path", path).Msg("database initialized")
	return db, nil
}

// DataService handles database operations for boards, calendar events and users
type DataService struct {
	db *sql.DB
}

func NewDataService(db *sql.DB) *DataService {
	return &DataService{db: db}
}

func newID() string {
	return uuid.NewString()
}

// withTx runs fn in a transaction, committing when it returns nil.
func (s *DataService) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UpsertUser returns the user with email, creating it on first sight. A
// non-empty name replaces the stored one.
func (s *DataService) UpsertUser(email, name string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var user User
	err := s.withTx(func(tx *sql.Tx) error {
		row := tx.QueryRow("SELECT id, email, name, created_at FROM users WHERE email = ?", email)
		err := row.Scan(&user.ID, &user.Email, &user.Name, &user.CreatedAt)
		if err == sql.ErrNoRows {
			if name == "" {
				name = strings.SplitN(email, "@", 2)[0]
			}
			user = User{ID: newID(), Email: email, Name: name}
			if _, err := tx.Exec("INSERT INTO users (id, email, name) VALUES (?, ?, ?)", user.ID, email, name); err != nil {
				return fmt.Errorf("failed to insert user: %w", err)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to query user: %w", err)
		}

		if name != "" && name != user.Name {
			if _, err := tx.Exec("UPDATE users SET name = ? WHERE id = ?", name, user.ID); err != nil {
				return fmt.Errorf("failed to update user: %w", err)
			}
			user.Name = name
		}
		return nil
	})
	return user, err
}

// GetUser returns the user with id.
func (s *DataService) GetUser(id string) (User, error) {
	var user User
	row := s.db.QueryRow("SELECT id, email, name, created_at FROM users WHERE id = ?", id)
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return User{}, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}
