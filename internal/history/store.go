// Package history keeps a bounded archive of recent successful sensor
// readings. It backs the status page's recent-readings table and gives
// field diagnostics something to look at after a connectivity gap:
// publishes are at-most-once, so the broker's view can have holes this
// store does not.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fernhollow/airnode/internal/sensor"
)

// Store is a SQLite-backed ring of readings. All public methods are
// safe for concurrent use (SQLite serializes writes).
type Store struct {
	db   *sql.DB
	keep int
}

// NewStore opens (or creates) the history database at dbPath, keeping
// at most keep readings. The schema is created automatically on first
// use. keep <= 0 disables pruning.
func NewStore(dbPath string, keep int) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, keep: keep}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS readings (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		temperature REAL NOT NULL,
		humidity    REAL NOT NULL,
		captured_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append records one successful reading and prunes the oldest rows
// beyond the retention limit.
func (s *Store) Append(r sensor.Reading) error {
	_, err := s.db.Exec(
		`INSERT INTO readings (temperature, humidity, captured_at) VALUES (?, ?, ?)`,
		r.Temperature, r.Humidity, r.CapturedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("append reading: %w", err)
	}

	if s.keep > 0 {
		_, err = s.db.Exec(
			`DELETE FROM readings WHERE id NOT IN
			 (SELECT id FROM readings ORDER BY id DESC LIMIT ?)`,
			s.keep,
		)
		if err != nil {
			return fmt.Errorf("prune readings: %w", err)
		}
	}
	return nil
}

// Recent returns up to n readings, newest first. Returns an empty
// (non-nil) slice when the store holds nothing.
func (s *Store) Recent(n int) ([]sensor.Reading, error) {
	rows, err := s.db.Query(
		`SELECT temperature, humidity, captured_at FROM readings
		 ORDER BY id DESC LIMIT ?`,
		n,
	)
	if err != nil {
		return nil, fmt.Errorf("recent readings: %w", err)
	}
	defer rows.Close()

	result := make([]sensor.Reading, 0, n)
	for rows.Next() {
		var r sensor.Reading
		var captured string
		if err := rows.Scan(&r.Temperature, &r.Humidity, &captured); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339, captured); err == nil {
			r.CapturedAt = ts
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// Count returns the number of retained readings.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM readings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count readings: %w", err)
	}
	return n, nil
}
