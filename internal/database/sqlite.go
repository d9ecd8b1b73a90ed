// Package database keeps the run history of archive operations in SQLite.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"camstore/internal/database/migrations"
	"camstore/internal/station"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteHistory implements station.History using SQLite.
type SQLiteHistory struct {
	db    *sql.DB
	path  string
	clock station.Clock
}

var _ station.History = (*SQLiteHistory)(nil)

// NewSQLiteHistory opens the history database at path, creating and
// migrating it as needed. path can be a file path or ":memory:".
func NewSQLiteHistory(path string, clock station.Clock) (*SQLiteHistory, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating history database: %w", err)
	}

	return NewSQLiteHistoryFromDB(db, path, clock), nil
}

// NewSQLiteHistoryFromDB wraps an existing, migrated connection.
func NewSQLiteHistoryFromDB(db *sql.DB, path string, clock station.Clock) *SQLiteHistory {
	if clock == nil {
		clock = station.RealClock{}
	}
	return &SQLiteHistory{db: db, path: path, clock: clock}
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path == ":memory:" {
		// Every pooled connection would get its own in-memory database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		// The scheduler, the API and CLI commands may write concurrently.
		"PRAGMA busy_timeout = 5000",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return db, nil
}

// CreateOperation records the start of a run.
func (s *SQLiteHistory) CreateOperation(operation, parameters string) (*station.Operation, error) {
	now := s.clock.Now().UTC()
	res, err := s.db.Exec(
		"INSERT INTO runs (operation, parameters, status, started_at) VALUES (?, ?, ?, ?)",
		operation, parameters, station.StatusRunning, now,
	)
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading operation id: %w", err)
	}
	return &station.Operation{
		ID:         id,
		Operation:  operation,
		Parameters: parameters,
		Status:     station.StatusRunning,
		StartedAt:  now,
	}, nil
}

// FinishOperation marks a run finished.
func (s *SQLiteHistory) FinishOperation(id int64, status, summary string) error {
	res, err := s.db.Exec(
		"UPDATE runs SET status = ?, summary = ?, finished_at = ? WHERE id = ?",
		status, summary, s.clock.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("finishing operation %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finishing operation %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("operation %d not found", id)
	}
	return nil
}

// GetOperation returns one run, or nil if it does not exist.
func (s *SQLiteHistory) GetOperation(id int64) (*station.Operation, error) {
	row := s.db.QueryRow(
		"SELECT id, operation, parameters, status, summary, started_at, finished_at FROM runs WHERE id = ?", id)
	op, err := scanOperation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting operation %d: %w", id, err)
	}
	return op, nil
}

// ListOperations returns the most recent runs, newest first.
func (s *SQLiteHistory) ListOperations(limit int) ([]*station.Operation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		"SELECT id, operation, parameters, status, summary, started_at, finished_at FROM runs ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var ops []*station.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return ops, nil
}

// MaxOperationID returns the highest operation id, or 0 for an empty history.
func (s *SQLiteHistory) MaxOperationID() (int64, error) {
	var id sql.NullInt64
	if err := s.db.QueryRow("SELECT MAX(id) FROM runs").Scan(&id); err != nil {
		return 0, fmt.Errorf("getting max operation ID: %w", err)
	}
	return id.Int64, nil
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteHistory) CheckMigrations() error {
	return migrations.Check(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteHistory) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteHistory) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(row rowScanner) (*station.Operation, error) {
	var (
		op       station.Operation
		started  time.Time
		finished sql.NullTime
	)
	if err := row.Scan(&op.ID, &op.Operation, &op.Parameters, &op.Status, &op.Summary, &started, &finished); err != nil {
		return nil, err
	}
	op.StartedAt = started
	if finished.Valid {
		t := finished.Time
		op.FinishedAt = &t
	}
	return &op, nil
}
