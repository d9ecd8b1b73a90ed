// Package migrations holds the run history schema and applies it with
// golang-migrate.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/*.sql
var schemaFS embed.FS

var (
	// ErrUnversioned means the schema was never applied.
	ErrUnversioned = errors.New("history database has no schema version")
	// ErrDirty means a previous migration stopped half way.
	ErrDirty = errors.New("history database schema is dirty")
	// ErrOutdated means the schema is older than this binary.
	ErrOutdated = errors.New("history database schema is outdated")
	// ErrTooNew means the schema was written by a newer binary.
	ErrTooNew = errors.New("history database schema is newer than this binary")
)

// Up applies every pending migration. The caller keeps ownership of db; the
// migrate instance is left unclosed because closing it closes db.
func Up(db *sql.DB) error {
	m, err := open(db)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying history migrations: %w", err)
	}
	return nil
}

// Check reports whether db is at exactly the embedded schema version.
func Check(db *sql.DB) error {
	m, err := open(db)
	if err != nil {
		return err
	}

	have, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return ErrUnversioned
	case err != nil:
		return fmt.Errorf("reading history schema version: %w", err)
	case dirty:
		return fmt.Errorf("%w at version %d", ErrDirty, have)
	}

	want, err := Latest()
	if err != nil {
		return err
	}
	if have < want {
		return fmt.Errorf("%w: at %d, want %d", ErrOutdated, have, want)
	}
	if have > want {
		return fmt.Errorf("%w: at %d, binary knows %d", ErrTooNew, have, want)
	}
	return nil
}

// Latest returns the newest embedded schema version.
func Latest() (uint, error) {
	src, err := newSource()
	if err != nil {
		return 0, err
	}
	defer src.Close()

	v, err := src.First()
	if err != nil {
		return 0, fmt.Errorf("reading first migration: %w", err)
	}
	for {
		next, err := src.Next(v)
		if errors.Is(err, fs.ErrNotExist) {
			return v, nil
		}
		if err != nil {
			return 0, fmt.Errorf("reading migration after %d: %w", v, err)
		}
		v = next
	}
}

func newSource() (source.Driver, error) {
	src, err := iofs.New(schemaFS, "files")
	if err != nil {
		return nil, fmt.Errorf("loading embedded migrations: %w", err)
	}
	return src, nil
}

func open(db *sql.DB) (*migrate.Migrate, error) {
	src, err := newSource()
	if err != nil {
		return nil, err
	}
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("wrapping history database: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("creating migrator: %w", err)
	}
	return m, nil
}
