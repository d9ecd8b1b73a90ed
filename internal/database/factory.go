package database

import (
	"fmt"
	"os"
	"path/filepath"

	"camstore/internal/config"
	"camstore/internal/station"
)

// NewHistoryFromConfig creates a run history database based on the database config type.
func NewHistoryFromConfig(cfg config.DatabaseConfig, stationID string, clock station.Clock) (*SQLiteHistory, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dbPath := filepath.Join(cfg.DataDir, stationID+".db")
		return NewSQLiteHistory(dbPath, clock)
	case "memory":
		return NewSQLiteHistory(":memory:", clock)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
