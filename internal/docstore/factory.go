package docstore

import (
	"fmt"

	"camstore/internal/config"
	"camstore/internal/model"
	"camstore/internal/station"
)

// NewStoreFromConfig creates a Store with the backend named by the storage config type.
func NewStoreFromConfig(cfg config.StorageConfig, layout model.Layout, logger station.Logger) (*Store, error) {
	opts := Options{
		LockTimeout:   cfg.LockTimeout.Duration,
		LockWarnAfter: cfg.LockWarnAfter.Duration,
		ShutdownGrace: cfg.ShutdownGrace.Duration,
	}

	switch cfg.Type {
	case "filesystem", "":
		return NewFilesystemStore(layout, logger, opts), nil
	case "badger":
		if cfg.BadgerDir == "" {
			return nil, fmt.Errorf("badger store requires badger_dir to be set")
		}
		return NewBadgerStore(cfg.BadgerDir, logger, opts)
	case "memory":
		return NewMemoryStore(logger, opts), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
