package docstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"camstore/internal/model"
	"camstore/internal/station"
)

// badgerBackend stores each document as one key-value pair keyed by
// model.Key.String(): "images", "videos", "backup/YYYYMMDD".
type badgerBackend struct {
	db *badger.DB
}

var _ backend = (*badgerBackend)(nil)

// openBadger opens (or creates) a badger database in dir. An empty dir opens
// an in-memory database.
func openBadger(dir string, logger station.Logger) (*badgerBackend, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = &badgerLogger{l: logger}
	// Documents are small; keep value log files small too.
	opts.ValueLogFileSize = 16 << 20
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	return &badgerBackend{db: db}, nil
}

func (b *badgerBackend) load(key model.Key) ([]byte, error) {
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key.String()))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return station.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get %s: %w", key, err)
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (b *badgerBackend) save(key model.Key, data []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key.String()), data)
	})
}

func (b *badgerBackend) exists(key model.Key) bool {
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key.String()))
		return err
	})
	return err == nil
}

func (b *badgerBackend) keys(kind model.Kind) ([]model.Key, error) {
	var keys []model.Key
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(kind)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			raw := string(it.Item().Key())
			if raw != string(kind) && !strings.HasPrefix(raw, string(kind)+"/") {
				continue
			}
			key, err := model.ParseKey(raw)
			if err != nil {
				continue
			}
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s keys: %w", kind, err)
	}
	return keys, nil
}

func (b *badgerBackend) close() error {
	return b.db.Close()
}

// badgerLogger routes badger's printf-style logging to a station.Logger.
// Info and debug output is demoted to debug.
type badgerLogger struct {
	l station.Logger
}

func (b *badgerLogger) Errorf(format string, args ...any) {
	b.l.Error("badger: " + strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b *badgerLogger) Warningf(format string, args ...any) {
	b.l.Warn("badger: " + strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b *badgerLogger) Infof(format string, args ...any) {
	b.l.Debug("badger: " + strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b *badgerLogger) Debugf(format string, args ...any) {
	b.l.Debug("badger: " + strings.TrimSpace(fmt.Sprintf(format, args...)))
}
