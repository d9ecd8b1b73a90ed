package docstore

import "camstore/internal/model"

// backend is the storage mechanics behind a Store: raw document bytes per
// key. Locking, caching and encoding live in Store.
type backend interface {
	// load returns station.ErrNotFound when nothing is stored under key.
	load(key model.Key) ([]byte, error)
	save(key model.Key, data []byte) error
	exists(key model.Key) bool
	keys(kind model.Kind) ([]model.Key, error)
	close() error
}
