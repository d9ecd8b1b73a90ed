package station

import (
	"context"

	"camstore/internal/model"
)

// ApplyFunc mutates a private copy of a document inside a store
// transaction. Returning ErrSkipWrite ends the transaction without writing;
// any other error aborts it.
type ApplyFunc func(doc *model.Document) error

// DocumentStore persists whole collection documents under keys, keeps a
// read cache, and serializes writers per key.
type DocumentStore interface {
	// Read loads a document from the backend and refreshes the cache.
	// Returns ErrNotFound if the document does not exist and *IOError if it
	// cannot be read or decoded.
	Read(key model.Key) (*model.Document, error)

	// ReadCached returns the cached document, loading it on first access.
	// The returned document is a copy the caller may modify freely.
	ReadCached(key model.Key) (*model.Document, error)

	// Write replaces the document under key while holding its lock.
	Write(ctx context.Context, key model.Key, doc *model.Document) error

	// Exists reports whether a document is persisted under key.
	Exists(key model.Key) bool

	// Apply runs fn on the current document (empty if none exists) while
	// holding the key's lock, then writes the result once.
	Apply(ctx context.Context, key model.Key, fn ApplyFunc) error

	// Keys lists the persisted keys of a kind, sorted.
	Keys(kind model.Kind) ([]model.Key, error)

	// Close stops accepting writers, waits for held locks up to the
	// configured grace period, and releases the backend.
	Close(ctx context.Context) error
}

// FlagQueue accepts flag mutations for later, serialized application.
type FlagQueue interface {
	Enqueue(key model.Key, entryID, field string, value bool) error
}
