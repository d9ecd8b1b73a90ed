package station

import (
	"errors"
	"fmt"

	"camstore/internal/model"
)

var (
	// ErrNotFound is returned by a DocumentStore when no document exists
	// under a key.
	ErrNotFound = errors.New("document not found")

	// ErrLockTimeout is returned when a collection lock could not be
	// acquired within the configured bound.
	ErrLockTimeout = errors.New("timed out waiting for collection lock")

	// ErrStoreClosed is returned for writes attempted after Close.
	ErrStoreClosed = errors.New("document store is closed")

	// ErrSkipWrite may be returned by an ApplyFunc to end the transaction
	// without writing. Apply then returns nil.
	ErrSkipWrite = errors.New("skip write")

	// ErrEntryNotFound is returned by direct flag operations naming an entry
	// the collection does not contain.
	ErrEntryNotFound = errors.New("no entry found")

	// ErrDuplicateEntry is returned when ingesting an id that already exists.
	ErrDuplicateEntry = errors.New("entry already exists")

	// ErrOffsiteDisabled is returned by offsite operations when no vault is
	// configured.
	ErrOffsiteDisabled = errors.New("offsite replication is not enabled")
)

// IOError reports an unreadable, unwritable or malformed document.
type IOError struct {
	Op  string
	Key model.Key
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// ItemError records a failure on one entry or file inside a batch operation
// that otherwise continues.
type ItemError struct {
	Key  string `json:"key,omitempty"`
	File string `json:"file,omitempty"`
	Err  string `json:"error"`
}

func newItemError(key, file string, err error) ItemError {
	return ItemError{Key: key, File: file, Err: err.Error()}
}

func (e ItemError) Error() string {
	switch {
	case e.Key != "" && e.File != "":
		return fmt.Sprintf("%s (%s): %s", e.Key, e.File, e.Err)
	case e.File != "":
		return fmt.Sprintf("%s: %s", e.File, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Key, e.Err)
	}
}

// entryNotFound wraps ErrEntryNotFound with the id, producing the message
// "no entry found with id X".
func entryNotFound(id string) error {
	return fmt.Errorf("%w with id %s", ErrEntryNotFound, id)
}
