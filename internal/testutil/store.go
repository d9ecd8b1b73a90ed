package testutil

import (
	"context"
	"testing"
	"time"

	"camstore/internal/docstore"
	"camstore/internal/station"
)

// NewTestStore creates an in-memory document store with a short lock
// timeout. It is closed when the test completes.
func NewTestStore(t *testing.T) *docstore.Store {
	t.Helper()

	s := docstore.NewMemoryStore(station.NewNopLogger(), docstore.Options{
		LockTimeout:   2 * time.Second,
		LockWarnAfter: time.Second,
		ShutdownGrace: time.Second,
	})
	t.Cleanup(func() {
		s.Close(context.Background())
	})
	return s
}
