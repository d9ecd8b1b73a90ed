package testutil

import (
	"testing"

	"camstore/internal/database"
	"camstore/internal/station"
)

// NewTestHistory creates an in-memory run history with migrations applied.
// It is closed when the test completes.
func NewTestHistory(t *testing.T, clock station.Clock) *database.SQLiteHistory {
	t.Helper()

	h, err := database.NewSQLiteHistory(":memory:", clock)
	if err != nil {
		t.Fatalf("failed to open history database: %v", err)
	}
	t.Cleanup(func() {
		h.Close()
	})
	return h
}
