package testutil

import (
	"testing"

	"tt-go/internal/localstore"
	"tt-go/internal/tracker"
)

// NewTestLocalStore creates a new in-memory SQLite local store with the
// schema applied. The store is automatically closed when the test completes.
func NewTestLocalStore(t *testing.T) tracker.LocalStore {
	t.Helper()

	store, err := localstore.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to open local store: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
	})

	return store
}
