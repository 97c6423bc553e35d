package testsupport

import (
	"path/filepath"
	"testing"

	"skimmer/internal/history"
)

// OpenStore opens a throwaway history store backed by a temp database.
func OpenStore(t testing.TB) *history.Store {
	t.Helper()

	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open history store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close history store: %v", err)
		}
	})
	return store
}
