package history_test

import (
	"context"
	"path/filepath"
	"testing"

	"skimmer/internal/history"
)

func openStore(t *testing.T) *history.Store {
	t.Helper()
	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return store
}

func TestProcessedLedgerRoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	processed, err := store.IsProcessed(ctx, "cats", "https://example.com/a.jpg")
	if err != nil {
		t.Fatalf("is processed: %v", err)
	}
	if processed {
		t.Fatal("fresh store reports item as processed")
	}

	if err := store.MarkProcessed(ctx, "cats", "https://example.com/a.jpg"); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	// Repeat marking must be idempotent.
	if err := store.MarkProcessed(ctx, "cats", "https://example.com/a.jpg"); err != nil {
		t.Fatalf("mark processed twice: %v", err)
	}

	processed, err = store.IsProcessed(ctx, "cats", "https://example.com/a.jpg")
	if err != nil {
		t.Fatalf("is processed: %v", err)
	}
	if !processed {
		t.Fatal("marked item not reported as processed")
	}

	// The same id under a different group is a different item.
	processed, err = store.IsProcessed(ctx, "dogs", "https://example.com/a.jpg")
	if err != nil {
		t.Fatalf("is processed: %v", err)
	}
	if processed {
		t.Fatal("group key not part of the dedup identity")
	}
}

func TestItemStateTransitions(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	source := "https://example.com/a.jpg"

	if err := store.MarkAcquired(ctx, source); err != nil {
		t.Fatalf("mark acquired: %v", err)
	}
	state, _, err := store.ItemState(ctx, source)
	if err != nil {
		t.Fatalf("item state: %v", err)
	}
	if state != history.StateAcquired {
		t.Fatalf("state = %q, want %q", state, history.StateAcquired)
	}

	if err := store.MarkTransformed(ctx, source, history.ArtifactMetadata{SizeBytes: 1024, ContentType: "image/jpeg"}); err != nil {
		t.Fatalf("mark transformed: %v", err)
	}
	if err := store.MarkPublished(ctx, source); err != nil {
		t.Fatalf("mark published: %v", err)
	}
	state, _, err = store.ItemState(ctx, source)
	if err != nil {
		t.Fatalf("item state: %v", err)
	}
	if state != history.StatePublished {
		t.Fatalf("state = %q, want %q", state, history.StatePublished)
	}

	if err := store.MarkFailed(ctx, "https://example.com/b.jpg", "no handler"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	state, reason, err := store.ItemState(ctx, "https://example.com/b.jpg")
	if err != nil {
		t.Fatalf("item state: %v", err)
	}
	if state != history.StateFailed || reason != "no handler" {
		t.Fatalf("state = %q reason = %q", state, reason)
	}

	state, reason, err = store.ItemState(ctx, "https://example.com/never-seen")
	if err != nil {
		t.Fatalf("item state: %v", err)
	}
	if state != "" || reason != "" {
		t.Fatalf("unknown source returned state %q reason %q", state, reason)
	}
}

func TestStatsGroupsByState(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	for _, source := range []string{"a", "b"} {
		if err := store.MarkPublished(ctx, source); err != nil {
			t.Fatalf("mark published: %v", err)
		}
	}
	if err := store.MarkFailed(ctx, "c", "boom"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats[history.StatePublished] != 2 || stats[history.StateFailed] != 1 {
		t.Fatalf("stats = %v", stats)
	}
}

func TestModuleEnabledPersistence(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	_, known, err := store.ModuleEnabled(ctx, "webfetch")
	if err != nil {
		t.Fatalf("module enabled: %v", err)
	}
	if known {
		t.Fatal("fresh store reports persisted module state")
	}

	if err := store.SetModuleEnabled(ctx, "webfetch", false); err != nil {
		t.Fatalf("set module enabled: %v", err)
	}
	enabled, known, err := store.ModuleEnabled(ctx, "webfetch")
	if err != nil {
		t.Fatalf("module enabled: %v", err)
	}
	if !known || enabled {
		t.Fatalf("enabled = %v known = %v, want disabled and known", enabled, known)
	}

	if err := store.SetModuleEnabled(ctx, "webfetch", true); err != nil {
		t.Fatalf("set module enabled: %v", err)
	}
	enabled, known, err = store.ModuleEnabled(ctx, "webfetch")
	if err != nil {
		t.Fatalf("module enabled: %v", err)
	}
	if !known || !enabled {
		t.Fatalf("enabled = %v known = %v, want enabled and known", enabled, known)
	}
}
