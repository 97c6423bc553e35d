package normalize

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"skimmer/internal/media"
	"skimmer/internal/services"
	"skimmer/internal/testsupport"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
}

func TestHandlerSupportsOnlyAcquiredItems(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	h := &handler{module: New(cfg, nil)}

	bare := media.NewItem("https://example.com/a.jpg", "a", nil)
	if h.Supports(bare) {
		t.Fatal("claimed an item with no acquired file")
	}
	bare.AcquiredPath = "/tmp/a.jpg"
	if !h.Supports(bare) {
		t.Fatal("rejected an acquired item")
	}
}

func TestProcessRenamesToSluggedName(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	h := &handler{module: New(cfg, nil)}

	src := filepath.Join(cfg.Paths.DownloadDir, "ab12-Crème Brûlée Recipe.JPG")
	writeFile(t, src)

	item := media.NewItem("https://example.com/x", "Crème Brûlée Recipe.JPG", nil)
	item.AcquiredPath = src
	if err := h.Process(context.Background(), item); err != nil {
		t.Fatalf("process: %v", err)
	}

	want := filepath.Join(cfg.Paths.DownloadDir, "creme-brulee-recipe.jpg")
	if len(item.TransformedPaths) != 1 || item.TransformedPaths[0] != want {
		t.Fatalf("transformed paths = %v, want %q", item.TransformedPaths, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("normalized file missing: %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatal("source file still present after rename")
	}
}

func TestProcessFallsBackToFileName(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	h := &handler{module: New(cfg, nil)}

	src := filepath.Join(cfg.Paths.DownloadDir, "IMG 0042.png")
	writeFile(t, src)

	item := media.NewItem("https://example.com/x", "", nil)
	item.AcquiredPath = src
	if err := h.Process(context.Background(), item); err != nil {
		t.Fatalf("process: %v", err)
	}
	want := filepath.Join(cfg.Paths.DownloadDir, "img-0042.png")
	if item.TransformedPaths[0] != want {
		t.Fatalf("transformed path = %q, want %q", item.TransformedPaths[0], want)
	}
}

func TestProcessAvoidsNameCollisions(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	h := &handler{module: New(cfg, nil)}

	existing := filepath.Join(cfg.Paths.DownloadDir, "cat.jpg")
	writeFile(t, existing)
	src := filepath.Join(cfg.Paths.DownloadDir, "ab12-Cat.JPG")
	writeFile(t, src)

	item := media.NewItem("https://example.com/x", "Cat", nil)
	item.AcquiredPath = src
	if err := h.Process(context.Background(), item); err != nil {
		t.Fatalf("process: %v", err)
	}
	want := filepath.Join(cfg.Paths.DownloadDir, "cat-1.jpg")
	if item.TransformedPaths[0] != want {
		t.Fatalf("transformed path = %q, want %q", item.TransformedPaths[0], want)
	}
	if _, err := os.Stat(existing); err != nil {
		t.Fatal("collision overwrote the existing file")
	}
}

func TestProcessMissingSourceIsTerminal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	h := &handler{module: New(cfg, nil)}

	item := media.NewItem("https://example.com/x", "gone", nil)
	item.AcquiredPath = filepath.Join(cfg.Paths.DownloadDir, "never-written.jpg")
	err := h.Process(context.Background(), item)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("error = %v, want validation marker", err)
	}
}
