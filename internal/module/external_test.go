package module

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"skimmer/internal/media"
	"skimmer/internal/services"
	"skimmer/internal/stage"
)

const upperPluginSource = `package main

import "strings"

func ModuleName() string { return "upper" }

func Stages() []string { return []string{"transform"} }

func Supports(stage, source string, meta map[string]string) bool {
	return strings.HasPrefix(source, "demo://")
}

func Process(stage, source, acquiredPath string, artifacts []string, meta map[string]string) ([]string, error) {
	return []string{strings.ToUpper(acquiredPath)}, nil
}
`

const failingPluginSource = `package main

import "errors"

func ModuleName() string { return "broken-tool" }

func Stages() []string { return []string{"acquire"} }

func Supports(stage, source string, meta map[string]string) bool { return true }

func Process(stage, source, acquiredPath string, artifacts []string, meta map[string]string) ([]string, error) {
	return nil, errors.New("tool unavailable")
}
`

func writePlugin(t *testing.T, dir, name, source string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(source), 0o644); err != nil {
		t.Fatalf("write plugin: %v", err)
	}
	return path
}

func TestLoadExternalInterpretsPluginFile(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "upper.go", upperPluginSource)

	modules, err := LoadExternal(dir, nil)
	if err != nil {
		t.Fatalf("load external: %v", err)
	}
	if len(modules) != 1 {
		t.Fatalf("loaded %d modules, want 1", len(modules))
	}
	m, ok := modules[0].(*externalModule)
	if !ok {
		t.Fatalf("module type = %T", modules[0])
	}
	if m.Name() != "upper" {
		t.Fatalf("name = %q", m.Name())
	}
	if len(m.stages) != 1 || m.stages[0] != stage.Transform {
		t.Fatalf("stages = %v", m.stages)
	}

	handler := &externalHandler{module: m, stage: stage.Transform}
	claimed := media.NewItem("demo://thing", "thing", nil)
	claimed.AcquiredPath = "/tmp/raw"
	if !handler.Supports(claimed) {
		t.Fatal("handler rejected a demo:// item")
	}
	if handler.Supports(media.NewItem("https://example.com", "x", nil)) {
		t.Fatal("handler claimed a foreign item")
	}

	if err := handler.Process(context.Background(), claimed); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(claimed.TransformedPaths) != 1 || claimed.TransformedPaths[0] != "/TMP/RAW" {
		t.Fatalf("transformed paths = %v", claimed.TransformedPaths)
	}
}

func TestExternalHandlerTagsProcessErrors(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "broken.go", failingPluginSource)

	modules, err := LoadExternal(dir, nil)
	if err != nil {
		t.Fatalf("load external: %v", err)
	}
	if len(modules) != 1 {
		t.Fatalf("loaded %d modules, want 1", len(modules))
	}
	m := modules[0].(*externalModule)
	handler := &externalHandler{module: m, stage: stage.Acquire}

	err = handler.Process(context.Background(), media.NewItem("demo://thing", "thing", nil))
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("process error = %v, want external tool marker", err)
	}
	if !services.Retryable(err) {
		t.Fatal("external tool failures must stay retryable")
	}
}

func TestLoadExternalSkipsBrokenFiles(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "good.go", upperPluginSource)
	writePlugin(t, dir, "incomplete.go", "package main\n\nfunc ModuleName() string { return \"incomplete\" }\n")
	writePlugin(t, dir, "notes.txt", "not a plugin")

	modules, err := LoadExternal(dir, nil)
	if err != nil {
		t.Fatalf("load external: %v", err)
	}
	if len(modules) != 1 || modules[0].Name() != "upper" {
		t.Fatalf("modules = %v", modules)
	}
}

func TestLoadExternalMissingDirIsNotAnError(t *testing.T) {
	modules, err := LoadExternal(filepath.Join(t.TempDir(), "absent"), nil)
	if err != nil {
		t.Fatalf("load external: %v", err)
	}
	if modules != nil {
		t.Fatalf("modules = %v, want none", modules)
	}

	modules, err = LoadExternal("", nil)
	if err != nil || modules != nil {
		t.Fatalf("blank dir: modules = %v err = %v", modules, err)
	}
}

func TestLoadExternalRejectsUnknownStage(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "odd.go", `package main

func ModuleName() string { return "odd" }

func Stages() []string { return []string{"archive"} }

func Supports(stage, source string, meta map[string]string) bool { return false }

func Process(stage, source, acquiredPath string, artifacts []string, meta map[string]string) ([]string, error) {
	return nil, nil
}
`)

	modules, err := LoadExternal(dir, nil)
	if err != nil {
		t.Fatalf("load external: %v", err)
	}
	if len(modules) != 0 {
		t.Fatalf("modules = %v, want the odd stage rejected", modules)
	}
}
