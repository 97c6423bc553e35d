package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"query=siamese cats", "priority=5", "urls=https://a,https://b"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if params["query"] != "siamese cats" {
		t.Fatalf("query = %v", params["query"])
	}
	if params["priority"] != "5" {
		t.Fatalf("priority = %v", params["priority"])
	}
	if params["urls"] != "https://a,https://b" {
		t.Fatalf("urls = %v", params["urls"])
	}

	if params, err := parseParams(nil); err != nil || params != nil {
		t.Fatalf("empty input: %v %v", params, err)
	}
}

func TestParseParamsRejectsMalformedPairs(t *testing.T) {
	for _, pair := range []string{"no-separator", "=value", "  =x"} {
		if _, err := parseParams([]string{pair}); err == nil {
			t.Errorf("parseParams(%q) accepted malformed input", pair)
		}
	}
}

func TestLoadParamsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	content := []byte("query: siamese cats\npriority: 5\nurls:\n  - https://a\n  - https://b\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write params: %v", err)
	}

	params, err := loadParamsFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if params["query"] != "siamese cats" {
		t.Fatalf("query = %v", params["query"])
	}
	if params["priority"] != 5 {
		t.Fatalf("priority = %v (%T)", params["priority"], params["priority"])
	}
	urls, ok := params["urls"].([]any)
	if !ok || len(urls) != 2 {
		t.Fatalf("urls = %v", params["urls"])
	}

	if params, err := loadParamsFile(""); err != nil || params != nil {
		t.Fatalf("blank path: %v %v", params, err)
	}
	if _, err := loadParamsFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("missing file accepted")
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("0123456789abcdef"); got != "01234567" {
		t.Fatalf("shortID = %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Fatalf("shortID = %q", got)
	}
}
