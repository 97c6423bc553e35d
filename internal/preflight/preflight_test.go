package preflight

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestCheckDirectoryAccess(t *testing.T) {
	dir := t.TempDir()
	res := CheckDirectoryAccess("test dir", dir)
	if !res.Passed {
		t.Fatalf("expected pass for writable temp dir, got %+v", res)
	}

	res = CheckDirectoryAccess("missing", filepath.Join(dir, "nope"))
	if res.Passed {
		t.Fatalf("expected failure for missing directory, got %+v", res)
	}
}

func TestCheckFreeDisk(t *testing.T) {
	orig := statfs
	t.Cleanup(func() { statfs = orig })

	statfs = func(string) (uint64, error) { return 10 * 1024 * 1024 * 1024, nil }
	if res := CheckFreeDisk("disk", "/", 2); !res.Passed {
		t.Fatalf("expected pass with 10 GiB free and 2 GiB minimum, got %+v", res)
	}
	if res := CheckFreeDisk("disk", "/", 20); res.Passed {
		t.Fatalf("expected failure with 10 GiB free and 20 GiB minimum, got %+v", res)
	}

	statfs = func(string) (uint64, error) { return 0, errors.New("nope") }
	if res := CheckFreeDisk("disk", "/", 1); res.Passed {
		t.Fatalf("expected failure when statfs errors, got %+v", res)
	}

	if res := CheckFreeDisk("disk", "/", 0); !res.Passed {
		t.Fatalf("expected pass when no minimum configured, got %+v", res)
	}
}
