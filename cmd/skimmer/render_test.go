package main

import (
	"strings"
	"testing"
)

func TestRenderStatusLine(t *testing.T) {
	plain := renderStatusLine("Daemon", statusOK, "pid 42", false)
	if !strings.Contains(plain, "Daemon:") || !strings.Contains(plain, "[OK] pid 42") {
		t.Fatalf("unexpected status line %q", plain)
	}
	if strings.Contains(plain, ansiGreen) {
		t.Fatalf("plain line should not carry color codes: %q", plain)
	}

	colored := renderStatusLine("Daemon", statusError, "", true)
	if !strings.HasPrefix(colored, ansiRed) || !strings.HasSuffix(colored, ansiReset) {
		t.Fatalf("colored line missing ANSI wrapping: %q", colored)
	}
	if !strings.Contains(colored, "[ERROR]") {
		t.Fatalf("colored line missing badge: %q", colored)
	}
}

func TestRenderSectionHeader(t *testing.T) {
	lines := renderSectionHeader("  Preflight ", false)
	if len(lines) != 2 {
		t.Fatalf("expected heading and rule, got %d lines", len(lines))
	}
	if lines[0] != "== Preflight ==" {
		t.Fatalf("unexpected heading %q", lines[0])
	}
	if lines[1] != strings.Repeat("-", len(lines[0])) {
		t.Fatalf("rule does not match heading width: %q", lines[1])
	}
}

func TestRenderTablePadsShortRows(t *testing.T) {
	out := renderTable(
		[]string{"ID", "TYPE", "ITEMS"},
		[][]string{{"job-1", "search_batch", "4"}, {"job-2"}},
		[]columnAlignment{alignLeft, alignLeft, alignRight},
	)
	if !strings.Contains(out, "job-1") || !strings.Contains(out, "job-2") {
		t.Fatalf("rendered table missing rows:\n%s", out)
	}
	rows := strings.Split(out, "\n")
	for _, row := range rows[1:] {
		if len([]rune(row)) != len([]rune(rows[0])) {
			t.Fatalf("ragged table output:\n%s", out)
		}
	}
}

func TestRenderTableEmptyHeaders(t *testing.T) {
	if out := renderTable(nil, [][]string{{"orphan"}}, nil); out != "" {
		t.Fatalf("expected empty output, got %q", out)
	}
}
