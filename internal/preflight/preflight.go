package preflight

import (
	"context"

	"skimmer/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	_ = ctx

	results := []Result{
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Download directory", cfg.Paths.DownloadDir),
		CheckDirectoryAccess("Library directory", cfg.Paths.LibraryDir),
		CheckFreeDisk("Download disk space", cfg.Paths.DownloadDir, cfg.Pipeline.MinFreeDiskGiB),
	}

	if cfg.Modules.ExternalEnabled && cfg.Paths.PluginDir != "" {
		results = append(results, CheckDirectoryAccess("Plugin directory", cfg.Paths.PluginDir))
	}

	return results
}

// Passed reports whether every result in the set passed.
func Passed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}
