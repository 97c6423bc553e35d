// Package preflight provides readiness checks for the directories and disk
// headroom the daemon depends on.
//
// The daemon runs RunAll once at startup and refuses to start when a check
// fails; the CLI "skimmer status" command reuses the individual check
// functions to display health.
package preflight
