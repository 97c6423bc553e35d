// Package api defines the JSON payloads exchanged between the daemon's HTTP
// endpoint and the CLI, plus the client the CLI uses to reach them.
package api
