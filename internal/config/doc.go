// Package config loads, normalizes, and validates the TOML configuration
// for the skimmer daemon and CLI.
package config
