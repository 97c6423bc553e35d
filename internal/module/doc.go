// Package module manages the units of behavior that plug into the pipeline
// and job queue. A module bundles handlers, hooks, and job executors under a
// single name so it can be enabled, disabled, and unloaded as one.
//
// Builtin modules are compiled in; external modules are plain .go files
// interpreted from the plugin directory at startup.
package module
