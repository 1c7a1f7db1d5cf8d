// Package main hosts the flowscribe CLI entrypoint and command graph.
//
// The Cobra command tree runs the daemon (`serve`), reports its status,
// maintains stored sessions and scaffolds configuration. Session commands go
// through the daemon's HTTP API while it runs and edit the session database
// directly otherwise, so they work whether or not the editor is open.
//
// Keep this package thin: behavior belongs in the internal packages and is
// surfaced here as commands and flags.
package main
