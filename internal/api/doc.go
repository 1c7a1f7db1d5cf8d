// Package api defines the wire-format types of the Flowscribe HTTP API and a
// small client for it. The daemon encodes these types; the CLI decodes them.
//
// # Key Types
//
// DaemonStatus: runtime information including persistence scheduler stats
// and storage usage.
//
// SessionSummary: one row of the recent-sessions view.
//
// SessionView: the active session with its undo/redo position.
//
// # Design Notes
//
// DTOs use camelCase JSON tags for the browser editor. Timestamps use RFC3339
// with milliseconds. Session content (segments, speakers, tags, chapters)
// passes through as opaque JSON so the daemon never reinterprets it.
package api
