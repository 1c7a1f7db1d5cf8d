// Package session models editing sessions and the keyed cache that holds them.
//
// A session is one (audio, transcript[, revision]) editing context. Its key is
// derived deterministically from the file references, so re-opening the same
// pair of files lands on the same cached edits. The package also derives the
// recent-sessions view and identifies ghost sessions (no transcript, no
// segments) that must never reach durable storage.
//
// Segment, speaker, tag and chapter payloads are opaque JSON. The only field
// read from them is a segment's id, which selection repair needs.
//
// Cache is not safe for concurrent use; the store context serializes access.
package session
