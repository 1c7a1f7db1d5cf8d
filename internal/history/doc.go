// Package history keeps the bounded undo/redo stack of editor snapshots.
//
// Every content edit records a full snapshot. Recording after an undo drops
// the undone branch; the oldest entries fall off once the cap is reached.
// Navigation that does not change content (selection, playback position)
// patches the current entry in place so browsing never consumes undo slots.
package history
