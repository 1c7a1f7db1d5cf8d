// Package store provides the Store Context: the single owner of the session
// cache, the active session, undo history, the global settings blob, the
// loaded audio handle and the persistence scheduler.
//
// One Store is built at startup and handed to every consumer (HTTP API, CLI
// commands). All state transitions go through its methods, which are safe
// for concurrent use and never block on storage I/O; persistence is
// delegated to the scheduler.
package store
