// Package storage provides the durable key/value backends the persistence
// scheduler writes to.
//
// The production backend is a SQLite database in the data directory (WAL
// journal, busy retries, versioned schema). An in-memory backend with the
// same quota semantics backs tests and the --ephemeral daemon mode. Both
// report a full store with ErrQuotaExceeded so callers can surface it
// without treating it as a crash.
package storage
