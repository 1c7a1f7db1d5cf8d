// Package daemon runs the long-lived Flowscribe process: it owns the Store
// Context and serves it to the browser editor and the CLI over a loopback
// HTTP API.
//
// The daemon wires configuration, session storage (SQLite, or memory in
// ephemeral mode), the persistence scheduler and its serialization worker,
// and the event bus into one lifecycle guarded by a flock-based instance
// lock. Quota failures raised by the scheduler are logged and pushed to ntfy
// at most once per interval; every bus event is also streamed to WebSocket
// clients on /api/events. Prometheus metrics are served on /metrics.
//
// Keep editing semantics in internal/store; handlers here only decode
// requests, call the Store Context and encode its views.
package daemon
