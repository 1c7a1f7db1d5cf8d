// Package notifications pushes operator alerts about the persistence core
// (storage quota exhaustion, failed flushes) to ntfy.
//
// When no ntfy topic is configured the service is a no-op. Callers depend
// only on the Service interface and publish enumerated events with a small
// payload map.
package notifications
