// Package persist moves editor state from memory to durable storage without
// blocking the goroutines that mutate it.
//
// Scheduler coalesces Schedule calls behind a single throttle timer. When the
// timer fires it issues a monotonically increasing job id and hands the
// payload to a serialization Worker, a goroutine that only JSON-encodes and
// echoes the job id back. A response is written only when its id is still
// the latest issued; anything older is discarded as stale. Without a worker
// the same job is serialized on an idle callback (or a zero-delay timer)
// under the same staleness rule. FlushSync skips all of that, writes the
// newest pending payload on the calling goroutine and bumps the job id so no
// in-flight response can overwrite it afterwards.
//
// Writes rejected for quota are reported as a false return plus an
// events.StorageQuotaExceeded dispatch; they are never retried.
package persist
