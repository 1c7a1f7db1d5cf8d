// Package preflight provides readiness checks for the filesystem paths,
// session database and services that Flowscribe depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at startup and logs every failure before it
//     takes the instance lock.
//   - The CLI "flowscribe doctor" command renders the same results as a
//     table, and uses ProbeDaemon to tell whether a daemon holds the lock.
//
// Each check is gated by its config value: unset features are skipped.
package preflight
