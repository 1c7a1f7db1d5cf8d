// Package logs reads the daemon log file for `flowscribe logs`.
//
// Last returns the final lines of the file with bounded memory, and Follow
// polls for appended lines until its context ends, restarting from the top
// when the file is truncated or replaced. An optional Match filter keeps only
// lines containing a substring, which is how the CLI narrows output to one
// session key or event type.
package logs
