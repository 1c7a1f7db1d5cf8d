// Package config loads, normalizes, and validates Flowscribe configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// FLOWSCRIBE_API_TOKEN. The Config type centralizes every knob the daemon and
// CLI need, so the data directory, the persistence scheduler timings, and the
// history cap are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
