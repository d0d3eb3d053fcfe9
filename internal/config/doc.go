// Package config loads, normalizes, and validates Cliparr configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// SONARR_API_KEY. The Config type centralizes every knob the daemon and CLI
// need: staging/output/temp directories, the Sonarr collaborator endpoint,
// detection thresholds, and concurrency limits.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors. The
// store's settings table is not consulted at runtime; Config is the only
// source of these values.
package config
