// Package config loads, normalizes, and validates gantrymon configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks for the
// secrets that should not live on disk, such as GANTRYMON_TRANSFER_PASSWORD
// and GANTRYMON_DOWNSTREAM_KEY. The Config type centralizes every knob the
// daemon and CLI need so the scanner, submitter, reconciler and sweeper all
// read the same sanitized view.
//
// Always obtain settings through this package so downstream code receives
// absolute paths, canonical log formats, and clear validation errors.
package config
