// Package services defines shared utilities consumed by the scanner,
// submitter, reconciler, and their external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp task IDs, dataset keys, worker names, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so callers can decide
//     between retrying on the next cycle and recording a permanent failure.
package services
