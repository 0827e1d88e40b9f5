// Package api defines the wire-format types shared by the daemon's HTTP
// surface and the CLI, the converters from ledger and scheduler models, and
// an HTTP client for the CLI.
//
// # Key Types
//
// InjectRequest accepts the three injection shapes: a single path with
// metadata, a list of paths with a per-file metadata map, and a list of
// paths with an explicit sensor/timestamp. Every shape takes an optional
// dataset name and target space.
//
// Status is the health payload served at /api/status and /status.
//
// Task and Event mirror ledger rows.
//
// # Design Notes
//
// JSON tags are snake_case so existing health checks and injection scripts
// keep working. Timestamps use RFC3339 with milliseconds. Task contents are
// only included when a single task is requested.
package api
