// Package scanner discovers files that have finished landing in the
// instrument's incoming directory.
//
// Two strategies run every cycle. Log sources are tailed incrementally from
// the last fully consumed line, walking back through rotated (optionally
// gzip-compressed) siblings when the live log has rotated past the resume
// point. Watch directories are swept for regular files whose modification
// time is older than the quiescence threshold. Discovered files are grouped
// by dataset and merged into the pending queue, bounded by max_pending.
package scanner
