// Package fileutil holds the file primitives shared by the pending queue,
// scanner state, in-flight journal, and landing-area sweeper: crash-safe
// durable writes with backup rotation, verified copies, and cross-device
// moves.
package fileutil
