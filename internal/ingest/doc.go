// Package ingest makes the downstream store reflect a completed transfer
// task. It is safe to run repeatedly on the same task: hierarchy levels are
// looked up before they are created, files already present by path are not
// uploaded again, and dataset metadata is attached only when no record from
// this agent exists.
//
// Per-file outcomes are recorded on the task contents as Retry (server or
// transport error) or Error (client or data error) annotations, and success
// clears both. The overall Outcome is RETRY when any call may succeed later,
// ERROR when only data or client errors occurred, and OK otherwise.
package ingest
