// Package submitter turns queued manifests into transfer-service tasks.
//
// Each cycle takes a snapshot of the pending queue, cuts it into batches of
// at most transfer.max_files_per_batch files while fewer than
// transfer.max_active_tasks tasks are running, and submits every batch
// under a fresh submission id. The batch is written to an in-flight
// journal before the submit call; the journal is only removed once the
// ledger row exists and the files are drained from the queue, so a crash
// anywhere in between is replayed with the same submission id on the next
// start and the transfer service treats the replay as a duplicate.
package submitter
