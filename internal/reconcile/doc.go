// Package reconcile drives transfer tasks through the ledger lifecycle.
//
// A cycle runs four phases in order: announce CREATED and SUCCEEDED tasks
// to the downstream service, poll the transfer service for CREATED and IN
// PROGRESS tasks, ingest NOTIFIED tasks, and re-drive RETRY tasks whose
// retry counter is below downstream.max_retries. Ingestion works on
// claimed rows so several workers, in this or another process sharing the
// ledger, never ingest the same task at once.
package reconcile
