// Package ledger is the durable record of every batch submitted to the
// transfer service.
//
// Each TransferTask row moves forward through a fixed state machine
// (CREATED, IN PROGRESS, SUCCEEDED, NOTIFIED, then PROCESSED, RETRY or
// FAILED, with DELETED available to operators). Transition performs a
// compare-and-set on the status column and appends an audit event in the
// same transaction. Claim lets concurrent reconciliation workers take
// ownership of a row by flipping it to the transient PENDING marker in a
// single update-returning statement.
//
// SQLite (modernc.org/sqlite) is the default backend. PostgreSQL is
// reached through the pgx stdlib driver and uses FOR UPDATE SKIP LOCKED
// for claims. Schema changes bump schemaVersion; an existing database with
// a different version is rejected with ErrSchemaMismatch.
package ledger
