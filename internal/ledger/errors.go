package ledger

import "errors"

var (
	// ErrNotFound reports an unknown task id.
	ErrNotFound = errors.New("task not found")
	// ErrInvalidTransition reports an edge outside the lifecycle or a
	// compare-and-set that lost to a concurrent writer.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
	ErrSchemaMismatch = errors.New("schema version mismatch")
	// ErrNothingToClaim is returned by Claim when no row has the requested status.
	ErrNothingToClaim = errors.New("no task to claim")
)
