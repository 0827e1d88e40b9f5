package ledger

import (
	"time"

	"gantrymon/internal/pending"
)

// Task is one submission to the transfer service.
type Task struct {
	ID             string
	Status         Status
	CreatedAt      time.Time
	CompletedAt    *time.Time
	FileCount      int64
	ByteCount      int64
	SubmittingUser string
	SubmissionID   string
	Contents       pending.Manifests
	RetryCount     int
	LastError      string
	ClaimedFrom    Status
	UpdatedAt      time.Time
	CleanedAt      *time.Time
}

// EffectiveStatus is the lifecycle state ignoring an active claim.
func (t *Task) EffectiveStatus() Status {
	if t.Status == StatusPending && t.ClaimedFrom != "" {
		return t.ClaimedFrom
	}
	return t.Status
}

// Change carries the optional column updates applied with a transition.
// Nil fields are left untouched.
type Change struct {
	CompletedAt    *time.Time
	FileCount      *int64
	ByteCount      *int64
	Contents       pending.Manifests
	LastError      *string
	IncrementRetry bool
	Note           string
}

// Event is one audit row written for every status change.
type Event struct {
	ID         int64
	TaskID     string
	FromStatus Status
	ToStatus   Status
	Note       string
	CreatedAt  time.Time
}

// DatasetStats accumulates transfer totals for one dataset.
type DatasetStats struct {
	Name          string
	FileCount     int64
	ByteCount     int64
	FirstCreated  time.Time
	LastTransfer  time.Time
	TransferCount int
}

// DatabaseHealth summarizes ledger database diagnostics.
type DatabaseHealth struct {
	Driver         string
	Location       string
	SchemaVersion  int
	DatabaseExists bool
	Reachable      bool
	TableExists    bool
	ColumnsPresent []string
	MissingColumns []string
	IntegrityCheck bool
	TotalTasks     int
	Error          string
}

// Ptr returns a pointer to v, for filling Change fields inline.
func Ptr[T any](v T) *T {
	return &v
}
