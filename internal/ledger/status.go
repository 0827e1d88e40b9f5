package ledger

// Status is a TransferTask lifecycle state.
type Status string

const (
	StatusCreated    Status = "CREATED"
	StatusInProgress Status = "IN PROGRESS"
	StatusSucceeded  Status = "SUCCEEDED"
	StatusNotified   Status = "NOTIFIED"
	StatusProcessed  Status = "PROCESSED"
	StatusRetry      Status = "RETRY"
	StatusFailed     Status = "FAILED"
	StatusDeleted    Status = "DELETED"

	// StatusPending marks a row claimed by a worker. The status it was
	// claimed from is kept in claimed_from.
	StatusPending Status = "PENDING"
)

var transitions = map[Status][]Status{
	StatusCreated:    {StatusInProgress, StatusSucceeded, StatusFailed},
	StatusInProgress: {StatusNotified, StatusFailed},
	StatusSucceeded:  {StatusNotified},
	StatusNotified:   {StatusProcessed, StatusRetry, StatusFailed},
	StatusRetry:      {StatusProcessed, StatusRetry, StatusFailed},
}

var terminal = map[Status]struct{}{
	StatusProcessed: {},
	StatusFailed:    {},
	StatusDeleted:   {},
}

// AllStatuses lists the persistent states in lifecycle order.
func AllStatuses() []Status {
	return []Status{
		StatusCreated,
		StatusInProgress,
		StatusSucceeded,
		StatusNotified,
		StatusRetry,
		StatusProcessed,
		StatusFailed,
		StatusDeleted,
	}
}

// ParseStatus accepts a status name in any case; "in_progress" and
// "in-progress" are accepted for IN PROGRESS.
func ParseStatus(value string) (Status, bool) {
	normalized := make([]byte, 0, len(value))
	for i := 0; i < len(value); i++ {
		c := value[i]
		switch {
		case c >= 'a' && c <= 'z':
			c -= 'a' - 'A'
		case c == '_' || c == '-':
			c = ' '
		}
		normalized = append(normalized, c)
	}
	candidate := Status(normalized)
	for _, s := range append(AllStatuses(), StatusPending) {
		if s == candidate {
			return s, true
		}
	}
	return "", false
}

// IsTerminal reports whether no further transitions leave status.
func IsTerminal(status Status) bool {
	_, ok := terminal[status]
	return ok
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
// Every non-terminal state may move to DELETED.
func CanTransition(from, to Status) bool {
	if to == StatusDeleted {
		return from != StatusPending && !IsTerminal(from)
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
