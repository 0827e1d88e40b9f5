package api

import "gantrymon/internal/pending"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// InjectRequest queues files for transfer without waiting for the scanner.
type InjectRequest struct {
	Path         string                    `json:"path,omitempty"`
	Metadata     map[string]any            `json:"md,omitempty"`
	Paths        []string                  `json:"paths,omitempty"`
	FileMetadata map[string]map[string]any `json:"file_metadata,omitempty"`
	DatasetName  string                    `json:"dataset_name,omitempty"`
	SensorName   string                    `json:"sensor_name,omitempty"`
	Timestamp    string                    `json:"timestamp,omitempty"`
	SpaceID      string                    `json:"space_id,omitempty"`
}

// InjectResponse reports what an injection added.
type InjectResponse struct {
	Queued   int      `json:"queued"`
	Datasets []string `json:"datasets"`
}

// WorkerStatus mirrors one scheduler worker.
type WorkerStatus struct {
	Name         string `json:"name"`
	Interval     string `json:"interval"`
	Active       bool   `json:"active"`
	Runs         int64  `json:"runs"`
	Failures     int64  `json:"failures"`
	LastRun      string `json:"last_run,omitempty"`
	LastDuration string `json:"last_duration,omitempty"`
	LastError    string `json:"last_error,omitempty"`
}

// Status is the daemon health payload.
type Status struct {
	Running         bool              `json:"running"`
	PID             int               `json:"pid"`
	StartedAt       string            `json:"started_at,omitempty"`
	PendingFiles    int               `json:"pending_files"`
	PendingDatasets int               `json:"pending_datasets"`
	ActiveTasks     int               `json:"active_tasks"`
	LastLogLines    map[string]string `json:"last_log_lines"`
	TaskCounts      map[string]int    `json:"task_counts"`
	Workers         []WorkerStatus    `json:"workers"`
	LedgerDriver    string            `json:"ledger_driver,omitempty"`
	LockFilePath    string            `json:"lock_file_path,omitempty"`
}

// Task describes a ledger row in a transport-friendly format.
type Task struct {
	ID             string            `json:"id"`
	Status         string            `json:"status"`
	Claimed        bool              `json:"claimed,omitempty"`
	FileCount      int64             `json:"file_count"`
	ByteCount      int64             `json:"byte_count"`
	RetryCount     int               `json:"retry_count"`
	LastError      string            `json:"last_error,omitempty"`
	SubmittingUser string            `json:"submitting_user,omitempty"`
	SubmissionID   string            `json:"submission_id,omitempty"`
	Datasets       []string          `json:"datasets"`
	CreatedAt      string            `json:"created_at,omitempty"`
	UpdatedAt      string            `json:"updated_at,omitempty"`
	CompletedAt    string            `json:"completed_at,omitempty"`
	CleanedAt      string            `json:"cleaned_at,omitempty"`
	Contents       pending.Manifests `json:"contents,omitempty"`
}

// Event is one status change of a task.
type Event struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Note      string `json:"note,omitempty"`
	CreatedAt string `json:"created_at"`
}

// TaskListResponse wraps a collection of tasks.
type TaskListResponse struct {
	Tasks []Task `json:"tasks"`
}

// TaskResponse wraps a single task.
type TaskResponse struct {
	Task Task `json:"task"`
}

// EventListResponse wraps the history of a task.
type EventListResponse struct {
	Events []Event `json:"events"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}
