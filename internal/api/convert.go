package api

import (
	"time"

	"gantrymon/internal/ledger"
	"gantrymon/internal/workflow"
)

// FromTask converts a ledger task. Contents are carried only when
// withContents is set because they can hold thousands of records.
func FromTask(task *ledger.Task, withContents bool) Task {
	if task == nil {
		return Task{}
	}
	dto := Task{
		ID:             task.ID,
		Status:         string(task.EffectiveStatus()),
		Claimed:        task.Status == ledger.StatusPending,
		FileCount:      task.FileCount,
		ByteCount:      task.ByteCount,
		RetryCount:     task.RetryCount,
		LastError:      task.LastError,
		SubmittingUser: task.SubmittingUser,
		SubmissionID:   task.SubmissionID,
		Datasets:       task.Contents.Keys(),
		CreatedAt:      formatTime(task.CreatedAt),
		UpdatedAt:      formatTime(task.UpdatedAt),
	}
	if task.CompletedAt != nil {
		dto.CompletedAt = formatTime(*task.CompletedAt)
	}
	if task.CleanedAt != nil {
		dto.CleanedAt = formatTime(*task.CleanedAt)
	}
	if withContents {
		dto.Contents = task.Contents
	}
	return dto
}

// FromTasks converts a slice of ledger tasks without their contents.
func FromTasks(tasks []*ledger.Task) []Task {
	out := make([]Task, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, FromTask(task, false))
	}
	return out
}

// FromEvents converts a task history.
func FromEvents(events []ledger.Event) []Event {
	out := make([]Event, 0, len(events))
	for _, evt := range events {
		out = append(out, Event{
			From:      string(evt.FromStatus),
			To:        string(evt.ToStatus),
			Note:      evt.Note,
			CreatedAt: formatTime(evt.CreatedAt),
		})
	}
	return out
}

// FromWorkflowStatus converts scheduler diagnostics.
func FromWorkflowStatus(summary workflow.StatusSummary) []WorkerStatus {
	out := make([]WorkerStatus, 0, len(summary.Workers))
	for _, w := range summary.Workers {
		ws := WorkerStatus{
			Name:      w.Name,
			Interval:  w.Interval.String(),
			Active:    w.Active,
			Runs:      w.Runs,
			Failures:  w.Failures,
			LastRun:   formatTime(w.LastRun),
			LastError: w.LastError,
		}
		if w.Runs > 0 {
			ws.LastDuration = w.LastDuration.Round(time.Millisecond).String()
		}
		out = append(out, ws)
	}
	return out
}

// TaskCounts flattens ledger stats into a status-keyed map that always
// carries every lifecycle status.
func TaskCounts(stats map[ledger.Status]int) map[string]int {
	out := make(map[string]int, len(stats))
	for _, status := range ledger.AllStatuses() {
		out[string(status)] = stats[status]
	}
	for status, n := range stats {
		out[string(status)] = n
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
