package workflow

import "time"

// WorkerStatus is a snapshot of one worker.
type WorkerStatus struct {
	Name         string        `json:"name"`
	Interval     time.Duration `json:"interval"`
	Active       bool          `json:"active"`
	Runs         int64         `json:"runs"`
	Failures     int64         `json:"failures"`
	LastRun      time.Time     `json:"last_run,omitzero"`
	LastDuration time.Duration `json:"last_duration"`
	LastError    string        `json:"last_error,omitempty"`
}

// StatusSummary represents lightweight scheduler diagnostics.
type StatusSummary struct {
	Running bool           `json:"running"`
	Workers []WorkerStatus `json:"workers"`
}

// Status returns the latest state of every worker in registration order.
func (r *Runner) Status() StatusSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	summary := StatusSummary{Running: r.running, Workers: make([]WorkerStatus, 0, len(r.workers))}
	for _, w := range r.workers {
		ws := WorkerStatus{
			Name:         w.Name,
			Interval:     w.Interval,
			Active:       w.active,
			Runs:         w.runs,
			Failures:     w.failures,
			LastRun:      w.lastRun,
			LastDuration: w.lastDuration,
		}
		if w.lastErr != nil {
			ws.LastError = w.lastErr.Error()
		}
		summary.Workers = append(summary.Workers, ws)
	}
	return summary
}
