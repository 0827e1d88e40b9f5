package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ClaimFilter narrows which row Claim may take.
type ClaimFilter struct {
	// NewestFirst orders by most recent completion; RETRY re-drives use it
	// so fresh failures are looked at before long-standing ones.
	NewestFirst bool
	// MaxRetries, when positive, skips rows whose retry_count has reached it.
	MaxRetries int
	// Exclude lists task ids that must not be claimed.
	Exclude []string
}

// Claim atomically selects one task in status and flips it to PENDING,
// recording the previous status and this store's owner id. Concurrent
// claimants never receive the same row. ErrNothingToClaim is returned when
// no row qualifies.
func (s *Store) Claim(ctx context.Context, status Status, filter ClaimFilter) (*Task, error) {
	order := "ASC"
	if filter.NewestFirst {
		order = "DESC"
	}
	where := "status = ?"
	args := []any{string(status)}
	if filter.MaxRetries > 0 {
		where += " AND retry_count < ?"
		args = append(args, filter.MaxRetries)
	}
	if len(filter.Exclude) > 0 {
		where += " AND task_id NOT IN (" + makePlaceholders(len(filter.Exclude)) + ")"
		for _, id := range filter.Exclude {
			args = append(args, id)
		}
	}

	var query string
	stamp := s.timestamp()
	if s.dialect.postgres() {
		query = `WITH next_task AS (
                SELECT task_id FROM tasks WHERE ` + where + `
                ORDER BY COALESCE(completed_at, created_at) ` + order + `, task_id
                LIMIT 1 FOR UPDATE SKIP LOCKED
            )
            UPDATE tasks t SET status = ?, claimed_from = t.status, claimed_by = ?, updated_at = ?
            FROM next_task WHERE t.task_id = next_task.task_id
            RETURNING ` + prefixedColumns("t")
		args = append(args, string(StatusPending), s.owner, stamp)
	} else {
		query = `UPDATE tasks SET status = ?, claimed_from = status, claimed_by = ?, updated_at = ?
            WHERE task_id = (
                SELECT task_id FROM tasks WHERE ` + where + `
                ORDER BY COALESCE(completed_at, created_at) ` + order + `, task_id
                LIMIT 1
            ) AND status = ?
            RETURNING ` + taskColumns
		args = append([]any{string(StatusPending), s.owner, stamp}, args...)
		args = append(args, string(status))
	}

	var task *Task
	err := s.retryOnBusy(ensureContext(ctx), func() error {
		row := s.queryRow(ctx, query, args...)
		claimed, err := scanTask(row)
		if err != nil {
			return err
		}
		task = claimed
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNothingToClaim
	}
	if err != nil {
		return nil, fmt.Errorf("claim %s task: %w", status, err)
	}
	return task, nil
}

// Release returns a claimed task to the status it was claimed from.
func (s *Store) Release(ctx context.Context, id string) error {
	_, err := s.execWithRetry(ctx,
		`UPDATE tasks SET status = claimed_from, claimed_from = NULL, claimed_by = NULL, updated_at = ?
         WHERE task_id = ? AND status = ? AND claimed_from IS NOT NULL`,
		s.timestamp(), id, string(StatusPending))
	if err != nil {
		return fmt.Errorf("release task: %w", err)
	}
	return nil
}

// ReleaseAll returns every task claimed by this store to its prior status.
// It is called on clean shutdown.
func (s *Store) ReleaseAll(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE tasks SET status = claimed_from, claimed_from = NULL, claimed_by = NULL, updated_at = ?
         WHERE status = ? AND claimed_from IS NOT NULL AND claimed_by = ?`,
		s.timestamp(), string(StatusPending), s.owner)
	if err != nil {
		return 0, fmt.Errorf("release claims: %w", err)
	}
	return res.RowsAffected()
}

// ReclaimStale releases claims of other owners not touched since cutoff.
// A process that died without a clean shutdown leaves its claims behind;
// this is how they are recovered. Claims held by this store are never
// taken back, however long the work under them runs.
func (s *Store) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE tasks SET status = claimed_from, claimed_from = NULL, claimed_by = NULL, updated_at = ?
         WHERE status = ? AND claimed_from IS NOT NULL AND updated_at < ?
           AND (claimed_by IS NULL OR claimed_by <> ?)`,
		s.timestamp(), string(StatusPending), formatTime(cutoff), s.owner)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale claims: %w", err)
	}
	return res.RowsAffected()
}
