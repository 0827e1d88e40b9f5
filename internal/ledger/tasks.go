package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"gantrymon/internal/pending"
)

// Create inserts a CREATED task. Creating a task id that already exists is
// a no-op so a replayed submission cannot produce a second row.
func (s *Store) Create(ctx context.Context, task *Task) (bool, error) {
	if task == nil || strings.TrimSpace(task.ID) == "" {
		return false, errors.New("task id is required")
	}
	contents, err := encodeContents(task.Contents)
	if err != nil {
		return false, err
	}
	now := s.now()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	if task.Status == "" {
		task.Status = StatusCreated
	}
	stamp := formatTime(now)

	inserted := false
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.dialect.rebind(
			`INSERT INTO tasks (
                task_id, status, created_at, completed_at, file_count, byte_count,
                submitting_user, submission_id, contents, retry_count, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
            ON CONFLICT (task_id) DO NOTHING`),
			task.ID,
			string(task.Status),
			formatTime(task.CreatedAt),
			nullableTime(task.CompletedAt),
			task.FileCount,
			task.ByteCount,
			nullableString(task.SubmittingUser),
			nullableString(task.SubmissionID),
			contents,
			stamp,
		)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		inserted = affected > 0
		if !inserted {
			return nil
		}
		return insertEvent(ctx, tx, s.dialect, task.ID, "", task.Status, "submitted", stamp)
	})
	if err != nil {
		return false, fmt.Errorf("insert task: %w", err)
	}
	return inserted, nil
}

// Get fetches a task by id.
func (s *Store) Get(ctx context.Context, id string) (*Task, error) {
	row := s.queryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE task_id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// List returns tasks with any of the given statuses, oldest first. With no
// statuses every task is returned.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var args []any
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		args = statusArgs(statuses)
	}
	query += ` ORDER BY created_at, task_id`
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return scanTasks(rows)
}

// ListUncleaned returns PROCESSED tasks whose landed files have not been swept.
func (s *Store) ListUncleaned(ctx context.Context, limit int) ([]*Task, error) {
	rows, err := s.query(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE status = ? AND cleaned_at IS NULL ORDER BY completed_at, task_id LIMIT ?`,
		string(StatusProcessed), limit)
	if err != nil {
		return nil, fmt.Errorf("list uncleaned tasks: %w", err)
	}
	return scanTasks(rows)
}

// Transition moves a task from one status to another as a compare-and-set.
// When from is PENDING the edge is validated against the status the task
// was claimed from, and the claim is cleared.
func (s *Store) Transition(ctx context.Context, id string, from, to Status, change Change) error {
	var contents string
	if change.Contents != nil {
		encoded, err := encodeContents(change.Contents)
		if err != nil {
			return err
		}
		contents = encoded
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		var (
			current     string
			claimedFrom sql.NullString
		)
		err := tx.QueryRowContext(ctx, s.dialect.rebind(
			`SELECT status, claimed_from FROM tasks WHERE task_id = ?`), id).Scan(&current, &claimedFrom)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("read task status: %w", err)
		}
		if Status(current) != from {
			return fmt.Errorf("%w: task %s is %s, expected %s", ErrInvalidTransition, id, current, from)
		}
		effective := from
		if from == StatusPending {
			effective = Status(claimedFrom.String)
		}
		if !CanTransition(effective, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, effective, to)
		}

		stamp := s.timestamp()
		sets := []string{"status = ?", "claimed_from = NULL", "claimed_by = NULL", "updated_at = ?"}
		args := []any{string(to), stamp}
		if change.CompletedAt != nil {
			sets = append(sets, "completed_at = ?")
			args = append(args, nullableTime(change.CompletedAt))
		}
		if change.FileCount != nil {
			sets = append(sets, "file_count = ?")
			args = append(args, *change.FileCount)
		}
		if change.ByteCount != nil {
			sets = append(sets, "byte_count = ?")
			args = append(args, *change.ByteCount)
		}
		if change.Contents != nil {
			sets = append(sets, "contents = ?")
			args = append(args, contents)
		}
		if change.LastError != nil {
			sets = append(sets, "last_error = ?")
			args = append(args, nullableString(*change.LastError))
		}
		if change.IncrementRetry {
			sets = append(sets, "retry_count = retry_count + 1")
		}
		args = append(args, id, string(from))

		res, err := tx.ExecContext(ctx, s.dialect.rebind(
			`UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE task_id = ? AND status = ?`), args...)
		if err != nil {
			return fmt.Errorf("update task status: %w", err)
		}
		if affected, err := res.RowsAffected(); err != nil {
			return err
		} else if affected == 0 {
			return fmt.Errorf("%w: task %s changed concurrently", ErrInvalidTransition, id)
		}
		return insertEvent(ctx, tx, s.dialect, id, effective, to, change.Note, stamp)
	})
}

// UpdateContents replaces the manifest snapshot of a task, used to persist
// per-file annotations while ingestion is in progress.
func (s *Store) UpdateContents(ctx context.Context, id string, contents pending.Manifests) error {
	encoded, err := encodeContents(contents)
	if err != nil {
		return err
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE tasks SET contents = ?, updated_at = ? WHERE task_id = ?`,
		encoded, s.timestamp(), id)
	if err != nil {
		return fmt.Errorf("update task contents: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Cancel moves a non-terminal, unclaimed task to DELETED. It is bookkeeping
// only; the transfer service is not asked to abort anything.
func (s *Store) Cancel(ctx context.Context, id string) error {
	task, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if task.Status == StatusPending {
		return fmt.Errorf("%w: task %s is claimed by a worker", ErrInvalidTransition, id)
	}
	return s.Transition(ctx, id, task.Status, StatusDeleted, Change{Note: "cancelled by operator"})
}

// Requeue resets the retry counter of a RETRY task so the reconciliation
// loop re-drives it again.
func (s *Store) Requeue(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stamp := s.timestamp()
		res, err := tx.ExecContext(ctx, s.dialect.rebind(
			`UPDATE tasks SET retry_count = 0, updated_at = ? WHERE task_id = ? AND status = ?`),
			stamp, id, string(StatusRetry))
		if err != nil {
			return fmt.Errorf("requeue task: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			var current string
			err := tx.QueryRowContext(ctx, s.dialect.rebind(`SELECT status FROM tasks WHERE task_id = ?`), id).Scan(&current)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			if err != nil {
				return err
			}
			return fmt.Errorf("%w: only RETRY tasks can be requeued (task %s is %s)", ErrInvalidTransition, id, current)
		}
		return insertEvent(ctx, tx, s.dialect, id, StatusRetry, StatusRetry, "requeued by operator", stamp)
	})
}

// ActiveCount returns the number of tasks still running at the transfer service.
func (s *Store) ActiveCount(ctx context.Context) (int, error) {
	var count int
	err := s.queryRow(ctx,
		`SELECT COUNT(1) FROM tasks WHERE status IN (?, ?)`,
		string(StatusCreated), string(StatusInProgress)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active tasks: %w", err)
	}
	return count, nil
}

// MarkCleaned records that the sweeper has handled a task's landed files.
func (s *Store) MarkCleaned(ctx context.Context, id string) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE tasks SET cleaned_at = ?, updated_at = ? WHERE task_id = ?`,
		s.timestamp(), s.timestamp(), id)
	if err != nil {
		return fmt.Errorf("mark task cleaned: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
