package ledger

import (
	"context"
	"database/sql"
	"fmt"
)

func insertEvent(ctx context.Context, tx *sql.Tx, d dialect, id string, from, to Status, note, stamp string) error {
	_, err := tx.ExecContext(ctx, d.rebind(
		`INSERT INTO task_events (task_id, from_status, to_status, note, created_at) VALUES (?, ?, ?, ?, ?)`),
		id, nullableString(string(from)), string(to), nullableString(note), stamp)
	if err != nil {
		return fmt.Errorf("record task event: %w", err)
	}
	return nil
}

// Events returns the audit trail of a task in insertion order.
func (s *Store) Events(ctx context.Context, id string) ([]Event, error) {
	rows, err := s.query(ctx,
		`SELECT id, task_id, from_status, to_status, note, created_at FROM task_events WHERE task_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("list task events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev         Event
			from, note sql.NullString
			to         string
			createdRaw string
		)
		if err := rows.Scan(&ev.ID, &ev.TaskID, &from, &to, &note, &createdRaw); err != nil {
			return nil, err
		}
		ev.FromStatus = Status(from.String)
		ev.ToStatus = Status(to)
		ev.Note = note.String
		if created, err := parseTime(createdRaw); err == nil {
			ev.CreatedAt = created
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
