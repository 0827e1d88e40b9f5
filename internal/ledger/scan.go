package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gantrymon/internal/pending"
)

const taskColumns = "task_id, status, claimed_from, created_at, completed_at, file_count, byte_count, submitting_user, submission_id, contents, retry_count, last_error, updated_at, cleaned_at"

// prefixedColumns qualifies taskColumns with a table alias.
func prefixedColumns(alias string) string {
	cols := strings.Split(taskColumns, ", ")
	for i, col := range cols {
		cols[i] = alias + "." + col
	}
	return strings.Join(cols, ", ")
}

func scanTask(scanner interface{ Scan(dest ...any) error }) (*Task, error) {
	var (
		id             string
		statusStr      string
		claimedFrom    sql.NullString
		createdRaw     string
		completedRaw   sql.NullString
		fileCount      int64
		byteCount      int64
		submittingUser sql.NullString
		submissionID   sql.NullString
		contentsRaw    sql.NullString
		retryCount     int
		lastError      sql.NullString
		updatedRaw     string
		cleanedRaw     sql.NullString
	)
	if err := scanner.Scan(
		&id,
		&statusStr,
		&claimedFrom,
		&createdRaw,
		&completedRaw,
		&fileCount,
		&byteCount,
		&submittingUser,
		&submissionID,
		&contentsRaw,
		&retryCount,
		&lastError,
		&updatedRaw,
		&cleanedRaw,
	); err != nil {
		return nil, err
	}

	task := &Task{
		ID:             id,
		Status:         Status(statusStr),
		ClaimedFrom:    Status(claimedFrom.String),
		FileCount:      fileCount,
		ByteCount:      byteCount,
		SubmittingUser: submittingUser.String,
		SubmissionID:   submissionID.String,
		RetryCount:     retryCount,
		LastError:      lastError.String,
		CompletedAt:    parseNullableTime(completedRaw),
		CleanedAt:      parseNullableTime(cleanedRaw),
	}
	if created, err := parseTime(createdRaw); err == nil {
		task.CreatedAt = created
	}
	if updated, err := parseTime(updatedRaw); err == nil {
		task.UpdatedAt = updated
	}
	contents, err := decodeContents(contentsRaw.String)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", id, err)
	}
	task.Contents = contents
	return task, nil
}

func scanTasks(rows *sql.Rows) ([]*Task, error) {
	defer rows.Close()
	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func encodeContents(contents pending.Manifests) (string, error) {
	if contents == nil {
		return "{}", nil
	}
	data, err := json.Marshal(contents)
	if err != nil {
		return "", fmt.Errorf("encode contents: %w", err)
	}
	return string(data), nil
}

func decodeContents(raw string) (pending.Manifests, error) {
	contents := make(pending.Manifests)
	if strings.TrimSpace(raw) == "" {
		return contents, nil
	}
	if err := json.Unmarshal([]byte(raw), &contents); err != nil {
		return nil, fmt.Errorf("decode contents: %w", err)
	}
	return contents, nil
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid || value.String == "" {
		return nil
	}
	t, err := parseTime(value.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", count), ",")
}

func statusArgs(statuses []Status) []any {
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = string(status)
	}
	return args
}
