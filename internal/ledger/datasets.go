package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RecordDatasetTransfer accumulates transfer totals for a dataset. The first
// creation time is kept; the last transfer time moves forward.
func (s *Store) RecordDatasetTransfer(ctx context.Context, name string, files, bytes int64, createdAt, transferredAt time.Time) error {
	_, err := s.execWithRetry(ctx,
		`INSERT INTO dataset_logs (name, file_count, byte_count, first_created, last_transfer, transfer_count)
         VALUES (?, ?, ?, ?, ?, 1)
         ON CONFLICT (name) DO UPDATE SET
             file_count = dataset_logs.file_count + excluded.file_count,
             byte_count = dataset_logs.byte_count + excluded.byte_count,
             first_created = CASE WHEN dataset_logs.first_created IS NULL OR excluded.first_created < dataset_logs.first_created
                 THEN excluded.first_created ELSE dataset_logs.first_created END,
             last_transfer = CASE WHEN dataset_logs.last_transfer IS NULL OR excluded.last_transfer > dataset_logs.last_transfer
                 THEN excluded.last_transfer ELSE dataset_logs.last_transfer END,
             transfer_count = dataset_logs.transfer_count + 1`,
		name, files, bytes, formatTime(createdAt), formatTime(transferredAt))
	if err != nil {
		return fmt.Errorf("record dataset transfer: %w", err)
	}
	return nil
}

// DatasetStats returns accumulated totals for one dataset.
func (s *Store) DatasetStats(ctx context.Context, name string) (DatasetStats, error) {
	var (
		stats         DatasetStats
		first, latest sql.NullString
	)
	err := s.queryRow(ctx,
		`SELECT name, file_count, byte_count, first_created, last_transfer, transfer_count FROM dataset_logs WHERE name = ?`,
		name).Scan(&stats.Name, &stats.FileCount, &stats.ByteCount, &first, &latest, &stats.TransferCount)
	if errors.Is(err, sql.ErrNoRows) {
		return DatasetStats{}, fmt.Errorf("%w: dataset %s", ErrNotFound, name)
	}
	if err != nil {
		return DatasetStats{}, fmt.Errorf("dataset stats: %w", err)
	}
	if t := parseNullableTime(first); t != nil {
		stats.FirstCreated = *t
	}
	if t := parseNullableTime(latest); t != nil {
		stats.LastTransfer = *t
	}
	return stats, nil
}
