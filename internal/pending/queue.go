package pending

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gantrymon/internal/fileutil"
	"gantrymon/internal/logging"
)

// Submission is one producer's contribution to a dataset.
type Submission struct {
	Dataset  string
	SpaceID  string
	Metadata map[string]any
	Files    []*FileRecord
}

// Queue is the persisted set of manifests awaiting submission.
type Queue struct {
	path   string
	logger *slog.Logger

	mu    sync.Mutex
	items Manifests
}

// Open loads the queue from path, falling back to the .backup copy when the
// primary file is missing. A corrupt document is returned as an error
// because silently starting empty would lose files.
func Open(path string, logger *slog.Logger) (*Queue, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	q := &Queue{
		path:   path,
		logger: logging.NewComponentLogger(logger, "pending"),
		items:  make(Manifests),
	}
	if path == "" {
		return q, nil
	}
	found, err := fileutil.ReadJSON(path, &q.items)
	if err != nil {
		return nil, fmt.Errorf("load pending queue: %w", err)
	}
	if q.items == nil {
		q.items = make(Manifests)
	}
	for _, m := range q.items {
		if m != nil && m.Files == nil {
			m.Files = make(map[string]*FileRecord)
		}
	}
	if found {
		q.logger.Info("pending queue restored",
			logging.Int("datasets", len(q.items)),
			logging.Int("files", q.items.FileCount()))
	}
	return q, nil
}

// Add deep-merges submissions and persists the result. It returns the
// number of file records that were not already queued. metadata.json
// records are read here, outside the lock, and their content becomes the
// dataset metadata; unreadable documents are annotated on the record.
func (q *Queue) Add(subs ...Submission) (int, error) {
	incoming := make(Manifests)
	for _, sub := range subs {
		key := strings.TrimSpace(sub.Dataset)
		if key == "" {
			continue
		}
		m, ok := incoming[key]
		if !ok {
			m = NewManifest()
			incoming[key] = m
		}
		if sub.SpaceID != "" {
			m.SpaceID = sub.SpaceID
		}
		if len(sub.Metadata) > 0 {
			m.SetMetadata(sub.Metadata)
		}
		for _, rec := range sub.Files {
			if rec == nil {
				continue
			}
			rec = rec.Clone()
			if rec.IsMetadata {
				if md, err := loadMetadataDocument(rec.SourcePath); err != nil {
					rec.Error = "Failed to load JSON"
					logging.WarnWithContext(q.logger, "dataset metadata unreadable", "metadata_unreadable",
						logging.String(logging.FieldDataset, key),
						logging.String("path", rec.SourcePath),
						logging.Error(err),
						logging.String(logging.FieldErrorHint, "fix the metadata.json and re-inject it"),
						logging.String(logging.FieldImpact, "dataset is transferred without metadata"))
				} else {
					m.SetMetadata(md)
				}
			}
			m.Put(rec)
		}
	}
	if len(incoming) == 0 {
		return 0, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	added := 0
	for key, m := range incoming {
		if current, ok := q.items[key]; ok {
			for fk := range m.Files {
				if _, exists := current.Files[fk]; !exists {
					added++
				}
			}
			continue
		}
		added += len(m.Files)
	}
	q.items.Merge(incoming)
	if err := q.persistLocked(); err != nil {
		return added, err
	}
	return added, nil
}

// Snapshot returns a deep copy safe to iterate while producers keep adding.
func (q *Queue) Snapshot() Manifests {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Clone()
}

// Drain removes exactly the files and metadata revisions present in batch.
// Files re-added after the snapshot under the same key are removed as well;
// they describe the same source path and are already part of the batch.
func (q *Queue) Drain(batch Manifests) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for key, sent := range batch {
		current, ok := q.items[key]
		if !ok || sent == nil {
			continue
		}
		for fk := range sent.Files {
			delete(current.Files, fk)
		}
		if len(sent.Metadata) > 0 && current.MetadataRevision == sent.MetadataRevision {
			current.Metadata = nil
		}
		if current.Empty() {
			delete(q.items, key)
		}
	}
	return q.persistLocked()
}

// Cleanup removes manifests left with no files and no metadata.
func (q *Queue) Cleanup() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for key, m := range q.items {
		if m.Empty() {
			delete(q.items, key)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	q.logger.Debug("removed empty manifests", logging.Int("count", removed))
	return removed, q.persistLocked()
}

// FileCount returns the number of queued file records.
func (q *Queue) FileCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.FileCount()
}

// DatasetCount returns the number of queued manifests.
func (q *Queue) DatasetCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) persistLocked() error {
	if q.path == "" {
		return nil
	}
	if err := fileutil.WriteJSON(q.path, q.items, 0o644); err != nil {
		return fmt.Errorf("persist pending queue: %w", err)
	}
	return nil
}

func loadMetadataDocument(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var md map[string]any
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, err
	}
	return md, nil
}
