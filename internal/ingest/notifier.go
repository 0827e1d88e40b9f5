package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"

	"gantrymon/internal/config"
	"gantrymon/internal/downstream"
	"gantrymon/internal/ledger"
	"gantrymon/internal/logging"
	"gantrymon/internal/pending"
)

// Outcome is the overall result of one ingestion attempt.
type Outcome string

const (
	OutcomeOK    Outcome = "OK"
	OutcomeRetry Outcome = "RETRY"
	OutcomeError Outcome = "ERROR"
)

const (
	annotationNotFound    = "File not found"
	annotationUnconfirmed = "upload not confirmed"
	recycleMarker         = "@Recycle"
	metadataAttachedRef   = "attached to dataset"
)

// Result reports what one attempt did. Contents is the task contents with
// updated ids and annotations and should be written back to the ledger.
type Result struct {
	Outcome          Outcome
	Contents         pending.Manifests
	Uploaded         int
	Skipped          int
	MetadataAttached int
	Problems         []string
}

func (r *Result) retry(format string, args ...any) {
	r.Outcome = OutcomeRetry
	r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
}

func (r *Result) fail(format string, args ...any) {
	if r.Outcome == OutcomeOK {
		r.Outcome = OutcomeError
	}
	r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
}

// Summary joins the recorded problems for the ledger's last_error column.
func (r Result) Summary() string {
	if len(r.Problems) > 5 {
		return strings.Join(r.Problems[:5], "; ") + fmt.Sprintf("; and %d more", len(r.Problems)-5)
	}
	return strings.Join(r.Problems, "; ")
}

// Notifier ingests completed tasks into the downstream store.
type Notifier struct {
	store        downstream.Store
	cache        EntityCache
	primarySpace string
	skip         map[string]struct{}
	exists       func(path string) bool
	logger       *slog.Logger
}

// Option customizes a Notifier.
type Option func(*Notifier)

// WithExistenceCheck overrides how landed files are checked before upload.
func WithExistenceCheck(fn func(path string) bool) Option {
	return func(n *Notifier) {
		if fn != nil {
			n.exists = fn
		}
	}
}

// New builds a Notifier.
func New(cfg *config.Config, store downstream.Store, cache EntityCache, logger *slog.Logger, opts ...Option) *Notifier {
	if logger == nil {
		logger = logging.NewNop()
	}
	skip := make(map[string]struct{}, len(cfg.Scanner.SkipDatasets))
	for _, name := range cfg.Scanner.SkipDatasets {
		skip[name] = struct{}{}
	}
	n := &Notifier{
		store:        store,
		cache:        cache,
		primarySpace: cfg.Downstream.PrimarySpaceID,
		skip:         skip,
		exists:       fileExists,
		logger:       logging.NewComponentLogger(logger, "ingest"),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Ingest processes every dataset in the task. The returned error is
// reserved for cancellation; downstream failures are reported through the
// Outcome and the per-file annotations.
func (n *Notifier) Ingest(ctx context.Context, task *ledger.Task) (Result, error) {
	res := Result{Outcome: OutcomeOK, Contents: task.Contents.Clone()}
	logger := n.logger.With(logging.String(logging.FieldTaskID, task.ID))

	for _, key := range res.Contents.Keys() {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		m := res.Contents[key]
		if m == nil {
			continue
		}
		if _, skipped := n.skip[key]; skipped || strings.Contains(key, recycleMarker) {
			logger.Debug("skipping dataset", logging.String(logging.FieldDataset, key))
			continue
		}
		n.ingestDataset(ctx, logger.With(logging.String(logging.FieldDataset, key)), key, m, &res)
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

func (n *Notifier) ingestDataset(ctx context.Context, logger *slog.Logger, key string, m *pending.Manifest, res *Result) {
	var (
		queued   []*pending.FileRecord
		mdRecord *pending.FileRecord
	)
	for _, fk := range m.SortedKeys() {
		rec := m.Files[fk]
		if rec == nil || rec.ClowderID != "" {
			continue
		}
		if rec.IsMetadata {
			mdRecord = rec
			if rec.Error != "" {
				res.fail("%s: %s", rec.Name, rec.Error)
			}
			continue
		}
		if !n.exists(rec.SourcePath) {
			logger.Warn("landed file missing; not ingesting",
				logging.String("path", rec.SourcePath),
				logging.String(logging.FieldEventType, "ingest_file_missing"),
				logging.String(logging.FieldErrorHint, "file was removed from the landing area before ingestion"),
				logging.String(logging.FieldImpact, "task will not reach PROCESSED"))
			rec.Error = annotationNotFound
			res.fail("%s: %s", rec.Name, annotationNotFound)
			continue
		}
		queued = append(queued, rec)
	}

	wantMetadata := len(m.Metadata) > 0 && !m.MetadataLoaded
	if len(queued) == 0 && !wantMetadata {
		return
	}

	spaceID := m.SpaceID
	if spaceID == "" {
		spaceID = n.primarySpace
	}
	datasetID, err := n.ensureDataset(ctx, key, spaceID)
	if err != nil {
		n.annotateDataset(m, res, "Could not build dataset hierarchy", err)
		logging.WarnWithContext(logger, "dataset hierarchy unavailable", "ingest_hierarchy_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check downstream.base_url and credentials"))
		return
	}
	m.Retry, m.Error = "", ""

	if wantMetadata {
		n.attachMetadata(ctx, logger, datasetID, m, mdRecord, res)
	}
	if len(queued) > 0 {
		n.uploadFiles(ctx, logger, key, datasetID, queued, res)
	}
}

func (n *Notifier) attachMetadata(ctx context.Context, logger *slog.Logger, datasetID string, m *pending.Manifest, mdRecord *pending.FileRecord, res *Result) {
	existing, err := n.store.DatasetMetadata(ctx, datasetID)
	if err != nil {
		n.annotateMetadata(m, mdRecord, res, err)
		return
	}
	for _, record := range existing {
		if downstream.AttachedBy(record, n.store.AgentID()) {
			logger.Debug("metadata already attached")
			markMetadataLoaded(m, mdRecord)
			return
		}
	}
	if err := n.store.AttachDatasetMetadata(ctx, datasetID, m.Metadata); err != nil {
		n.annotateMetadata(m, mdRecord, res, err)
		return
	}
	markMetadataLoaded(m, mdRecord)
	res.MetadataAttached++
	logger.Info("dataset metadata attached", logging.String("dataset_id", datasetID))
}

func markMetadataLoaded(m *pending.Manifest, mdRecord *pending.FileRecord) {
	m.MetadataLoaded = true
	if mdRecord != nil {
		mdRecord.ClowderID = metadataAttachedRef
		mdRecord.ClearAnnotations()
	}
}

func (n *Notifier) uploadFiles(ctx context.Context, logger *slog.Logger, key, datasetID string, queued []*pending.FileRecord, res *Result) {
	stored, err := n.store.ListFiles(ctx, datasetID)
	if err != nil {
		n.forgetDataset(ctx, key, err)
		n.annotateFiles(queued, res, err)
		return
	}
	present := make(map[string]string, len(stored))
	for _, f := range stored {
		present[f.Filepath] = f.ID
	}

	var (
		uploads     []downstream.Upload
		pendingRecs []*pending.FileRecord
	)
	for _, rec := range queued {
		target := archivePath(rec)
		if id, ok := present[target]; ok {
			rec.ClowderID = id
			rec.ClearAnnotations()
			res.Skipped++
			continue
		}
		uploads = append(uploads, downstream.Upload{Path: target, Metadata: rec.Metadata})
		pendingRecs = append(pendingRecs, rec)
	}
	if len(uploads) == 0 {
		return
	}

	uploaded, err := n.store.UploadFiles(ctx, datasetID, uploads)
	if err != nil {
		n.annotateFiles(pendingRecs, res, err)
		logging.WarnWithContext(logger, "file upload failed", "ingest_upload_failed",
			logging.Int("files", len(uploads)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "downstream rejected the upload; see task annotations"))
		return
	}
	matchUploads(pendingRecs, uploaded, res)

	var unconfirmed int
	for _, rec := range pendingRecs {
		if rec.ClowderID != "" {
			continue
		}
		rec.Retry = annotationUnconfirmed
		res.retry("%s: %s", rec.Name, annotationUnconfirmed)
		unconfirmed++
	}
	if unconfirmed > 0 {
		logging.WarnWithContext(logger, "upload not confirmed for some files", "ingest_upload_unconfirmed",
			logging.Int("files", unconfirmed),
			logging.String("dataset_id", datasetID),
			logging.String(logging.FieldImpact, "the next attempt settles them from the dataset listing"))
	}
	logger.Info("files uploaded", logging.Int("files", res.Uploaded), logging.String("dataset_id", datasetID))
}

// matchUploads assigns returned ids by archive path, or by file name when
// that name is unique among the uploaded records.
func matchUploads(recs []*pending.FileRecord, uploaded []downstream.UploadedFile, res *Result) {
	byPath := make(map[string]*pending.FileRecord, len(recs))
	byName := make(map[string][]*pending.FileRecord, len(recs))
	for _, rec := range recs {
		target := archivePath(rec)
		byPath[target] = rec
		name := path.Base(target)
		byName[name] = append(byName[name], rec)
	}
	for _, up := range uploaded {
		if up.ID == "" {
			continue
		}
		var rec *pending.FileRecord
		switch {
		case up.Path != "":
			rec = byPath[up.Path]
		case len(byName[up.Name]) == 1:
			rec = byName[up.Name][0]
		}
		if rec == nil || rec.ClowderID != "" {
			continue
		}
		rec.ClowderID = up.ID
		rec.ClearAnnotations()
		res.Uploaded++
	}
}

// archivePath is where the downstream store sees the file.
func archivePath(rec *pending.FileRecord) string {
	if rec.DestPath != "" {
		return rec.DestPath
	}
	return rec.SourcePath
}

func (n *Notifier) annotateDataset(m *pending.Manifest, res *Result, prefix string, err error) {
	text := prefix + ": " + errorText(err)
	if downstream.IsRetryable(err) {
		m.Retry = text
		res.retry("%s", text)
		return
	}
	m.Error = text
	res.fail("%s", text)
}

func (n *Notifier) annotateMetadata(m *pending.Manifest, mdRecord *pending.FileRecord, res *Result, err error) {
	text := errorText(err)
	retryable := downstream.IsRetryable(err)
	switch {
	case mdRecord != nil && retryable:
		mdRecord.Retry = text
	case mdRecord != nil:
		mdRecord.Error = text
	case retryable:
		m.Retry = text
	default:
		m.Error = text
	}
	if retryable {
		res.retry("metadata: %s", text)
		return
	}
	res.fail("metadata: %s", text)
}

func (n *Notifier) annotateFiles(recs []*pending.FileRecord, res *Result, err error) {
	text := errorText(err)
	retryable := downstream.IsRetryable(err)
	for _, rec := range recs {
		if retryable {
			rec.Retry = text
		} else {
			rec.Error = text
		}
	}
	if retryable {
		res.retry("upload: %s", text)
		return
	}
	res.fail("upload: %s", text)
}

func errorText(err error) string {
	var statusErr *downstream.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Annotation()
	}
	return err.Error()
}
