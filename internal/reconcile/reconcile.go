package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"gantrymon/internal/config"
	"gantrymon/internal/downstream"
	"gantrymon/internal/ingest"
	"gantrymon/internal/ledger"
	"gantrymon/internal/logging"
	"gantrymon/internal/notifications"
	"gantrymon/internal/pending"
	"gantrymon/internal/transfer"
)

const exhaustedNote = "retry budget exhausted"

// Ledger is the part of the task ledger the loop drives.
type Ledger interface {
	List(ctx context.Context, statuses ...ledger.Status) ([]*ledger.Task, error)
	Transition(ctx context.Context, id string, from, to ledger.Status, change ledger.Change) error
	Claim(ctx context.Context, status ledger.Status, filter ledger.ClaimFilter) (*ledger.Task, error)
	Release(ctx context.Context, id string) error
	UpdateContents(ctx context.Context, id string, contents pending.Manifests) error
	RecordDatasetTransfer(ctx context.Context, name string, files, bytes int64, createdAt, transferredAt time.Time) error
}

// Announcer tells the downstream service about tasks.
type Announcer interface {
	NotifyTask(ctx context.Context, notice downstream.TaskNotice) error
}

// Ingester makes the downstream store reflect a completed task.
type Ingester interface {
	Ingest(ctx context.Context, task *ledger.Task) (ingest.Result, error)
}

// Result counts what one cycle changed.
type Result struct {
	Announced int
	Completed int
	Failed    int
	Processed int
	Retried   int
	Exhausted int
}

func (r *Result) add(other Result) {
	r.Announced += other.Announced
	r.Completed += other.Completed
	r.Failed += other.Failed
	r.Processed += other.Processed
	r.Retried += other.Retried
	r.Exhausted += other.Exhausted
}

// Loop reconciles ledger state with the transfer and downstream services.
type Loop struct {
	ledger     Ledger
	service    transfer.Service
	announcer  Announcer
	ingester   Ingester
	alerts     notifications.Service
	maxRetries int
	workers    int
	logger     *slog.Logger
	now        func() time.Time

	mu sync.Mutex
}

// New builds a Loop.
func New(cfg *config.Config, store Ledger, service transfer.Service, announcer Announcer, ingester Ingester, alerts notifications.Service, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = logging.NewNop()
	}
	if alerts == nil {
		alerts = notifications.Noop()
	}
	workers := cfg.Downstream.IngestWorkers
	if workers <= 0 {
		workers = 1
	}
	return &Loop{
		ledger:     store,
		service:    service,
		announcer:  announcer,
		ingester:   ingester,
		alerts:     alerts,
		maxRetries: cfg.Downstream.MaxRetries,
		workers:    workers,
		logger:     logging.NewComponentLogger(logger, "reconcile"),
		now:        time.Now,
	}
}

// Cycle runs every phase once. Failures of single tasks are logged and
// retried next cycle; only ledger read errors and cancellation end the
// cycle early.
func (l *Loop) Cycle(ctx context.Context) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var res Result
	attempted := make(map[string]struct{})
	phases := []struct {
		name string
		run  func(context.Context) (Result, error)
	}{
		{"announce", l.announce},
		{"poll", l.poll},
		{"exhaust", l.exhaust},
		{"ingest", func(ctx context.Context) (Result, error) {
			return l.drain(ctx, ledger.StatusNotified, ledger.ClaimFilter{}, attempted)
		}},
		{"redrive", func(ctx context.Context) (Result, error) {
			return l.drain(ctx, ledger.StatusRetry, ledger.ClaimFilter{NewestFirst: true, MaxRetries: l.maxRetries}, attempted)
		}},
	}
	for _, phase := range phases {
		out, err := phase.run(ctx)
		res.add(out)
		if err != nil {
			if ctx.Err() == nil {
				logging.ErrorWithContext(l.logger, "reconcile phase failed", "reconcile_phase_failed",
					logging.String("phase", phase.name),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check ledger connectivity"))
			}
			return res, err
		}
	}
	return res, nil
}

// announce notifies the downstream service of new and completed tasks.
func (l *Loop) announce(ctx context.Context) (Result, error) {
	var res Result
	tasks, err := l.ledger.List(ctx, ledger.StatusCreated, ledger.StatusSucceeded)
	if err != nil {
		return res, err
	}
	for _, task := range tasks {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		logger := l.logger.With(logging.String(logging.FieldTaskID, task.ID))
		notice := downstream.TaskNotice{TaskID: task.ID, User: task.SubmittingUser, Contents: task.Contents}
		if err := l.announcer.NotifyTask(ctx, notice); err != nil {
			logging.WarnWithContext(logger, "task notification failed", "notify_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check downstream.notify_url"),
				logging.String(logging.FieldImpact, "notification retried next cycle"))
			continue
		}
		next := ledger.StatusInProgress
		if task.Status == ledger.StatusSucceeded {
			next = ledger.StatusNotified
		}
		if l.move(ctx, logger, task, task.Status, next, ledger.Change{Note: "downstream notified"}) {
			res.Announced++
		}
	}
	return res, nil
}

// poll maps transfer-service task state onto the ledger.
func (l *Loop) poll(ctx context.Context) (Result, error) {
	var res Result
	tasks, err := l.ledger.List(ctx, ledger.StatusCreated, ledger.StatusInProgress)
	if err != nil {
		return res, err
	}
	for _, task := range tasks {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		logger := l.logger.With(logging.String(logging.FieldTaskID, task.ID))
		info, err := transfer.WithFreshCredentials(ctx, l.service, func() (transfer.TaskInfo, error) {
			return l.service.TaskStatus(ctx, task.ID)
		})
		if err != nil {
			logging.WarnWithContext(logger, "transfer status unavailable", "transfer_status_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check transfer service reachability and credentials"),
				logging.String(logging.FieldImpact, "status polled again next cycle"))
			continue
		}

		switch info.State {
		case transfer.StateSucceeded:
			if l.complete(ctx, logger, task, info) {
				res.Completed++
			}
		case transfer.StateFailed:
			if l.fail(ctx, logger, task, task.Status, failureText(info), nil) {
				res.Failed++
			}
		case transfer.StateNotFound:
			if l.fail(ctx, logger, task, task.Status, "transfer task not found", nil) {
				res.Failed++
			}
		case transfer.StateInactive:
			logging.WarnWithContext(logger, "transfer task inactive", "transfer_inactive",
				logging.String("nice_status", info.NiceStatus),
				logging.String(logging.FieldErrorHint, "reactivate the transfer endpoints"),
				logging.String(logging.FieldImpact, "files are not moving until the endpoint is reactivated"))
		default:
			logger.Debug("transfer task still running",
				logging.Int("files", info.Files),
				logging.Int("files_transferred", info.FilesTransferred))
		}
	}
	return res, nil
}

func failureText(info transfer.TaskInfo) string {
	if info.NiceStatus != "" {
		return "transfer failed: " + info.NiceStatus
	}
	return "transfer failed"
}

func (l *Loop) complete(ctx context.Context, logger *slog.Logger, task *ledger.Task, info transfer.TaskInfo) bool {
	completedAt := l.now().UTC()
	if info.CompletedAt != nil {
		completedAt = info.CompletedAt.UTC()
	}
	files := int64(info.FilesTransferred)
	if files == 0 {
		files = int64(info.Files)
	}
	change := ledger.Change{
		CompletedAt: &completedAt,
		FileCount:   &files,
		ByteCount:   ledger.Ptr(info.BytesTransferred),
		Note:        "transfer succeeded",
	}
	next := ledger.StatusSucceeded
	if task.Status == ledger.StatusInProgress {
		next = ledger.StatusNotified
	}
	if !l.move(ctx, logger, task, task.Status, next, change) {
		return false
	}
	l.recordDatasets(ctx, logger, task, info.BytesTransferred, completedAt)
	logger.Info("transfer task completed",
		logging.Int64("files", files),
		logging.Int64("bytes", info.BytesTransferred),
		logging.String(logging.FieldStatus, string(next)),
		logging.String(logging.FieldEventType, "transfer_completed"))
	return true
}

// recordDatasets spreads the task byte count over its datasets by file
// share.
func (l *Loop) recordDatasets(ctx context.Context, logger *slog.Logger, task *ledger.Task, bytes int64, transferredAt time.Time) {
	total := int64(task.Contents.FileCount())
	for _, key := range task.Contents.Keys() {
		files := int64(len(task.Contents[key].Files))
		var share int64
		if total > 0 {
			share = bytes * files / total
		}
		if err := l.ledger.RecordDatasetTransfer(ctx, key, files, share, task.CreatedAt, transferredAt); err != nil {
			logger.Warn("dataset statistics not recorded",
				logging.String(logging.FieldDataset, key),
				logging.Error(err),
				logging.String(logging.FieldEventType, "dataset_stats_failed"),
				logging.String(logging.FieldErrorHint, "statistics only; the task itself is unaffected"),
				logging.String(logging.FieldImpact, "dataset totals undercount this transfer"))
		}
	}
}

// exhaust fails RETRY tasks whose retry counter reached the budget.
func (l *Loop) exhaust(ctx context.Context) (Result, error) {
	var res Result
	tasks, err := l.ledger.List(ctx, ledger.StatusRetry)
	if err != nil {
		return res, err
	}
	for _, task := range tasks {
		if task.RetryCount < l.maxRetries {
			continue
		}
		logger := l.logger.With(logging.String(logging.FieldTaskID, task.ID))
		reason := exhaustedNote
		if task.LastError != "" {
			reason += ": " + task.LastError
		}
		if !l.move(ctx, logger, task, ledger.StatusRetry, ledger.StatusFailed, ledger.Change{LastError: &reason, Note: exhaustedNote}) {
			continue
		}
		res.Exhausted++
		logging.ErrorWithContext(logger, "task retry budget exhausted", "retry_exhausted",
			logging.Int("retry_count", task.RetryCount),
			logging.String("last_error", task.LastError),
			logging.String(logging.FieldErrorHint, "inspect the task annotations and re-inject its files once fixed"),
			logging.Alert("task_failed"))
		l.publish(ctx, notifications.EventRetryExhausted, task, reason)
	}
	return res, nil
}

// drain claims and ingests tasks in status with up to l.workers claims in
// flight. Tasks in attempted are skipped, so a task is ingested at most
// once per cycle.
func (l *Loop) drain(ctx context.Context, status ledger.Status, filter ledger.ClaimFilter, attempted map[string]struct{}) (Result, error) {
	var (
		mu  sync.Mutex
		res Result
	)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < l.workers; i++ {
		g.Go(func() error {
			for gctx.Err() == nil {
				mu.Lock()
				scoped := filter
				for id := range attempted {
					scoped.Exclude = append(scoped.Exclude, id)
				}
				mu.Unlock()

				task, err := l.ledger.Claim(gctx, status, scoped)
				if errors.Is(err, ledger.ErrNothingToClaim) {
					return nil
				}
				if err != nil {
					return err
				}
				mu.Lock()
				attempted[task.ID] = struct{}{}
				mu.Unlock()
				out, err := l.ingestClaimed(gctx, task)
				mu.Lock()
				res.add(out)
				mu.Unlock()
				if err != nil {
					return err
				}
			}
			return gctx.Err()
		})
	}
	err := g.Wait()
	return res, err
}

// ingestClaimed runs the notifier on a claimed task and records the
// outcome. The claim is always resolved: by a transition, or by a release
// when the attempt could not finish.
func (l *Loop) ingestClaimed(ctx context.Context, task *ledger.Task) (Result, error) {
	var res Result
	from := task.ClaimedFrom
	logger := l.logger.With(
		logging.String(logging.FieldTaskID, task.ID),
		logging.String(logging.FieldStatus, string(from)),
		logging.Int("retry_count", task.RetryCount))

	out, err := l.ingester.Ingest(ctx, task)
	if err != nil {
		// Keep the ids obtained so far; the store dedupes the rest on the
		// next attempt either way.
		bg := context.WithoutCancel(ctx)
		if out.Contents != nil {
			if uerr := l.ledger.UpdateContents(bg, task.ID, out.Contents); uerr != nil {
				logging.WarnWithContext(logger, "partial ingest results not saved", "contents_update_failed",
					logging.Error(uerr),
					logging.String(logging.FieldImpact, "the next attempt rebuilds ids from the downstream listing"))
			}
		}
		l.release(bg, logger, task.ID)
		return res, err
	}

	change := ledger.Change{Contents: out.Contents}
	switch out.Outcome {
	case ingest.OutcomeOK:
		change.LastError = ledger.Ptr("")
		change.Note = "ingested"
		if l.move(ctx, logger, task, ledger.StatusPending, ledger.StatusProcessed, change) {
			res.Processed++
			logger.Info("task ingested",
				logging.Int("uploaded", out.Uploaded),
				logging.Int("already_present", out.Skipped),
				logging.Int("metadata_attached", out.MetadataAttached),
				logging.String(logging.FieldEventType, "task_processed"))
		}
	case ingest.OutcomeRetry:
		summary := out.Summary()
		change.LastError = &summary
		change.IncrementRetry = true
		change.Note = "ingestion deferred"
		if l.move(ctx, logger, task, ledger.StatusPending, ledger.StatusRetry, change) {
			res.Retried++
			logging.WarnWithContext(logger, "ingestion incomplete; will retry", "ingest_retry",
				logging.String("problems", summary),
				logging.String(logging.FieldErrorHint, "downstream returned transient errors; see task annotations"),
				logging.String(logging.FieldImpact, "task re-driven next cycle"))
		}
	default:
		summary := out.Summary()
		if l.fail(ctx, logger, task, ledger.StatusPending, summary, out.Contents) {
			res.Failed++
		}
	}
	return res, nil
}

// move applies a transition and logs why it did not happen. A claimed
// task whose transition fails is released so it is not stranded.
func (l *Loop) move(ctx context.Context, logger *slog.Logger, task *ledger.Task, from, to ledger.Status, change ledger.Change) bool {
	err := l.ledger.Transition(ctx, task.ID, from, to, change)
	if err == nil {
		return true
	}
	if errors.Is(err, ledger.ErrInvalidTransition) {
		logger.Debug("task changed concurrently; skipping",
			logging.String("to", string(to)),
			logging.Error(err))
	} else {
		logging.WarnWithContext(logger, "task transition failed", "ledger_transition_failed",
			logging.String("to", string(to)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check ledger connectivity"),
			logging.String(logging.FieldImpact, "task retried next cycle"))
	}
	if from == ledger.StatusPending {
		l.release(context.WithoutCancel(ctx), logger, task.ID)
	}
	return false
}

func (l *Loop) release(ctx context.Context, logger *slog.Logger, id string) {
	if err := l.ledger.Release(ctx, id); err != nil {
		logging.WarnWithContext(logger, "claim release failed", "claim_release_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "stale claims are reclaimed at the next daemon start"),
			logging.String(logging.FieldImpact, "task stays claimed until then"))
	}
}

func (l *Loop) fail(ctx context.Context, logger *slog.Logger, task *ledger.Task, from ledger.Status, reason string, contents pending.Manifests) bool {
	change := ledger.Change{LastError: &reason, Contents: contents, Note: reason}
	if !l.move(ctx, logger, task, from, ledger.StatusFailed, change) {
		return false
	}
	logging.ErrorWithContext(logger, "transfer task failed", "task_failed",
		logging.String("reason", reason),
		logging.String(logging.FieldErrorHint, "inspect the task with `gantrymon tasks show`"),
		logging.Alert("task_failed"))
	l.publish(ctx, notifications.EventTaskFailed, task, reason)
	return true
}

func (l *Loop) publish(ctx context.Context, event notifications.Event, task *ledger.Task, reason string) {
	payload := notifications.Payload{
		"taskID":   task.ID,
		"reason":   reason,
		"attempts": task.RetryCount,
	}
	if err := l.alerts.Publish(ctx, event, payload); err != nil {
		l.logger.Debug("alert not delivered", logging.Error(err))
	}
}
