package submitter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"gantrymon/internal/config"
	"gantrymon/internal/ledger"
	"gantrymon/internal/logging"
	"gantrymon/internal/pending"
	"gantrymon/internal/transfer"
)

// Queue is the part of the pending queue the submitter consumes.
type Queue interface {
	Snapshot() pending.Manifests
	Drain(batch pending.Manifests) error
}

// Ledger is the part of the task ledger the submitter writes.
type Ledger interface {
	ActiveCount(ctx context.Context) (int, error)
	Create(ctx context.Context, task *ledger.Task) (bool, error)
}

// Result summarizes one submission cycle.
type Result struct {
	TaskIDs   []string
	Files     int
	Recovered bool
	// Saturated is set when the cycle stopped because max_active_tasks
	// tasks were already running.
	Saturated bool
}

// Submitter batches queued files into transfer tasks.
type Submitter struct {
	queue        Queue
	ledger       Ledger
	service      transfer.Service
	rewriter     *Rewriter
	journalPath  string
	transferRoot string
	user         string
	maxActive    int
	maxFiles     int
	logger       *slog.Logger
	now          func() time.Time

	mu sync.Mutex
}

// New builds a Submitter.
func New(cfg *config.Config, queue Queue, store Ledger, service transfer.Service, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Submitter{
		queue:        queue,
		ledger:       store,
		service:      service,
		rewriter:     NewRewriter(cfg.Transfer),
		journalPath:  cfg.InflightPath(),
		transferRoot: strings.TrimRight(cfg.Scanner.TransferRoot, "/"),
		user:         cfg.Transfer.Username,
		maxActive:    cfg.Transfer.MaxActiveTasks,
		maxFiles:     cfg.Transfer.MaxFilesPerBatch,
		logger:       logging.NewComponentLogger(logger, "submitter"),
		now:          time.Now,
	}
}

// Cycle replays any in-flight batch, then submits new batches until the
// queue is empty or max_active_tasks is reached. A failed submission
// leaves the queue untouched and ends the cycle.
func (s *Submitter) Cycle(ctx context.Context) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res Result
	j, err := loadJournal(s.journalPath)
	if err != nil {
		return res, err
	}
	if j != nil {
		taskID, err := s.complete(ctx, j, true)
		if err != nil {
			return res, err
		}
		res.Recovered = true
		res.TaskIDs = append(res.TaskIDs, taskID)
		res.Files += len(j.Items)
	}

	for ctx.Err() == nil {
		active, err := s.ledger.ActiveCount(ctx)
		if err != nil {
			return res, err
		}
		if active >= s.maxActive {
			res.Saturated = true
			s.logger.Debug("transfer capacity reached",
				logging.Int("active_tasks", active),
				logging.Int("max_active_tasks", s.maxActive))
			break
		}

		batch, items := s.buildBatch(s.queue.Snapshot(), s.maxFiles)
		if len(items) == 0 {
			break
		}
		submissionID, err := transfer.WithFreshCredentials(ctx, s.service, func() (string, error) {
			return s.service.SubmissionID(ctx)
		})
		if err != nil {
			return res, s.deferred("request submission id", err)
		}
		j := &journal{
			SubmissionID: submissionID,
			Label:        s.label(batch),
			CreatedAt:    s.now().UTC(),
			Contents:     batch,
			Items:        items,
		}
		if err := saveJournal(s.journalPath, j); err != nil {
			return res, err
		}
		taskID, err := s.complete(ctx, j, false)
		if err != nil {
			return res, err
		}
		res.TaskIDs = append(res.TaskIDs, taskID)
		res.Files += len(items)
	}
	return res, ctx.Err()
}

// complete submits a journaled batch, records the task and drains the
// queue. It is safe to call again for the same journal after a crash at
// any step.
func (s *Submitter) complete(ctx context.Context, j *journal, replay bool) (string, error) {
	logger := s.logger.With(logging.String("submission_id", j.SubmissionID))
	taskID, err := transfer.WithFreshCredentials(ctx, s.service, func() (string, error) {
		return s.service.Submit(ctx, transfer.SubmitRequest{
			SubmissionID: j.SubmissionID,
			Label:        j.Label,
			Items:        j.Items,
		})
	})
	if err != nil {
		if permanent(err) {
			// Refused outright: the files are still queued and the next
			// cycle builds a fresh batch under a new id.
			s.dropJournal(logger)
		}
		return "", s.deferred("submit transfer", err)
	}

	task := &ledger.Task{
		ID:             taskID,
		Status:         ledger.StatusCreated,
		CreatedAt:      j.CreatedAt,
		FileCount:      int64(len(j.Items)),
		SubmittingUser: s.user,
		SubmissionID:   j.SubmissionID,
		Contents:       j.Contents,
	}
	inserted, err := s.ledger.Create(ctx, task)
	if err != nil {
		return "", fmt.Errorf("record task %s: %w", taskID, err)
	}
	if err := s.queue.Drain(j.Contents); err != nil {
		return "", fmt.Errorf("drain submitted files: %w", err)
	}
	if err := clearJournal(s.journalPath); err != nil {
		return "", err
	}

	logger.Info("transfer task submitted",
		logging.String(logging.FieldTaskID, taskID),
		logging.Int("files", len(j.Items)),
		logging.Int("datasets", len(j.Contents)),
		logging.Bool("replayed", replay),
		logging.Bool("new_task", inserted),
		logging.String(logging.FieldEventType, "task_submitted"))
	return taskID, nil
}

func (s *Submitter) dropJournal(logger *slog.Logger) {
	if err := clearJournal(s.journalPath); err != nil {
		logging.WarnWithContext(logger, "in-flight journal not cleared", "journal_clear_failed",
			logging.String("path", s.journalPath),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the journal file by hand"),
			logging.String(logging.FieldImpact, "the rejected batch is replayed on every submit cycle"))
	}
}

func (s *Submitter) deferred(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	logging.WarnWithContext(s.logger, "transfer submission deferred", "submit_failed",
		logging.String("operation", op),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check transfer.base_url, credentials and endpoint activation"),
		logging.String(logging.FieldImpact, "queued files wait for the next submit cycle"))
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Submitter) label(batch pending.Manifests) string {
	keys := batch.Keys()
	label := "gantrymon " + s.now().UTC().Format("2006-01-02 15:04:05")
	if len(keys) > 0 {
		label += " " + keys[0]
		if len(keys) > 1 {
			label += fmt.Sprintf(" +%d", len(keys)-1)
		}
	}
	return sanitizeLabel(label)
}

// sanitizeLabel keeps the characters transfer labels accept.
func sanitizeLabel(label string) string {
	var b strings.Builder
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case strings.ContainsRune(" -_,+:", r):
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if len(out) > 128 {
		out = out[:128]
	}
	return out
}

func permanent(err error) bool {
	var statusErr *transfer.StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	return !statusErr.Retryable() && !errors.Is(err, transfer.ErrUnauthorized)
}
