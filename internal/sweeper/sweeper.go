// Package sweeper clears the landing area of files whose task is PROCESSED.
package sweeper

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gantrymon/internal/config"
	"gantrymon/internal/fileutil"
	"gantrymon/internal/ledger"
	"gantrymon/internal/logging"
	"gantrymon/internal/pending"
)

const tasksPerCycle = 50

// Ledger is the part of the task ledger the sweeper uses.
type Ledger interface {
	ListUncleaned(ctx context.Context, limit int) ([]*ledger.Task, error)
	MarkCleaned(ctx context.Context, id string) error
}

// Result contains the outcome of one sweep.
type Result struct {
	Tasks   int
	Moved   int
	Deleted int
	Missing int
	Pruned  int
	Errors  []CleanupError
}

// CleanupError pairs a path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// Sweeper moves or deletes landed files of processed tasks.
type Sweeper struct {
	ledger   Ledger
	incoming string
	queueDir string
	delete   bool
	prune    bool
	logger   *slog.Logger
}

// New builds a Sweeper from the cleanup settings.
func New(cfg *config.Config, store Ledger, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Sweeper{
		ledger:   store,
		incoming: filepath.Clean(cfg.Scanner.IncomingDir),
		queueDir: strings.TrimSpace(cfg.Cleanup.DeletionQueueDir),
		delete:   cfg.Cleanup.Delete,
		prune:    cfg.Cleanup.PruneEmptyDirs,
		logger:   logging.NewComponentLogger(logger, "sweeper"),
	}
}

// Cycle handles up to one page of uncleaned PROCESSED tasks. A task is
// marked cleaned only when every one of its files is gone from the
// landing area.
func (s *Sweeper) Cycle(ctx context.Context) (Result, error) {
	var res Result
	if !s.delete && s.queueDir == "" {
		return res, nil
	}
	tasks, err := s.ledger.ListUncleaned(ctx, tasksPerCycle)
	if err != nil {
		return res, err
	}

	touched := make(map[string]struct{})
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		failures := len(res.Errors)
		for _, key := range task.Contents.Keys() {
			for _, rec := range task.Contents[key].Files {
				s.sweepFile(rec, touched, &res)
			}
		}
		if len(res.Errors) > failures {
			continue
		}
		if err := s.ledger.MarkCleaned(ctx, task.ID); err != nil {
			res.Errors = append(res.Errors, CleanupError{Path: task.ID, Error: err})
			continue
		}
		res.Tasks++
	}

	if s.prune {
		s.pruneEmpty(touched, &res)
	}
	if res.Tasks > 0 || len(res.Errors) > 0 {
		s.logger.Info("landing area swept",
			logging.Int("tasks", res.Tasks),
			logging.Int("moved", res.Moved),
			logging.Int("deleted", res.Deleted),
			logging.Int("missing", res.Missing),
			logging.Int("pruned_dirs", res.Pruned),
			logging.Int("errors", len(res.Errors)),
			logging.String(logging.FieldEventType, "landing_swept"))
	}
	return res, nil
}

func (s *Sweeper) sweepFile(rec *pending.FileRecord, touched map[string]struct{}, res *Result) {
	if rec == nil || rec.SourcePath == "" {
		return
	}
	src := filepath.Clean(rec.SourcePath)
	if !s.inside(src) {
		s.logger.Debug("file outside landing area left alone", logging.String("path", src))
		return
	}
	if _, err := os.Lstat(src); errors.Is(err, fs.ErrNotExist) {
		res.Missing++
		return
	}

	var err error
	if s.delete {
		err = os.Remove(src)
	} else {
		rel, relErr := filepath.Rel(s.incoming, src)
		if relErr != nil {
			err = relErr
		} else {
			err = fileutil.MoveFile(src, filepath.Join(s.queueDir, rel))
		}
	}
	if err != nil {
		res.Errors = append(res.Errors, CleanupError{Path: src, Error: err})
		s.logger.Warn("failed to clear landed file",
			logging.String("path", src),
			logging.Error(err),
			logging.String(logging.FieldEventType, "sweep_failed"),
			logging.String(logging.FieldErrorHint, "check incoming_dir and deletion_queue_dir permissions"),
			logging.String(logging.FieldImpact, "task stays uncleaned and is retried next sweep"))
		return
	}
	if s.delete {
		res.Deleted++
	} else {
		res.Moved++
	}
	touched[filepath.Dir(src)] = struct{}{}
}

func (s *Sweeper) inside(p string) bool {
	return p != s.incoming && strings.HasPrefix(p, s.incoming+string(os.PathSeparator))
}

// pruneEmpty removes emptied directories bottom-up, stopping at the
// landing root.
func (s *Sweeper) pruneEmpty(touched map[string]struct{}, res *Result) {
	dirs := make([]string, 0, len(touched))
	for dir := range touched {
		dirs = append(dirs, dir)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))
	for _, dir := range dirs {
		for s.inside(dir) {
			entries, err := os.ReadDir(dir)
			if err != nil || len(entries) > 0 {
				break
			}
			if err := os.Remove(dir); err != nil {
				break
			}
			res.Pruned++
			dir = filepath.Dir(dir)
		}
	}
}
