package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"gantrymon/internal/api"
	"gantrymon/internal/config"
	"gantrymon/internal/fileutil"
	"gantrymon/internal/logging"
	"gantrymon/internal/pending"
	"gantrymon/internal/workflow"
)

// Worker names registered by daemonrun.
const (
	WorkerScanner     = "scanner"
	WorkerSubmitter   = "submitter"
	WorkerReconcile   = "reconcile"
	WorkerCredentials = "credentials"
	WorkerSweeper     = "sweeper"
	WorkerMaintenance = "maintenance"
)

// Ledger is the task ledger as the daemon uses it.
type Ledger interface {
	api.TaskStore
	ActiveCount(ctx context.Context) (int, error)
	Driver() string
}

// Queue is the pending queue as the daemon uses it.
type Queue interface {
	Add(subs ...pending.Submission) (int, error)
	FileCount() int
	DatasetCount() int
}

// ResumePoints reports the scanner's last consumed log line per source.
type ResumePoints interface {
	LastLines() map[string]string
}

// Runner is the worker scheduler.
type Runner interface {
	Start(ctx context.Context) error
	Stop()
	Status() workflow.StatusSummary
	Trigger(name string) bool
}

// Deps holds the components the daemon coordinates.
type Deps struct {
	Ledger  Ledger
	Queue   Queue
	Scanner ResumePoints
	Runner  Runner
	// BeforeStart runs once the lock is held and before any worker starts.
	BeforeStart func(ctx context.Context) error
}

// Daemon enforces single-instance execution and serves the HTTP surface.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	deps   Deps
	tasks  *api.TaskService
	api    *apiServer

	lockPath string
	lock     *flock.Flock

	running   atomic.Bool
	startedAt atomic.Pointer[time.Time]
	cancel    context.CancelFunc
}

// New constructs a daemon around initialized components.
func New(cfg *config.Config, deps Deps, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || deps.Ledger == nil || deps.Queue == nil || deps.Runner == nil {
		return nil, errors.New("daemon requires config, ledger, queue, and runner")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		deps:     deps,
		tasks:    api.NewTaskService(deps.Ledger),
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the lock, launches the workers and opens the API listener.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another gantrymon daemon holds %s", d.lockPath)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if d.deps.BeforeStart != nil {
		if err := d.deps.BeforeStart(runCtx); err != nil {
			cancel()
			_ = d.lock.Unlock()
			return fmt.Errorf("prepare daemon: %w", err)
		}
	}
	if err := d.deps.Runner.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start workers: %w", err)
	}
	if err := d.api.start(runCtx); err != nil {
		d.deps.Runner.Stop()
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	d.cancel = cancel
	now := time.Now()
	d.startedAt.Store(&now)
	d.running.Store(true)
	d.logger.Info("gantrymon daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.api.address()))
	return nil
}

// Stop closes the API, waits for in-flight worker runs and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	d.api.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.deps.Runner.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("gantrymon daemon stopped")
}

// Status gathers the health payload. Counter failures are logged and leave
// the affected field at zero so health checks still get an answer.
func (d *Daemon) Status(ctx context.Context) api.Status {
	status := api.Status{
		Running:         d.running.Load(),
		PID:             os.Getpid(),
		PendingFiles:    d.deps.Queue.FileCount(),
		PendingDatasets: d.deps.Queue.DatasetCount(),
		LastLogLines:    map[string]string{},
		Workers:         api.FromWorkflowStatus(d.deps.Runner.Status()),
		LedgerDriver:    d.deps.Ledger.Driver(),
		LockFilePath:    d.lockPath,
	}
	if started := d.startedAt.Load(); started != nil && status.Running {
		status.StartedAt = started.UTC().Format(time.RFC3339)
	}
	if d.deps.Scanner != nil {
		status.LastLogLines = d.deps.Scanner.LastLines()
	}
	active, err := d.deps.Ledger.ActiveCount(ctx)
	if err != nil {
		d.logger.Warn("active task count unavailable", logging.Error(err))
	}
	status.ActiveTasks = active
	counts, err := d.tasks.Counts(ctx)
	if err != nil {
		d.logger.Warn("task counts unavailable", logging.Error(err))
		counts = api.TaskCounts(nil)
	}
	status.TaskCounts = counts
	return status
}

// SaveStatus writes the health payload to the status file for tooling that
// cannot reach the API.
func (d *Daemon) SaveStatus(ctx context.Context) error {
	if err := fileutil.WriteJSON(d.cfg.StatusPath(), d.Status(ctx), 0o644); err != nil {
		return fmt.Errorf("write status file: %w", err)
	}
	return nil
}

// Inject queues the files named by req and nudges the submitter.
func (d *Daemon) Inject(ctx context.Context, req api.InjectRequest) (api.InjectResponse, error) {
	subs, err := req.Submissions(d.cfg.Scanner.IncomingDir)
	if err != nil {
		return api.InjectResponse{}, err
	}
	added, err := d.deps.Queue.Add(subs...)
	if err != nil {
		return api.InjectResponse{}, fmt.Errorf("queue injected files: %w", err)
	}
	datasets := make([]string, 0, len(subs))
	for _, sub := range subs {
		datasets = append(datasets, sub.Dataset)
	}
	logging.WithContext(ctx, d.logger).Info("files injected",
		logging.Int("queued", added),
		logging.Int("datasets", len(datasets)))
	if d.running.Load() {
		d.deps.Runner.Trigger(WorkerSubmitter)
	}
	return api.InjectResponse{Queued: added, Datasets: datasets}, nil
}

// Tasks exposes the task service backing the task endpoints.
func (d *Daemon) Tasks() *api.TaskService {
	return d.tasks
}
