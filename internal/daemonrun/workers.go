package daemonrun

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gantrymon/internal/config"
	"gantrymon/internal/daemon"
	"gantrymon/internal/ledger"
	"gantrymon/internal/logging"
	"gantrymon/internal/pending"
	"gantrymon/internal/reconcile"
	"gantrymon/internal/scanner"
	"gantrymon/internal/submitter"
	"gantrymon/internal/sweeper"
	"gantrymon/internal/transfer"
	"gantrymon/internal/workflow"
)

const (
	maintenanceInterval = time.Hour
	// A shared PostgreSQL ledger may hold live claims of other daemons;
	// only claims idle this long are taken back.
	staleClaimAge = 30 * time.Minute
)

type statusWriter interface {
	SaveStatus(ctx context.Context) error
}

// components holds the long-lived workers the daemon schedules.
type components struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *ledger.Store
	queue     *pending.Queue
	scanner   *scanner.Scanner
	submitter *submitter.Submitter
	reconcile *reconcile.Loop
	sweeper   *sweeper.Sweeper
	transfer  transfer.Service
	status    statusWriter
	now       func() time.Time
}

func (c *components) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

func (c *components) register(runner *workflow.Runner) error {
	workers := []workflow.Worker{
		{Name: daemon.WorkerScanner, Interval: config.Seconds(c.cfg.Scanner.ScanInterval), Run: c.scan},
		{Name: daemon.WorkerSubmitter, Interval: config.Seconds(c.cfg.Transfer.SubmitInterval), Run: c.submit},
		{Name: daemon.WorkerReconcile, Interval: config.Seconds(c.cfg.Downstream.ReconcileInterval), Run: c.reconcileOnce},
		{Name: daemon.WorkerCredentials, Interval: config.Seconds(c.cfg.Transfer.AuthRefreshInterval), Run: c.transfer.RefreshCredentials},
		{Name: daemon.WorkerMaintenance, Interval: maintenanceInterval, Run: c.maintain},
	}
	if c.cfg.Cleanup.Enabled {
		workers = append(workers, workflow.Worker{
			Name: daemon.WorkerSweeper, Interval: config.Seconds(c.cfg.Cleanup.Interval), Run: c.sweep,
		})
	}
	for _, w := range workers {
		if err := runner.Register(w); err != nil {
			return err
		}
	}
	return nil
}

// reclaim returns claims left by a crashed process to their prior status.
// With SQLite the ledger is private to this state directory, whose lock we
// hold, so every claim is stale.
func (c *components) reclaim(ctx context.Context) error {
	cutoff := c.clock().Add(-staleClaimAge)
	if c.store.Driver() == "sqlite" {
		cutoff = c.clock()
	}
	return c.reclaimBefore(ctx, cutoff)
}

func (c *components) reclaimBefore(ctx context.Context, cutoff time.Time) error {
	n, err := c.store.ReclaimStale(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		logging.WarnWithContext(c.logger, "reclaimed stale task claims", "stale_claims",
			logging.Int64("tasks", n),
			logging.String(logging.FieldImpact, "the tasks are retried by the reconciliation loop"))
	}
	return nil
}

func (c *components) scan(ctx context.Context) error {
	res, err := c.scanner.Cycle(ctx)
	if c.status != nil {
		if serr := c.status.SaveStatus(ctx); serr != nil {
			c.logger.Warn("status file not updated", logging.Error(serr))
		}
	}
	if err != nil {
		return err
	}
	level := slog.LevelDebug
	if res.Queued > 0 || len(res.Gaps) > 0 {
		level = slog.LevelInfo
	}
	c.logger.Log(ctx, level, "scan complete",
		logging.Int("discovered", res.Discovered),
		logging.Int("queued", res.Queued),
		logging.Int("skipped", res.Skipped),
		logging.Bool("throttled", res.Throttled))
	return nil
}

func (c *components) submit(ctx context.Context) error {
	res, err := c.submitter.Cycle(ctx)
	if len(res.TaskIDs) > 0 {
		c.logger.Info("submission cycle complete",
			logging.Int("tasks", len(res.TaskIDs)),
			logging.Int("files", res.Files),
			logging.Bool("recovered", res.Recovered),
			logging.Bool("saturated", res.Saturated))
	}
	return err
}

func (c *components) reconcileOnce(ctx context.Context) error {
	res, err := c.reconcile.Cycle(ctx)
	if res != (reconcile.Result{}) {
		c.logger.Info("reconciliation cycle complete",
			logging.Int("announced", res.Announced),
			logging.Int("completed", res.Completed),
			logging.Int("processed", res.Processed),
			logging.Int("retried", res.Retried),
			logging.Int("failed", res.Failed),
			logging.Int("exhausted", res.Exhausted))
	}
	return err
}

func (c *components) sweep(ctx context.Context) error {
	res, err := c.sweeper.Cycle(ctx)
	if err != nil {
		return err
	}
	if res.Tasks > 0 {
		c.logger.Info("sweep complete",
			logging.Int("tasks", res.Tasks),
			logging.Int("moved", res.Moved),
			logging.Int("deleted", res.Deleted),
			logging.Int("missing", res.Missing),
			logging.Int("pruned", res.Pruned))
	}
	if len(res.Errors) > 0 {
		errs := make([]error, 0, len(res.Errors))
		for _, e := range res.Errors {
			errs = append(errs, e.Error)
		}
		return errors.Join(errs...)
	}
	return nil
}

func (c *components) maintain(ctx context.Context) error {
	removed, err := c.queue.Cleanup()
	if removed > 0 {
		c.logger.Info("pending queue tidied", logging.Int("datasets", removed))
	}
	return errors.Join(err, c.reclaimBefore(ctx, c.clock().Add(-staleClaimAge)))
}
