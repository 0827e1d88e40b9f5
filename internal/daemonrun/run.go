// Package daemonrun bootstraps the gantrymon daemon process: logging, pid
// file, stores, service clients, workers and signal handling.
package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"gantrymon/internal/config"
	"gantrymon/internal/daemon"
	"gantrymon/internal/downstream"
	"gantrymon/internal/ingest"
	"gantrymon/internal/ledger"
	"gantrymon/internal/logging"
	"gantrymon/internal/notifications"
	"gantrymon/internal/pending"
	"gantrymon/internal/preflight"
	"gantrymon/internal/reconcile"
	"gantrymon/internal/scanner"
	"gantrymon/internal/submitter"
	"gantrymon/internal/sweeper"
	"gantrymon/internal/transfer"
	"gantrymon/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
	// SkipPreflight disables the startup readiness checks.
	SkipPreflight bool
}

// Run starts the daemon and blocks until ctx is cancelled or the process
// receives SIGINT/SIGTERM. Unreadable state files are fatal.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	if opts.LogLevel != "" {
		copied := *cfg
		copied.Logging.Level = opts.LogLevel
		cfg = &copied
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	runLog := logging.RunLogName(time.Now())
	logger, err := logging.NewFromConfig(cfg, runLog)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays, logging.RunLogTarget(cfg.Paths.LogDir, runLog))

	if err := writePIDFile(cfg.PIDPath()); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(cfg.PIDPath())

	if !opts.SkipPreflight {
		logPreflight(signalCtx, logger, cfg)
	}

	store, err := ledger.Open(cfg)
	if err != nil {
		logger.Error("open task ledger", logging.Error(err))
		return err
	}
	defer store.Close()

	queue, err := pending.Open(cfg.PendingQueuePath(), logger)
	if err != nil {
		return err
	}
	alerts := notifications.NewService(cfg)
	scan, err := scanner.New(cfg, queue, alerts, logger)
	if err != nil {
		return err
	}
	transferClient, err := transfer.NewClient(cfg, transfer.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("create transfer client: %w", err)
	}
	downstreamClient := downstream.NewClient(cfg, downstream.WithLogger(logger))

	ingester := ingest.New(cfg, downstreamClient, store, logger)
	c := components{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		queue:     queue,
		scanner:   scan,
		submitter: submitter.New(cfg, queue, store, transferClient, logger),
		reconcile: reconcile.New(cfg, store, transferClient, downstreamClient, ingester, alerts, logger),
		sweeper:   sweeper.New(cfg, store, logger),
		transfer:  transferClient,
	}
	runner := workflow.NewRunner(logger)
	if err := c.register(runner); err != nil {
		return err
	}

	d, err := daemon.New(cfg, daemon.Deps{
		Ledger:      store,
		Queue:       queue,
		Scanner:     scan,
		Runner:      runner,
		BeforeStart: c.reclaim,
	}, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	c.status = d

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check for another running daemon and the ledger connection"),
			logging.String(logging.FieldImpact, "no files are transferred"))
		return err
	}

	<-signalCtx.Done()
	logger.Info("gantrymon daemon shutting down")
	d.Stop()
	released, err := store.ReleaseAll(context.Background())
	if err != nil {
		logger.Warn("release task claims failed", logging.Error(err))
	} else if released > 0 {
		logger.Info("released task claims", logging.Int64("tasks", released))
	}
	return nil
}

func logPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	results := preflight.RunAll(ctx, cfg)
	for _, r := range preflight.Failed(results) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldErrorHint, "run gantrymon check for the full report"),
			logging.String(logging.FieldImpact, "the affected worker fails until this is fixed"))
	}
	logger.Info("preflight complete",
		logging.Int("checks", len(results)),
		logging.Int("failed", len(preflight.Failed(results))))
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
