package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gantrymon/internal/logging"
	"gantrymon/internal/services"
)

// Clock supplies time and tickers.
type Clock interface {
	Now() time.Time
	NewTicker(interval time.Duration) (<-chan time.Time, func())
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) NewTicker(interval time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(interval)
	return t.C, t.Stop
}

// Worker is one periodic job.
type Worker struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

type workerState struct {
	Worker
	trigger chan struct{}

	runs         int64
	failures     int64
	active       bool
	lastRun      time.Time
	lastDuration time.Duration
	lastErr      error
}

// Runner owns the worker goroutines.
type Runner struct {
	clock  Clock
	logger *slog.Logger

	mu      sync.RWMutex
	workers []*workerState
	byName  map[string]*workerState
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option customizes a Runner.
type Option func(*Runner)

// WithClock replaces the wall clock.
func WithClock(clock Clock) Option {
	return func(r *Runner) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// NewRunner builds an empty Runner.
func NewRunner(logger *slog.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Runner{
		clock:  systemClock{},
		logger: logging.NewComponentLogger(logger, "workflow"),
		byName: make(map[string]*workerState),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a worker. Workers must be registered before Start.
func (r *Runner) Register(w Worker) error {
	if w.Name == "" || w.Run == nil {
		return errors.New("worker needs a name and a run function")
	}
	if w.Interval <= 0 {
		return fmt.Errorf("worker %s: interval must be positive", w.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("worker %s: runner already started", w.Name)
	}
	if _, dup := r.byName[w.Name]; dup {
		return fmt.Errorf("worker %s already registered", w.Name)
	}
	st := &workerState{Worker: w, trigger: make(chan struct{}, 1)}
	r.workers = append(r.workers, st)
	r.byName[w.Name] = st
	return nil
}

// Start launches every registered worker.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return errors.New("workflow already running")
	}
	if len(r.workers) == 0 {
		r.mu.Unlock()
		return errors.New("no workers registered")
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	workers := append([]*workerState(nil), r.workers...)
	r.wg.Add(len(workers))
	r.mu.Unlock()

	for _, w := range workers {
		go r.loop(runCtx, w)
	}
	return nil
}

// Stop cancels the workers and waits for in-flight runs to return.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
}

// Trigger asks the named worker to run as soon as it is idle. It reports
// false for an unknown worker.
func (r *Runner) Trigger(name string) bool {
	r.mu.RLock()
	st, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	select {
	case st.trigger <- struct{}{}:
	default:
	}
	return true
}

func (r *Runner) loop(ctx context.Context, w *workerState) {
	defer r.wg.Done()
	ctx = services.WithWorker(ctx, w.Name)
	logger := logging.WithContext(ctx, r.logger)
	ticks, stop := r.clock.NewTicker(w.Interval)
	defer stop()

	logger.Debug("worker started", logging.Duration("interval", w.Interval))
	r.runOnce(ctx, logger, w)
	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker stopped")
			return
		case <-ticks:
		case <-w.trigger:
		}
		r.runOnce(ctx, logger, w)
	}
}

func (r *Runner) runOnce(ctx context.Context, logger *slog.Logger, w *workerState) {
	if ctx.Err() != nil {
		return
	}
	start := r.clock.Now()
	r.mu.Lock()
	w.active = true
	r.mu.Unlock()

	err := r.call(ctx, w)
	elapsed := r.clock.Now().Sub(start)

	r.mu.Lock()
	w.active = false
	w.runs++
	w.lastRun = start
	w.lastDuration = elapsed
	w.lastErr = err
	if err != nil {
		w.failures++
	}
	r.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) {
		logging.WarnWithContext(logger, "worker run failed", "worker_failed",
			logging.Error(err),
			logging.Duration("elapsed", elapsed),
			logging.String(logging.FieldErrorHint, "see the preceding component log lines"),
			logging.String(logging.FieldImpact, "work is retried on the next tick"))
	}
}

func (r *Runner) call(ctx context.Context, w *workerState) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("worker %s panicked: %v", w.Name, rec)
		}
	}()
	return w.Run(ctx)
}
