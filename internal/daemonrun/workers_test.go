package daemonrun

import (
	"context"
	"testing"
	"time"

	"gantrymon/internal/daemon"
	"gantrymon/internal/ledger"
	"gantrymon/internal/logging"
	"gantrymon/internal/pending"
	"gantrymon/internal/testsupport"
	"gantrymon/internal/workflow"
)

func TestRegisterHonoursCleanupToggle(t *testing.T) {
	for _, enabled := range []bool{false, true} {
		cfg := testsupport.NewConfig(t)
		cfg.Cleanup.Enabled = enabled
		c := &components{cfg: cfg, logger: logging.NewNop(), transfer: testsupport.NewFakeTransfer()}
		runner := workflow.NewRunner(nil)
		if err := c.register(runner); err != nil {
			t.Fatalf("register: %v", err)
		}
		names := map[string]bool{}
		for _, w := range runner.Status().Workers {
			names[w.Name] = true
		}
		for _, want := range []string{daemon.WorkerScanner, daemon.WorkerSubmitter, daemon.WorkerReconcile, daemon.WorkerCredentials, daemon.WorkerMaintenance} {
			if !names[want] {
				t.Fatalf("missing worker %q in %v", want, names)
			}
		}
		if names[daemon.WorkerSweeper] != enabled {
			t.Fatalf("sweeper registered = %v with cleanup.enabled = %v", names[daemon.WorkerSweeper], enabled)
		}
	}
}

func TestReclaimReturnsClaimsOfDeadProcess(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()

	crashed := testsupport.MustOpenLedger(t, cfg)
	testsupport.NewTask(t, crashed, "task-1", ledger.StatusNotified)
	if _, err := crashed.Claim(ctx, ledger.StatusNotified, ledger.ClaimFilter{}); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	store := testsupport.MustOpenLedger(t, cfg)
	queue, err := pending.Open("", nil)
	if err != nil {
		t.Fatalf("pending.Open: %v", err)
	}
	c := &components{cfg: cfg, logger: logging.NewNop(), store: store, queue: queue}
	if err := c.reclaim(ctx); err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	task, err := store.Get(ctx, "task-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if task.Status != ledger.StatusNotified {
		t.Fatalf("expected claim returned to NOTIFIED, got %s", task.Status)
	}

	// Periodic maintenance leaves fresh claims alone.
	if _, err := store.Claim(ctx, ledger.StatusNotified, ledger.ClaimFilter{}); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := c.maintain(ctx); err != nil {
		t.Fatalf("maintain: %v", err)
	}
	if task, _ := store.Get(ctx, "task-1"); task.Status != ledger.StatusPending {
		t.Fatalf("expected live claim to survive maintenance, got %s", task.Status)
	}
}

func TestMaintenanceKeepsLongRunningOwnClaims(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()

	store := testsupport.MustOpenLedger(t, cfg)
	other := testsupport.MustOpenLedger(t, cfg)
	testsupport.NewTask(t, store, "mine", ledger.StatusNotified)
	if _, err := store.Claim(ctx, ledger.StatusNotified, ledger.ClaimFilter{}); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	testsupport.NewTask(t, other, "abandoned", ledger.StatusNotified)
	if _, err := other.Claim(ctx, ledger.StatusNotified, ledger.ClaimFilter{}); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	queue, err := pending.Open("", nil)
	if err != nil {
		t.Fatalf("pending.Open: %v", err)
	}
	// Both claims are an hour past the stale threshold.
	later := time.Now().Add(time.Hour)
	c := &components{cfg: cfg, logger: logging.NewNop(), store: store, queue: queue, now: func() time.Time { return later }}
	if err := c.maintain(ctx); err != nil {
		t.Fatalf("maintain: %v", err)
	}

	mine, err := store.Get(ctx, "mine")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if mine.Status != ledger.StatusPending {
		t.Fatalf("expected own claim to survive maintenance, got %s", mine.Status)
	}
	if _, err := other.Claim(ctx, ledger.StatusNotified, ledger.ClaimFilter{}); err != nil {
		t.Fatalf("second owner Claim: %v", err)
	}
	if again, _ := store.Get(ctx, "mine"); again.Status != ledger.StatusPending {
		t.Fatalf("own claim changed hands: %s", again.Status)
	}
	if err := store.Transition(ctx, "mine", ledger.StatusPending, ledger.StatusProcessed, ledger.Change{}); err != nil {
		t.Fatalf("claim holder could not finish: %v", err)
	}
	abandoned, err := store.Get(ctx, "abandoned")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if abandoned.Status != ledger.StatusPending {
		t.Fatalf("expected abandoned task reclaimed and claimed again, got %s", abandoned.Status)
	}
}
