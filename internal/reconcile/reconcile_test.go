package reconcile_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"gantrymon/internal/config"
	"gantrymon/internal/ingest"
	"gantrymon/internal/ledger"
	"gantrymon/internal/notifications"
	"gantrymon/internal/pending"
	"gantrymon/internal/reconcile"
	"gantrymon/internal/testsupport"
	"gantrymon/internal/transfer"
)

type recordingAlerts struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (r *recordingAlerts) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingAlerts) count(event notifications.Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

// scriptedIngester returns queued outcomes, then OK.
type scriptedIngester struct {
	mu       sync.Mutex
	outcomes []ingest.Outcome
	err      error
	calls    map[string]int
}

func (s *scriptedIngester) Ingest(_ context.Context, task *ledger.Task) (ingest.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[task.ID]++
	res := ingest.Result{Outcome: ingest.OutcomeOK, Contents: task.Contents.Clone()}
	if s.err != nil {
		return res, s.err
	}
	if len(s.outcomes) > 0 {
		res.Outcome = s.outcomes[0]
		s.outcomes = s.outcomes[1:]
	}
	if res.Outcome != ingest.OutcomeOK {
		res.Problems = []string{"upload: 502: bad gateway"}
	}
	return res, nil
}

type fixture struct {
	cfg        *config.Config
	store      *ledger.Store
	service    *testsupport.FakeTransfer
	downstream *testsupport.FakeDownstream
	alerts     *recordingAlerts
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	return &fixture{
		cfg:        cfg,
		store:      testsupport.MustOpenLedger(t, cfg),
		service:    testsupport.NewFakeTransfer(),
		downstream: testsupport.NewFakeDownstream(),
		alerts:     &recordingAlerts{},
	}
}

func (f *fixture) loop(ingester reconcile.Ingester) *reconcile.Loop {
	return reconcile.New(f.cfg, f.store, f.service, f.downstream, ingester, f.alerts, nil)
}

func (f *fixture) cycle(t *testing.T, loop *reconcile.Loop) reconcile.Result {
	t.Helper()
	res, err := loop.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	return res
}

func (f *fixture) status(t *testing.T, id string) *ledger.Task {
	t.Helper()
	task, err := f.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return task
}

func TestFailedTransferNeverReachesNotified(t *testing.T) {
	f := newFixture(t)
	testsupport.NewTask(t, f.store, "t1", ledger.StatusCreated)
	f.service.SetStatus("t1", transfer.TaskInfo{State: transfer.StateActive})
	loop := f.loop(&scriptedIngester{})

	f.cycle(t, loop)
	if got := f.status(t, "t1").Status; got != ledger.StatusInProgress {
		t.Fatalf("expected IN PROGRESS after notify, got %s", got)
	}

	f.service.SetStatus("t1", transfer.TaskInfo{State: transfer.StateFailed, NiceStatus: "PERMISSION_DENIED"})
	res := f.cycle(t, loop)
	task := f.status(t, "t1")
	if task.Status != ledger.StatusFailed || res.Failed != 1 {
		t.Fatalf("expected FAILED, got %s (%#v)", task.Status, res)
	}
	if task.LastError != "transfer failed: PERMISSION_DENIED" {
		t.Fatalf("last error = %q", task.LastError)
	}
	f.cycle(t, loop)

	events, _ := f.store.Events(context.Background(), "t1")
	for _, ev := range events {
		if ev.ToStatus == ledger.StatusNotified || ev.ToStatus == ledger.StatusProcessed {
			t.Fatalf("failed task passed through %s", ev.ToStatus)
		}
	}
	if f.alerts.count(notifications.EventTaskFailed) != 1 {
		t.Fatalf("expected one failure alert, got %v", f.alerts.events)
	}
}

func TestSucceededTaskIsIngestedEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := "sensorX - 2024-01-01__10-00-00-000"
	rel := "sensorX/2024-01-01/2024-01-01__10-00-00-000/A.bin"
	src := filepath.Join(f.cfg.Scanner.IncomingDir, rel)
	testsupport.WriteFile(t, src, 8)
	rec := pending.NewRecord(f.cfg.Scanner.IncomingDir, src, nil)
	rec.DestPath = "/ua-mac/raw_data/" + rel
	contents := pending.Manifests{key: pending.NewManifest()}
	contents[key].Put(rec)
	if _, err := f.store.Create(ctx, &ledger.Task{ID: "t1", FileCount: 1, SubmittingUser: "tester", Contents: contents}); err != nil {
		t.Fatal(err)
	}
	done := time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC)
	f.service.SetStatus("t1", transfer.TaskInfo{State: transfer.StateSucceeded, Files: 1, FilesTransferred: 1, BytesTransferred: 8, CompletedAt: &done})

	notifier := ingest.New(f.cfg, f.downstream, f.store, nil)
	res := f.cycle(t, f.loop(notifier))

	task := f.status(t, "t1")
	if task.Status != ledger.StatusProcessed {
		t.Fatalf("expected PROCESSED, got %s (%#v, last error %q)", task.Status, res, task.LastError)
	}
	if task.ByteCount != 8 || task.CompletedAt == nil || !task.CompletedAt.Equal(done) {
		t.Fatalf("completion not captured: bytes=%d completed=%v", task.ByteCount, task.CompletedAt)
	}
	if task.Contents[key].Files[rec.Key()].ClowderID == "" {
		t.Fatal("downstream id not persisted in task contents")
	}
	if len(f.downstream.Notices) != 1 || f.downstream.Notices[0].User != "tester" {
		t.Fatalf("unexpected notices %#v", f.downstream.Notices)
	}
	stats, err := f.store.DatasetStats(ctx, key)
	if err != nil || stats.FileCount != 1 || stats.ByteCount != 8 {
		t.Fatalf("dataset stats = %#v, %v", stats, err)
	}
}

func TestCompletionBeforeNotification(t *testing.T) {
	f := newFixture(t)
	testsupport.NewTask(t, f.store, "t1", ledger.StatusCreated)
	f.service.SetStatus("t1", transfer.TaskInfo{State: transfer.StateSucceeded, FilesTransferred: 1})
	f.downstream.Fail("notify", errors.New("connection refused"))
	ingester := &scriptedIngester{}
	loop := f.loop(ingester)

	f.cycle(t, loop)
	if got := f.status(t, "t1").Status; got != ledger.StatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s", got)
	}
	if len(ingester.calls) != 0 {
		t.Fatal("ingestion must wait for notification")
	}

	f.downstream.Fail("notify", nil)
	f.cycle(t, loop)
	if got := f.status(t, "t1").Status; got != ledger.StatusProcessed {
		t.Fatalf("expected PROCESSED, got %s", got)
	}
}

func TestMissingTransferTaskFails(t *testing.T) {
	f := newFixture(t)
	testsupport.NewTask(t, f.store, "t1", ledger.StatusInProgress)
	f.cycle(t, f.loop(&scriptedIngester{}))
	task := f.status(t, "t1")
	if task.Status != ledger.StatusFailed || task.LastError != "transfer task not found" {
		t.Fatalf("got %s %q", task.Status, task.LastError)
	}
}

func TestRetryIsRedrivenOncePerCycle(t *testing.T) {
	f := newFixture(t)
	testsupport.NewTask(t, f.store, "t1", ledger.StatusNotified)
	ingester := &scriptedIngester{outcomes: []ingest.Outcome{ingest.OutcomeRetry, ingest.OutcomeRetry}}
	loop := f.loop(ingester)

	for i, want := range []int{1, 2} {
		res := f.cycle(t, loop)
		task := f.status(t, "t1")
		if task.Status != ledger.StatusRetry || task.RetryCount != want || res.Retried != 1 {
			t.Fatalf("cycle %d: status=%s retries=%d result=%#v", i+1, task.Status, task.RetryCount, res)
		}
		if task.LastError != "upload: 502: bad gateway" {
			t.Fatalf("last error = %q", task.LastError)
		}
	}
	f.cycle(t, loop)
	task := f.status(t, "t1")
	if task.Status != ledger.StatusProcessed || task.LastError != "" {
		t.Fatalf("expected PROCESSED with cleared error, got %s %q", task.Status, task.LastError)
	}
	if ingester.calls["t1"] != 3 {
		t.Fatalf("expected 3 attempts, got %d", ingester.calls["t1"])
	}
}

func TestRetryBudgetExhaustion(t *testing.T) {
	f := newFixture(t)
	f.cfg.Downstream.MaxRetries = 2
	testsupport.NewTask(t, f.store, "t1", ledger.StatusNotified)
	ingester := &scriptedIngester{outcomes: []ingest.Outcome{ingest.OutcomeRetry, ingest.OutcomeRetry, ingest.OutcomeRetry}}
	loop := f.loop(ingester)

	f.cycle(t, loop)
	f.cycle(t, loop)
	if task := f.status(t, "t1"); task.Status != ledger.StatusRetry || task.RetryCount != 2 {
		t.Fatalf("got %s/%d", task.Status, task.RetryCount)
	}

	res := f.cycle(t, loop)
	task := f.status(t, "t1")
	if task.Status != ledger.StatusFailed || res.Exhausted != 1 {
		t.Fatalf("expected exhaustion, got %s (%#v)", task.Status, res)
	}
	if !strings.HasPrefix(task.LastError, "retry budget exhausted") {
		t.Fatalf("last error = %q", task.LastError)
	}
	if ingester.calls["t1"] != 2 {
		t.Fatalf("exhausted task must not be attempted again, got %d attempts", ingester.calls["t1"])
	}
	if f.alerts.count(notifications.EventRetryExhausted) != 1 {
		t.Fatalf("expected exhaustion alert, got %v", f.alerts.events)
	}
}

func TestRequeueRestoresBudget(t *testing.T) {
	f := newFixture(t)
	f.cfg.Downstream.MaxRetries = 1
	testsupport.NewTask(t, f.store, "t1", ledger.StatusRetry)
	ctx := context.Background()
	if err := f.store.Requeue(ctx, "t1"); err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	f.cycle(t, f.loop(&scriptedIngester{}))
	if got := f.status(t, "t1").Status; got != ledger.StatusProcessed {
		t.Fatalf("expected PROCESSED after requeue, got %s", got)
	}
}

func TestIngestErrorFailsTask(t *testing.T) {
	f := newFixture(t)
	testsupport.NewTask(t, f.store, "t1", ledger.StatusNotified)
	f.cycle(t, f.loop(&scriptedIngester{outcomes: []ingest.Outcome{ingest.OutcomeError}}))
	task := f.status(t, "t1")
	if task.Status != ledger.StatusFailed || task.LastError == "" {
		t.Fatalf("got %s %q", task.Status, task.LastError)
	}
}

func TestCancelledIngestReleasesClaim(t *testing.T) {
	f := newFixture(t)
	testsupport.NewTask(t, f.store, "t1", ledger.StatusNotified)
	loop := f.loop(&scriptedIngester{err: context.Canceled})

	if _, err := loop.Cycle(context.Background()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	task := f.status(t, "t1")
	if task.Status != ledger.StatusNotified || task.ClaimedFrom != "" {
		t.Fatalf("claim not released: %s from %q", task.Status, task.ClaimedFrom)
	}
}

func TestPollRefreshesCredentials(t *testing.T) {
	f := newFixture(t)
	testsupport.NewTask(t, f.store, "t1", ledger.StatusInProgress)
	f.service.SetStatus("t1", transfer.TaskInfo{State: transfer.StateActive})
	f.service.Reject("status", 1)
	f.cycle(t, f.loop(&scriptedIngester{}))
	if f.service.Refreshes != 1 {
		t.Fatalf("expected one refresh, got %d", f.service.Refreshes)
	}
	if got := f.status(t, "t1").Status; got != ledger.StatusInProgress {
		t.Fatalf("status changed to %s", got)
	}
}

type contentsRejectingLedger struct {
	*ledger.Store
}

func (contentsRejectingLedger) UpdateContents(context.Context, string, pending.Manifests) error {
	return errors.New("database is locked")
}

func TestUnsavedIngestContentsAreLogged(t *testing.T) {
	f := newFixture(t)
	testsupport.NewTask(t, f.store, "t1", ledger.StatusNotified)
	logger, logged := testsupport.NewFileLogger(t)
	loop := reconcile.New(f.cfg, contentsRejectingLedger{f.store}, f.service, f.downstream,
		&scriptedIngester{err: context.Canceled}, f.alerts, logger)

	if _, err := loop.Cycle(context.Background()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	out := logged()
	if !strings.Contains(out, "partial ingest results not saved") || !strings.Contains(out, "database is locked") {
		t.Fatalf("expected contents warning in log, got %q", out)
	}
	if task := f.status(t, "t1"); task.Status != ledger.StatusNotified {
		t.Fatalf("claim not released: %s", task.Status)
	}
}
