package testsupport

import (
	"context"
	"os"
	"testing"

	"gantrymon/internal/config"
	"gantrymon/internal/ledger"
	"gantrymon/internal/pending"
)

// PostgresDSNEnv names the variable that enables PostgreSQL ledger tests.
const PostgresDSNEnv = "GANTRYMON_TEST_POSTGRES_DSN"

// MustOpenLedger opens a ledger.Store for tests and registers cleanup.
func MustOpenLedger(t testing.TB, cfg *config.Config) *ledger.Store {
	t.Helper()

	store, err := ledger.Open(cfg)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// PostgresDSN returns the configured test database or skips the test.
func PostgresDSN(t testing.TB) string {
	t.Helper()

	dsn := os.Getenv(PostgresDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set; skipping PostgreSQL ledger test", PostgresDSNEnv)
	}
	return dsn
}

// NewTask inserts a task with a single-file manifest in the given status.
// Statuses other than CREATED are reached through valid transitions.
func NewTask(t testing.TB, store *ledger.Store, id string, status ledger.Status) *ledger.Task {
	t.Helper()

	ctx := context.Background()
	contents := pending.Manifests{"sensor - 2024-01-01__00-00-00-000": pending.NewManifest()}
	contents["sensor - 2024-01-01__00-00-00-000"].Put(&pending.FileRecord{
		Name:       "a.bin",
		SourcePath: "/incoming/sensor/2024-01-01/2024-01-01__00-00-00-000/a.bin",
		RelPath:    "sensor/2024-01-01/2024-01-01__00-00-00-000/a.bin",
		DestPath:   "/archive/sensor/2024-01-01/2024-01-01__00-00-00-000/a.bin",
	})
	if _, err := store.Create(ctx, &ledger.Task{ID: id, FileCount: 1, ByteCount: 1, Contents: contents}); err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	path := map[ledger.Status][]ledger.Status{
		ledger.StatusCreated:    nil,
		ledger.StatusInProgress: {ledger.StatusInProgress},
		ledger.StatusSucceeded:  {ledger.StatusSucceeded},
		ledger.StatusNotified:   {ledger.StatusSucceeded, ledger.StatusNotified},
		ledger.StatusRetry:      {ledger.StatusSucceeded, ledger.StatusNotified, ledger.StatusRetry},
		ledger.StatusProcessed:  {ledger.StatusSucceeded, ledger.StatusNotified, ledger.StatusProcessed},
		ledger.StatusFailed:     {ledger.StatusFailed},
		ledger.StatusDeleted:    {ledger.StatusDeleted},
	}
	steps, ok := path[status]
	if !ok {
		t.Fatalf("no path to status %s", status)
	}
	from := ledger.StatusCreated
	for _, to := range steps {
		change := ledger.Change{}
		if to == ledger.StatusRetry {
			change.IncrementRetry = true
		}
		if err := store.Transition(ctx, id, from, to, change); err != nil {
			t.Fatalf("transition %s -> %s: %v", from, to, err)
		}
		from = to
	}
	task, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("store.Get: %v", err)
	}
	return task
}
