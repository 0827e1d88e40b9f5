package ledger

import "testing"

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusCreated, StatusInProgress},
		{StatusCreated, StatusSucceeded},
		{StatusCreated, StatusFailed},
		{StatusInProgress, StatusNotified},
		{StatusInProgress, StatusFailed},
		{StatusSucceeded, StatusNotified},
		{StatusNotified, StatusProcessed},
		{StatusNotified, StatusRetry},
		{StatusNotified, StatusFailed},
		{StatusRetry, StatusProcessed},
		{StatusRetry, StatusRetry},
		{StatusRetry, StatusFailed},
		{StatusCreated, StatusDeleted},
		{StatusRetry, StatusDeleted},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	rejected := []struct{ from, to Status }{
		{StatusInProgress, StatusCreated},
		{StatusInProgress, StatusSucceeded},
		{StatusNotified, StatusInProgress},
		{StatusProcessed, StatusRetry},
		{StatusFailed, StatusNotified},
		{StatusProcessed, StatusDeleted},
		{StatusDeleted, StatusDeleted},
		{StatusCreated, StatusProcessed},
		{StatusPending, StatusDeleted},
	}
	for _, tc := range rejected {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be rejected", tc.from, tc.to)
		}
	}
}

func TestParseStatus(t *testing.T) {
	cases := map[string]Status{
		"created":     StatusCreated,
		"in_progress": StatusInProgress,
		"In Progress": StatusInProgress,
		"retry":       StatusRetry,
		"PENDING":     StatusPending,
	}
	for in, want := range cases {
		got, ok := ParseStatus(in)
		if !ok || got != want {
			t.Errorf("ParseStatus(%q) = %q, %v", in, got, ok)
		}
	}
	if _, ok := ParseStatus("DONE"); ok {
		t.Error("expected unknown status to be rejected")
	}
}

func TestRebindPostgres(t *testing.T) {
	d := dialect{name: driverPostgres}
	got := d.rebind("SELECT a FROM t WHERE x = ? AND y = '?' AND z IN (?, ?)")
	want := "SELECT a FROM t WHERE x = $1 AND y = '?' AND z IN ($2, $3)"
	if got != want {
		t.Fatalf("rebind = %q, want %q", got, want)
	}
	sqlite := dialect{name: driverSQLite}
	if q := sqlite.rebind("x = ?"); q != "x = ?" {
		t.Fatalf("sqlite rebind changed query: %q", q)
	}
}

func TestRedactDSN(t *testing.T) {
	if got := redactDSN("postgres://bob:hunter2@db:5432/ledger"); got != "postgres://bob:***@db:5432/ledger" {
		t.Fatalf("unexpected url redaction %q", got)
	}
	if got := redactDSN("host=db user=bob password=hunter2"); got != "host=db user=bob password=***" {
		t.Fatalf("unexpected keyword redaction %q", got)
	}
}
