package scanner_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"gantrymon/internal/config"
	"gantrymon/internal/notifications"
	"gantrymon/internal/pending"
	"gantrymon/internal/scanner"
	"gantrymon/internal/testsupport"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (r *recordingNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

const datasetDir = "sensorX/2024-01-01/2024-01-01__10-00-00-000"

func xferLine(second int, loggedPath string) string {
	return fmt.Sprintf("Mon Jan  1 10:00:%02d 2024 1 ::ffff:10.0.0.7 1024 %s b _ i r gantry ftp 0 * c", second, loggedPath)
}

type fixture struct {
	cfg      *config.Config
	queue    *pending.Queue
	notifier *recordingNotifier
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	cfg.Scanner.LogSources = []config.LogSource{
		{Name: "ftp", Format: "xferlog", Live: "xferlog", RotatedPrefix: "xferlog-"},
	}
	if err := os.MkdirAll(cfg.Scanner.LogDir, 0o755); err != nil {
		t.Fatal(err)
	}
	q, err := pending.Open(cfg.PendingQueuePath(), nil)
	if err != nil {
		t.Fatalf("pending.Open: %v", err)
	}
	return &fixture{cfg: cfg, queue: q, notifier: &recordingNotifier{}}
}

func (f *fixture) scanner(t *testing.T) *scanner.Scanner {
	t.Helper()
	s, err := scanner.New(f.cfg, f.queue, f.notifier, nil)
	if err != nil {
		t.Fatalf("scanner.New: %v", err)
	}
	return s
}

// landFile creates a file in the incoming dir and returns its logged path.
func (f *fixture) landFile(t *testing.T, rel string) string {
	t.Helper()
	testsupport.WriteFile(t, filepath.Join(f.cfg.Scanner.IncomingDir, rel), 16)
	return "/gantry_data/" + rel
}

func (f *fixture) writeLog(t *testing.T, name string, lines ...string) {
	t.Helper()
	content := strings.Join(lines, "\n") + "\n"
	path := filepath.Join(f.cfg.Scanner.LogDir, name)
	if strings.HasSuffix(name, ".gz") {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
		if err := gz.Close(); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			t.Fatal(err)
		}
		return
	}
	testsupport.WriteText(t, path, content)
}

func TestScanGroupsLoggedFilesIntoOneDataset(t *testing.T) {
	f := newFixture(t)
	var lines []string
	for i, name := range []string{"A.bin", "B.bin", "C.bin"} {
		lines = append(lines, xferLine(i, f.landFile(t, datasetDir+"/"+name)))
	}
	f.writeLog(t, "xferlog", lines...)

	s := f.scanner(t)
	res, err := s.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if res.Discovered != 3 || res.Queued != 3 {
		t.Fatalf("unexpected result %#v", res)
	}
	snap := f.queue.Snapshot()
	m, ok := snap["sensorX - 2024-01-01__10-00-00-000"]
	if !ok || len(snap) != 1 {
		t.Fatalf("unexpected manifests %v", snap.Keys())
	}
	if len(m.Files) != 3 {
		t.Fatalf("expected 3 files, got %d", len(m.Files))
	}

	again, err := s.Cycle(context.Background())
	if err != nil {
		t.Fatalf("second Cycle: %v", err)
	}
	if again.Discovered != 0 {
		t.Fatalf("expected idempotent rescan, discovered %d", again.Discovered)
	}

	// A fresh process resumes from the persisted line.
	restarted := f.scanner(t)
	if res, _ := restarted.Cycle(context.Background()); res.Discovered != 0 {
		t.Fatalf("restarted scanner rediscovered %d files", res.Discovered)
	}
	if got := restarted.LastLines()["ftp"]; got != lines[2] {
		t.Fatalf("unexpected resume point %q", got)
	}
}

func TestScanWalksBackThroughRotatedLogs(t *testing.T) {
	f := newFixture(t)
	a := xferLine(1, f.landFile(t, datasetDir+"/A.bin"))
	f.writeLog(t, "xferlog", a)
	s := f.scanner(t)
	if _, err := s.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}

	// The live log rotates twice; B lands in the first rotation after A,
	// C in the second, D in the new live log.
	b := xferLine(2, f.landFile(t, datasetDir+"/B.bin"))
	c := xferLine(3, f.landFile(t, datasetDir+"/C.bin"))
	d := xferLine(4, f.landFile(t, datasetDir+"/D.bin"))
	if err := os.Remove(filepath.Join(f.cfg.Scanner.LogDir, "xferlog")); err != nil {
		t.Fatal(err)
	}
	f.writeLog(t, "xferlog-20240101.gz", a, b)
	f.writeLog(t, "xferlog-20240102", c)
	f.writeLog(t, "xferlog", d)

	res, err := s.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if res.Discovered != 3 || len(res.Gaps) != 0 {
		t.Fatalf("unexpected result %#v", res)
	}
	if got := f.queue.FileCount(); got != 4 {
		t.Fatalf("expected 4 queued files, got %d", got)
	}
	if s.LastLines()["ftp"] != d {
		t.Fatalf("unexpected resume point %q", s.LastLines()["ftp"])
	}
}

func TestScanResumePointNotFound(t *testing.T) {
	f := newFixture(t)
	a := xferLine(1, f.landFile(t, datasetDir+"/A.bin"))
	f.writeLog(t, "xferlog", a)
	s := f.scanner(t)
	if _, err := s.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}

	b := xferLine(2, f.landFile(t, datasetDir+"/B.bin"))
	f.writeLog(t, "xferlog", b)

	res, err := s.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if len(res.Gaps) != 1 || res.Gaps[0] != "ftp" {
		t.Fatalf("expected a gap for ftp, got %#v", res.Gaps)
	}
	if res.Discovered != 1 {
		t.Fatalf("expected live log rescanned from top, discovered %d", res.Discovered)
	}
	if len(f.notifier.events) != 1 || f.notifier.events[0] != notifications.EventLogGap {
		t.Fatalf("expected log gap alert, got %v", f.notifier.events)
	}
}

func TestScanSkipsMissingAndHiddenFiles(t *testing.T) {
	f := newFixture(t)
	present := f.landFile(t, datasetDir+"/A.bin")
	hidden := f.landFile(t, datasetDir+"/.partial")
	f.writeLog(t, "xferlog",
		xferLine(1, "/gantry_data/"+datasetDir+"/gone.bin"),
		xferLine(2, present),
		xferLine(3, hidden),
	)
	res, err := f.scanner(t).Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if res.Discovered != 1 || res.Skipped != 2 {
		t.Fatalf("unexpected result %#v", res)
	}
}

func TestScanHonoursMaxPending(t *testing.T) {
	f := newFixture(t, testsupport.WithMaxPending(2))
	var lines []string
	for i, name := range []string{"A.bin", "B.bin", "C.bin"} {
		lines = append(lines, xferLine(i, f.landFile(t, datasetDir+"/"+name)))
	}
	f.writeLog(t, "xferlog", lines...)
	s := f.scanner(t)

	res, err := s.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if !res.Throttled || f.queue.FileCount() != 2 {
		t.Fatalf("expected throttled cycle with 2 files, got %#v files=%d", res, f.queue.FileCount())
	}
	if s.LastLines()["ftp"] != lines[1] {
		t.Fatalf("resume point advanced past unconsumed line: %q", s.LastLines()["ftp"])
	}

	res, _ = s.Cycle(context.Background())
	if res.Discovered != 0 || !res.Throttled {
		t.Fatalf("expected full queue to block discovery, got %#v", res)
	}

	if err := f.queue.Drain(f.queue.Snapshot()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	res, _ = s.Cycle(context.Background())
	if res.Discovered != 1 || f.queue.FileCount() != 1 {
		t.Fatalf("expected remaining file after drain, got %#v", res)
	}
}

func TestScanWhitelist(t *testing.T) {
	f := newFixture(t)
	f.cfg.Scanner.DirectoryWhitelist = []string{"/gantry_data/LemnaTec/"}
	allowed := f.landFile(t, "LemnaTec/VIS/2016-01-01/2016-01-01__00-00-00-000/a.png")
	denied := f.landFile(t, "Other/VIS/2016-01-01/2016-01-01__00-00-00-000/a.png")
	f.writeLog(t, "xferlog", xferLine(1, allowed), xferLine(2, denied))

	res, err := f.scanner(t).Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if res.Discovered != 1 || res.Skipped != 1 {
		t.Fatalf("unexpected result %#v", res)
	}
}

func TestSweepReportsQuiescentFilesOnce(t *testing.T) {
	f := newFixture(t)
	f.cfg.Scanner.LogSources = nil
	f.cfg.Scanner.WatchDirs = []string{"MAC"}
	f.cfg.Scanner.MinFileAgeMinutes = 10

	oldFile := filepath.Join(f.cfg.Scanner.IncomingDir, "MAC/lightning/2016-06-29/weather.dat")
	newFile := filepath.Join(f.cfg.Scanner.IncomingDir, "MAC/lightning/2016-06-29/current.dat")
	testsupport.WriteFile(t, oldFile, 8)
	testsupport.WriteFile(t, newFile, 8)
	testsupport.Touch(t, oldFile, time.Now().Add(-time.Hour))

	s := f.scanner(t)
	res, err := s.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if res.Discovered != 1 {
		t.Fatalf("expected only the quiescent file, got %#v", res)
	}
	if _, ok := f.queue.Snapshot()["lightning - 2016-06-29"]; !ok {
		t.Fatalf("unexpected datasets %v", f.queue.Snapshot().Keys())
	}

	res, _ = s.Cycle(context.Background())
	if res.Discovered != 0 {
		t.Fatalf("expected swept file not to be reported twice, got %d", res.Discovered)
	}
}

func TestPathLogSource(t *testing.T) {
	f := newFixture(t)
	f.cfg.Scanner.LogSources = []config.LogSource{{Name: "nas", Format: "paths", Live: "nas.log"}}
	p := f.landFile(t, "MAC/weather/2017-02-02/WeatherStation_SecData_2017_02_02_0706.dat")
	f.writeLog(t, "nas.log", p)

	res, err := f.scanner(t).Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if res.Discovered != 1 {
		t.Fatalf("expected 1 file from path log, got %#v", res)
	}
	if _, ok := f.queue.Snapshot()["weather - 2017-02-02"]; !ok {
		t.Fatalf("unexpected datasets %v", f.queue.Snapshot().Keys())
	}
}
