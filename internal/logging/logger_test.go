package logging_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gantrymon/internal/config"
	"gantrymon/internal/logging"
	"gantrymon/internal/services"
)

func newFileLogger(t *testing.T, format, level string) (string, func(string)) {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "out.log")
	logger, err := logging.New(logging.Options{
		Format:           format,
		Level:            level,
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return logPath, func(msg string) { logger.Info(msg, logging.String(logging.FieldComponent, "scanner"), logging.Int("files", 3)) }
}

func TestConsoleLoggerFormatsComponentAndFields(t *testing.T) {
	logPath, emit := newFileLogger(t, "console", "info")
	emit("queued arrivals")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(content)
	if !strings.Contains(line, "INFO scanner: queued arrivals") {
		t.Fatalf("expected component prefix, got %q", line)
	}
	if !strings.Contains(line, "files=3") {
		t.Fatalf("expected field, got %q", line)
	}
	if strings.Contains(line, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", line)
	}
}

func TestJSONLoggerRenamesKeys(t *testing.T) {
	logPath, emit := newFileLogger(t, "json", "info")
	emit("queued arrivals")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(content, &record); err != nil {
		t.Fatalf("decode json log: %v (%q)", err, content)
	}
	if record["msg"] != "queued arrivals" || record["level"] != "info" {
		t.Fatalf("unexpected record: %v", record)
	}
	if _, ok := record["ts"]; !ok {
		t.Fatalf("expected ts key, got %v", record)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNewFromConfigLinksCurrentLog(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()
	runLog := logging.RunLogName(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))

	logger, err := logging.NewFromConfig(&cfg, runLog)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("hello")

	target, err := os.Readlink(filepath.Join(cfg.Paths.LogDir, logging.CurrentLogName))
	if err != nil {
		t.Fatalf("read current log link: %v", err)
	}
	if target != runLog {
		t.Fatalf("current log points at %q, want %q", target, runLog)
	}
}

func TestWithContextAddsTaskFields(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "ctx.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}, ErrorOutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := services.WithTaskID(context.Background(), "task-1")
	ctx = services.WithDataset(ctx, "sensorX - 2024-01-01__10-00-00-000")
	logging.WithContext(ctx, logger).Info("ingesting")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(content), "task_id=task-1") {
		t.Fatalf("expected task id field, got %q", content)
	}
	if !strings.Contains(string(content), `dataset="sensorX - 2024-01-01__10-00-00-000"`) {
		t.Fatalf("expected quoted dataset field, got %q", content)
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "warn.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}, ErrorOutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logging.WarnWithContext(logger, "poll failed", "transfer_poll_failed")

	content, _ := os.ReadFile(logPath)
	for _, want := range []string{"event_type=transfer_poll_failed", "error_hint=", "impact="} {
		if !strings.Contains(string(content), want) {
			t.Fatalf("expected %q in %q", want, content)
		}
	}
}

func TestCleanupOldLogsKeepsCurrent(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "gantrymon-20200101T000000Z.log")
	current := "gantrymon-20200102T000000Z.log"
	other := filepath.Join(dir, "notes.txt")
	for _, path := range []string{old, filepath.Join(dir, current), other} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		past := time.Now().Add(-72 * time.Hour)
		if err := os.Chtimes(path, past, past); err != nil {
			t.Fatal(err)
		}
	}

	logging.CleanupOldLogs(logging.NewNop(), 1, logging.RunLogTarget(dir, current))

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("expected old run log removed, err=%v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, current)); err != nil {
		t.Fatalf("expected current log kept: %v", err)
	}
	if _, err := os.Stat(other); err != nil {
		t.Fatalf("expected unrelated file kept: %v", err)
	}
}
