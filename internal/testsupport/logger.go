package testsupport

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"gantrymon/internal/logging"
)

// NewFileLogger returns a JSON logger writing to a temp file and a function
// that reads back everything logged so far.
func NewFileLogger(t testing.TB) (*slog.Logger, func() string) {
	t.Helper()

	logPath := filepath.Join(t.TempDir(), "test.log")
	logger, err := logging.New(logging.Options{
		Level:            "debug",
		Format:           "json",
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}
	return logger, func() string {
		t.Helper()
		data, err := os.ReadFile(logPath)
		if err != nil {
			t.Fatalf("read log: %v", err)
		}
		return string(data)
	}
}
