package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"gantrymon/internal/config"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	for _, mode := range []AccessMode{ReadOnly, ReadWrite} {
		if result := CheckDirectoryAccess("test", dir, mode); !result.Passed {
			t.Fatalf("expected pass for temp dir (mode %d), got: %s", mode, result.Detail)
		}
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"), ReadOnly)
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if result := CheckDirectoryAccess("test", f, ReadOnly); result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckDirectoryAccess_Unset(t *testing.T) {
	if result := CheckDirectoryAccess("test", " ", ReadOnly); result.Passed {
		t.Fatal("expected failure for unset path")
	}
}

func TestCheckEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/private":
			if user, pass, ok := r.BasicAuth(); !ok || user != "mon" || pass != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
		case "/broken":
			w.WriteHeader(http.StatusBadGateway)
			return
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx := context.Background()
	tests := []struct {
		name  string
		path  string
		creds Credentials
		pass  bool
	}{
		{name: "open", path: "/", pass: true},
		{name: "authorized", path: "/private", creds: Credentials{Username: "mon", Password: "secret"}, pass: true},
		{name: "bad credentials", path: "/private", creds: Credentials{Username: "mon", Password: "nope"}},
		{name: "server error", path: "/broken"},
		{name: "not found still reachable", path: "/missing", pass: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CheckEndpoint(ctx, "svc", srv.URL+tt.path, tt.creds)
			if result.Passed != tt.pass {
				t.Fatalf("Passed = %v, want %v (%s)", result.Passed, tt.pass, result.Detail)
			}
		})
	}
}

func TestCheckEndpoint_MissingURL(t *testing.T) {
	if result := CheckEndpoint(context.Background(), "svc", "", Credentials{}); result.Passed {
		t.Fatal("expected failure for missing URL")
	}
}

func TestCheckEndpoint_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()
	if result := CheckEndpoint(context.Background(), "svc", url, Credentials{}); result.Passed {
		t.Fatal("expected failure for closed server")
	}
}

func TestRunAllCoversConfiguredPaths(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StateDir = base
	cfg.Scanner.IncomingDir = base
	cfg.Scanner.LogDir = base
	cfg.Scanner.WatchDirs = []string{filepath.Join(base, "missing")}
	cfg.Cleanup.Enabled = true
	cfg.Cleanup.Delete = false
	cfg.Cleanup.DeletionQueueDir = base
	cfg.Transfer.BaseURL = srv.URL
	cfg.Downstream.BaseURL = srv.URL

	results := RunAll(context.Background(), &cfg)
	failed := Failed(results)
	if len(failed) != 1 || failed[0].Name != "Watch directory" {
		t.Fatalf("expected only the missing watch dir to fail, got %+v", failed)
	}
	names := map[string]bool{}
	for _, r := range results {
		names[r.Name] = true
	}
	for _, want := range []string{"State directory", "Incoming directory", "Transfer log directory", "Deletion queue", "Transfer service", "Downstream service"} {
		if !names[want] {
			t.Fatalf("missing check %q in %+v", want, results)
		}
	}
}

func TestRunAllNilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil); results != nil {
		t.Fatalf("expected nil results, got %+v", results)
	}
}
