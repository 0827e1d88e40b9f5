package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"gantrymon/internal/api"
	"gantrymon/internal/config"
	"gantrymon/internal/ledger"
	"gantrymon/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
}

// setupCLITestEnv writes a config whose API address refuses connections, so
// commands see the daemon as stopped unless --api points elsewhere.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = closedAddress(t)
	cfg.Paths.APIToken = "api-secret"
	cfg.Transfer.Password = "transfer-pw-7f3"

	data, err := toml.Marshal(*cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return &cliTestEnv{cfg: cfg, configPath: path}
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func closedAddress(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestStatusFallsBackToLedgerWhenDaemonStopped(t *testing.T) {
	env := setupCLITestEnv(t)
	store := testsupport.MustOpenLedger(t, env.cfg)
	testsupport.NewTask(t, store, "t-1", ledger.StatusRetry)
	testsupport.NewTask(t, store, "t-2", ledger.StatusCreated)

	out, err := env.run(t, "status", "--json")
	if err != nil {
		t.Fatalf("status: %v\n%s", err, out)
	}
	var status api.Status
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("decode status: %v\n%s", err, out)
	}
	if status.Running {
		t.Fatal("expected daemon to be reported as stopped")
	}
	if status.TaskCounts["RETRY"] != 1 || status.TaskCounts["CREATED"] != 1 {
		t.Fatalf("unexpected counts: %v", status.TaskCounts)
	}
	if status.LedgerDriver != "sqlite" {
		t.Fatalf("ledger driver = %q", status.LedgerDriver)
	}

	text, err := env.run(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(text, "Not running") || !strings.Contains(text, "Retry") {
		t.Fatalf("unexpected status output:\n%s", text)
	}
}

func TestTasksCommandsAgainstLedger(t *testing.T) {
	env := setupCLITestEnv(t)
	store := testsupport.MustOpenLedger(t, env.cfg)
	testsupport.NewTask(t, store, "t-retry", ledger.StatusRetry)
	testsupport.NewTask(t, store, "t-created", ledger.StatusCreated)

	out, err := env.run(t, "tasks", "list", "--status", "retry")
	if err != nil {
		t.Fatalf("tasks list: %v", err)
	}
	if !strings.Contains(out, "t-retry") || strings.Contains(out, "t-created") {
		t.Fatalf("status filter not applied:\n%s", out)
	}

	out, err = env.run(t, "tasks", "show", "t-retry")
	if err != nil {
		t.Fatalf("tasks show: %v", err)
	}
	for _, want := range []string{"t-retry", "Retry", "Notified", "sensor - 2024-01-01__00-00-00-000"} {
		if !strings.Contains(out, want) {
			t.Fatalf("show output missing %q:\n%s", want, out)
		}
	}

	out, err = env.run(t, "tasks", "requeue", "t-retry")
	if err != nil {
		t.Fatalf("tasks requeue: %v", err)
	}
	if !strings.Contains(out, "t-retry is now Retry") {
		t.Fatalf("unexpected requeue output: %q", out)
	}
	if _, err := env.run(t, "tasks", "requeue", "t-created"); err == nil {
		t.Fatal("expected requeue of a CREATED task to fail")
	}

	out, err = env.run(t, "tasks", "cancel", "t-created")
	if err != nil {
		t.Fatalf("tasks cancel: %v", err)
	}
	if !strings.Contains(out, "t-created is now Deleted") {
		t.Fatalf("unexpected cancel output: %q", out)
	}

	if _, err := env.run(t, "tasks", "show", "missing"); err == nil {
		t.Fatal("expected unknown task to fail")
	}
	if _, err := env.run(t, "tasks", "list", "--status", "bogus"); err == nil {
		t.Fatal("expected unknown status to fail")
	}
}

func TestTasksListUsesRunningDaemon(t *testing.T) {
	env := setupCLITestEnv(t)

	var gotStatus []string
	var gotAuth string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.Status{Running: true})
	})
	mux.HandleFunc("GET /api/tasks", func(w http.ResponseWriter, r *http.Request) {
		gotStatus = r.URL.Query()["status"]
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(api.TaskListResponse{Tasks: []api.Task{
			{ID: "remote-1", Status: "IN PROGRESS", FileCount: 3, ByteCount: 2048, Datasets: []string{"a", "b", "c"}},
		}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	out, err := env.run(t, "--api", srv.URL, "tasks", "list", "--status", "in_progress")
	if err != nil {
		t.Fatalf("tasks list: %v", err)
	}
	if len(gotStatus) != 1 || gotStatus[0] != "IN PROGRESS" {
		t.Fatalf("status query = %v", gotStatus)
	}
	if gotAuth != "Bearer api-secret" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	for _, want := range []string{"remote-1", "In Progress", "2.0 KiB", "a, b (+1 more)"} {
		if !strings.Contains(out, want) {
			t.Fatalf("list output missing %q:\n%s", want, out)
		}
	}
}

func TestInjectSendsRequestToDaemon(t *testing.T) {
	env := setupCLITestEnv(t)

	var got api.InjectRequest
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/files", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(api.InjectResponse{Queued: 1, Datasets: []string{"cam - 2024"}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	out, err := env.run(t, "--api", srv.URL, "inject", "cam/2024/a.bin", "--sensor", "cam", "--space", "space-9", "--md", "operator=ops")
	if err != nil {
		t.Fatalf("inject: %v", err)
	}
	if got.Path != "cam/2024/a.bin" || got.SensorName != "cam" || got.SpaceID != "space-9" {
		t.Fatalf("unexpected request: %+v", got)
	}
	if got.Metadata["operator"] != "ops" {
		t.Fatalf("metadata not sent: %+v", got.Metadata)
	}
	if !strings.Contains(out, "Queued 1 file(s) in 1 dataset(s): cam - 2024") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestInjectRequiresDaemon(t *testing.T) {
	env := setupCLITestEnv(t)

	_, err := env.run(t, "inject", "a.bin")
	if err == nil || !strings.Contains(err.Error(), "daemon is not running") {
		t.Fatalf("expected daemon-not-running error, got %v", err)
	}
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.Contains(out, "api-secret") || strings.Contains(out, env.cfg.Transfer.Password) {
		t.Fatalf("secrets leaked:\n%s", out)
	}
	if !strings.Contains(out, redacted) || !strings.Contains(out, env.cfg.Scanner.IncomingDir) {
		t.Fatalf("unexpected config output:\n%s", out)
	}

	out, err = env.run(t, "config", "show", "--show-secrets")
	if err != nil {
		t.Fatalf("config show --show-secrets: %v", err)
	}
	if !strings.Contains(out, "api-secret") {
		t.Fatalf("expected clear token:\n%s", out)
	}
}

func TestConfigInitRefusesToOverwrite(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "config.toml")

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "init", "--path", target})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample config not written: %v", err)
	}

	cmd = newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "init", "--path", target})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "--overwrite") {
		t.Fatalf("expected overwrite refusal, got %v", err)
	}
}

func TestLedgerHealthReportsSchema(t *testing.T) {
	env := setupCLITestEnv(t)
	store := testsupport.MustOpenLedger(t, env.cfg)
	testsupport.NewTask(t, store, "t-1", ledger.StatusCreated)

	out, err := env.run(t, "ledger", "health")
	if err != nil {
		t.Fatalf("ledger health: %v\n%s", err, out)
	}
	for _, want := range []string{"sqlite", "Tasks table", "present"} {
		if !strings.Contains(out, want) {
			t.Fatalf("health output missing %q:\n%s", want, out)
		}
	}
}
