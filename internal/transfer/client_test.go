package transfer_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"gantrymon/internal/testsupport"
	"gantrymon/internal/transfer"
)

type fakeService struct {
	t          *testing.T
	tokenCalls atomic.Int32
	token      atomic.Value
	handler    func(w http.ResponseWriter, r *http.Request)
}

func newFakeService(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*fakeService, *httptest.Server) {
	t.Helper()
	f := &fakeService{t: t, handler: handler}
	f.token.Store("token-1")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token" {
			n := f.tokenCalls.Add(1)
			if err := r.ParseForm(); err != nil {
				t.Fatalf("parse token form: %v", err)
			}
			if r.Form.Get("grant_type") != "password" || r.Form.Get("username") != "tester" || r.Form.Get("password") != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			tok := "token-" + string(rune('0'+n))
			f.token.Store(tok)
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{"access_token": tok, "expires_in": 3600})
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer "+f.token.Load().(string) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		handler(w, r)
	}))
	t.Cleanup(server.Close)
	return f, server
}

func newClient(t *testing.T, url string) *transfer.HTTPClient {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithTransferURL(url))
	client, err := transfer.NewClient(cfg,
		transfer.WithRetryBackoff(3, time.Millisecond, 5*time.Millisecond),
		transfer.WithSleeper(func(time.Duration) {}),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestSubmitSendsTransferDocument(t *testing.T) {
	var received map[string]any
	_, server := newFakeService(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/submission_id":
			_, _ = w.Write([]byte(`{"value":"sub-1"}`))
		case "/transfer":
			if r.Method != http.MethodPost {
				t.Fatalf("unexpected method %s", r.Method)
			}
			if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
				t.Fatalf("decode transfer doc: %v", err)
			}
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"task_id":"task-9","code":"Accepted"}`))
		default:
			http.NotFound(w, r)
		}
	})
	client := newClient(t, server.URL)
	ctx := context.Background()

	sid, err := client.SubmissionID(ctx)
	if err != nil || sid != "sub-1" {
		t.Fatalf("SubmissionID = %q, %v", sid, err)
	}
	id, err := client.Submit(ctx, transfer.SubmitRequest{
		SubmissionID: sid,
		Items:        []transfer.Item{{Source: "/gantry_data/a/b.bin", Destination: "/raw_data/a/b.bin"}},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != "task-9" {
		t.Fatalf("unexpected task id %q", id)
	}
	if received["submission_id"] != "sub-1" || received["source_endpoint"] != "src-endpoint" || received["destination_endpoint"] != "dst-endpoint" {
		t.Fatalf("unexpected document %v", received)
	}
	items, _ := received["DATA"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %v", received["DATA"])
	}
	item := items[0].(map[string]any)
	if item["source_path"] != "/gantry_data/a/b.bin" || item["destination_path"] != "/raw_data/a/b.bin" {
		t.Fatalf("unexpected item %v", item)
	}
}

func TestTaskStatusMapsStates(t *testing.T) {
	_, server := newFakeService(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/task/done":
			_, _ = w.Write([]byte(`{"task_id":"done","status":"SUCCEEDED","files":3,"files_transferred":3,"bytes_transferred":2048,"completion_time":"2024-01-01T10:00:00+00:00"}`))
		case "/task/running":
			_, _ = w.Write([]byte(`{"task_id":"running","status":"ACTIVE"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"code":"ClientError.NotFound"}`))
		}
	})
	client := newClient(t, server.URL)
	ctx := context.Background()

	info, err := client.TaskStatus(ctx, "done")
	if err != nil {
		t.Fatalf("TaskStatus: %v", err)
	}
	if info.State != transfer.StateSucceeded || info.Files != 3 || info.BytesTransferred != 2048 {
		t.Fatalf("unexpected info %#v", info)
	}
	if info.CompletedAt == nil || !info.CompletedAt.Equal(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected completion time %v", info.CompletedAt)
	}

	info, err = client.TaskStatus(ctx, "running")
	if err != nil || info.State != transfer.StateActive {
		t.Fatalf("TaskStatus running = %#v, %v", info, err)
	}

	info, err = client.TaskStatus(ctx, "missing")
	if err != nil || info.State != transfer.StateNotFound {
		t.Fatalf("TaskStatus missing = %#v, %v", info, err)
	}
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	_, server := newFakeService(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"value":"sub-2"}`))
	})
	client := newClient(t, server.URL)

	sid, err := client.SubmissionID(context.Background())
	if err != nil || sid != "sub-2" {
		t.Fatalf("SubmissionID = %q, %v", sid, err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	_, server := newFakeService(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"ClientError.BadRequest"}`))
	})
	client := newClient(t, server.URL)

	_, err := client.Submit(context.Background(), transfer.SubmitRequest{
		SubmissionID: "sub",
		Items:        []transfer.Item{{Source: "/a", Destination: "/b"}},
	})
	var statusErr *transfer.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 status error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}

func TestUnauthorizedThenRefresh(t *testing.T) {
	fake, server := newFakeService(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"value":"sub-3"}`))
	})
	client := newClient(t, server.URL)
	ctx := context.Background()

	if _, err := client.SubmissionID(ctx); err != nil {
		t.Fatalf("SubmissionID: %v", err)
	}
	// The service revokes the token out of band.
	fake.token.Store("revoked")
	_, err := client.SubmissionID(ctx)
	if !errors.Is(err, transfer.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := client.RefreshCredentials(ctx); err != nil {
		t.Fatalf("RefreshCredentials: %v", err)
	}
	if sid, err := client.SubmissionID(ctx); err != nil || sid != "sub-3" {
		t.Fatalf("SubmissionID after refresh = %q, %v", sid, err)
	}
	if fake.tokenCalls.Load() != 2 {
		t.Fatalf("expected 2 token grants, got %d", fake.tokenCalls.Load())
	}
}

func TestTokenIsCachedOnDisk(t *testing.T) {
	fake, server := newFakeService(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"value":"sub"}`))
	})
	cfg := testsupport.NewConfig(t, testsupport.WithTransferURL(server.URL))
	for i := 0; i < 2; i++ {
		client, err := transfer.NewClient(cfg)
		if err != nil {
			t.Fatalf("NewClient: %v", err)
		}
		if _, err := client.SubmissionID(context.Background()); err != nil {
			t.Fatalf("SubmissionID: %v", err)
		}
	}
	if fake.tokenCalls.Load() != 1 {
		t.Fatalf("expected cached token to be reused, got %d grants", fake.tokenCalls.Load())
	}
	info, err := os.Stat(cfg.TokenPath())
	if err != nil {
		t.Fatalf("stat token file: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 token file, got %v", info.Mode().Perm())
	}
	data, _ := os.ReadFile(cfg.TokenPath())
	if !strings.Contains(string(data), "client_identifier") {
		t.Fatalf("token file missing client identifier: %s", data)
	}
}

func TestBadCredentialsSurfaceUnauthorized(t *testing.T) {
	_, server := newFakeService(t, func(w http.ResponseWriter, r *http.Request) {})
	cfg := testsupport.NewConfig(t, testsupport.WithTransferURL(server.URL))
	cfg.Transfer.Password = "wrong"
	client, err := transfer.NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := client.SubmissionID(context.Background()); !errors.Is(err, transfer.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}
