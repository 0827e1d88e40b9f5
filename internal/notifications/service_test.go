package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"gantrymon/internal/config"
	"gantrymon/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventTaskFailed, notifications.Payload{"taskID": "x"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:  "task failed",
			event: notifications.EventTaskFailed,
			payload: notifications.Payload{
				"taskID": "abc-123",
				"reason": "transfer service reported FAILED",
			},
			expectTitle:    "Gantrymon - Task Failed",
			expectMessage:  "Transfer task abc-123 failed: transfer service reported FAILED",
			expectTags:     "gantrymon,task,failed",
			expectPriority: "high",
		},
		{
			name:  "retry exhausted",
			event: notifications.EventRetryExhausted,
			payload: notifications.Payload{
				"taskID":   "abc-123",
				"attempts": 5,
				"reason":   "upload returned 502",
			},
			expectTitle:    "Gantrymon - Retries Exhausted",
			expectMessage:  "Task abc-123 gave up ingestion after 5 attempts\nLast error: upload returned 502",
			expectTags:     "gantrymon,ingest,review",
			expectPriority: "high",
		},
		{
			name:  "log gap",
			event: notifications.EventLogGap,
			payload: notifications.Payload{
				"source":   "ftp",
				"lastLine": "Tue Apr  5 12:35:58 2016 1 x",
			},
			expectTitle:   "Gantrymon - Log Gap",
			expectMessage: "Resume point not found in ftp logs; rescanning the live log from the top\nLast line: Tue Apr  5 12:35:58 2016 1 x",
			expectTags:    "gantrymon,scanner,gap",
		},
		{
			name:  "error",
			event: notifications.EventError,
			payload: notifications.Payload{
				"context": "submitter",
				"error":   "credentials rejected",
			},
			expectTitle:    "Gantrymon - Error",
			expectMessage:  "Error in submitter: credentials rejected",
			expectTags:     "gantrymon,error,alert",
			expectPriority: "high",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title    string
				tags     string
				priority string
				body     string
			}

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("unexpected method: %s", r.Method)
				}
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				body, _ := io.ReadAll(r.Body)
				captured.body = string(body)
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeout = 5
			cfg.Notifications.TaskFailures = true
			cfg.Notifications.LogGaps = true

			svc := notifications.NewService(&cfg)
			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			if captured.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, captured.title)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, captured.body)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, captured.tags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, captured.priority)
			}
		})
	}
}

func TestNtfyServiceIgnoresSuppressedEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected call for suppressed event: %s", r.URL.String())
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.TaskFailures = false
	cfg.Notifications.LogGaps = false

	svc := notifications.NewService(&cfg)
	suppressed := []notifications.Event{
		notifications.EventTaskFailed,
		notifications.EventRetryExhausted,
		notifications.EventLogGap,
		notifications.EventTaskProcessed,
	}
	for _, event := range suppressed {
		if err := svc.Publish(context.Background(), event, notifications.Payload{"value": "ignored"}); err != nil {
			t.Fatalf("expected no error for suppressed event %s, got %v", event, err)
		}
	}
}

func TestNtfyServiceReportsServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic closed", http.StatusForbidden)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventTest, nil); err == nil {
		t.Fatal("expected error from 403 response")
	}
}
