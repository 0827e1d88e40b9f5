package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gantrymon/internal/config"
)

const userAgent = "gantrymon/0.1.0"

// Event names an alert category.
type Event string

const (
	EventTaskFailed     Event = "task_failed"
	EventRetryExhausted Event = "retry_exhausted"
	EventLogGap         Event = "log_gap"
	EventTaskProcessed  Event = "task_processed"
	EventError          Event = "error"
	EventTest           Event = "test"
)

// Payload carries event fields used to format the message.
type Payload map[string]any

// Service defines the notification surface exposed to components.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := config.Seconds(cfg.Notifications.RequestTimeout)
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventTaskFailed:     cfg.Notifications.TaskFailures,
			EventRetryExhausted: cfg.Notifications.TaskFailures,
			EventLogGap:         cfg.Notifications.LogGaps,
			EventError:          true,
			EventTest:           true,
		},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, data Payload) error {
	if !n.enabled[event] {
		return nil
	}
	msg, ok := format(event, data)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, data Payload) (payload, bool) {
	switch event {
	case EventTaskFailed:
		message := fmt.Sprintf("Transfer task %s failed", text(data, "taskID"))
		if reason := text(data, "reason"); reason != "" {
			message += ": " + reason
		}
		return payload{
			title:    "Gantrymon - Task Failed",
			message:  message,
			tags:     []string{"gantrymon", "task", "failed"},
			priority: "high",
		}, true
	case EventRetryExhausted:
		return payload{
			title:    "Gantrymon - Retries Exhausted",
			message:  fmt.Sprintf("Task %s gave up ingestion after %s attempts\nLast error: %s", text(data, "taskID"), text(data, "attempts"), text(data, "reason")),
			tags:     []string{"gantrymon", "ingest", "review"},
			priority: "high",
		}, true
	case EventLogGap:
		return payload{
			title:   "Gantrymon - Log Gap",
			message: fmt.Sprintf("Resume point not found in %s logs; rescanning the live log from the top\nLast line: %s", text(data, "source"), text(data, "lastLine")),
			tags:    []string{"gantrymon", "scanner", "gap"},
		}, true
	case EventError:
		var builder strings.Builder
		builder.WriteString("Error")
		if label := text(data, "context"); label != "" {
			builder.WriteString(" in ")
			builder.WriteString(label)
		}
		if detail := text(data, "error"); detail != "" {
			builder.WriteString(": ")
			builder.WriteString(detail)
		}
		return payload{
			title:    "Gantrymon - Error",
			message:  builder.String(),
			tags:     []string{"gantrymon", "error", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return payload{
			title:    "Gantrymon - Test",
			message:  "Notification system test",
			tags:     []string{"gantrymon", "test"},
			priority: "low",
		}, true
	default:
		return payload{}, false
	}
}

func text(data Payload, key string) string {
	if data == nil {
		return ""
	}
	v, ok := data[key]
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }

// Noop returns a service that drops every event.
func Noop() Service { return noopService{} }
