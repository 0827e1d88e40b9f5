package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Error is a non-2xx response from the daemon.
type Error struct {
	StatusCode int
	Message    string
	RequestID  string
}

func (e *Error) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("daemon returned %d: %s (request %s)", e.StatusCode, e.Message, e.RequestID)
	}
	return fmt.Sprintf("daemon returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the daemon.
func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client talks to a running daemon over its HTTP API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient builds a client for the daemon listening on bind. A bare
// host:port is given an http scheme; a wildcard host is dialed on loopback.
func NewClient(bind, token string) *Client {
	base := strings.TrimRight(strings.TrimSpace(bind), "/")
	if !strings.Contains(base, "://") {
		if strings.HasPrefix(base, ":") {
			base = "127.0.0.1" + base
		}
		base = strings.Replace(base, "0.0.0.0:", "127.0.0.1:", 1)
		base = "http://" + base
	}
	return &Client{
		baseURL:    base,
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Status fetches the daemon health payload.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var resp Status
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Tasks lists tasks with the given statuses.
func (c *Client) Tasks(ctx context.Context, statuses ...string) ([]Task, error) {
	q := url.Values{}
	for _, s := range statuses {
		q.Add("status", s)
	}
	target := "/api/tasks"
	if encoded := q.Encode(); encoded != "" {
		target += "?" + encoded
	}
	var resp TaskListResponse
	if err := c.do(ctx, http.MethodGet, target, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

// Task fetches one task with its contents.
func (c *Client) Task(ctx context.Context, id string) (*Task, error) {
	var resp TaskResponse
	if err := c.do(ctx, http.MethodGet, taskPath(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Task, nil
}

// TaskEvents fetches the status history of a task.
func (c *Client) TaskEvents(ctx context.Context, id string) ([]Event, error) {
	var resp EventListResponse
	if err := c.do(ctx, http.MethodGet, taskPath(id)+"/events", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// CancelTask moves a task to DELETED.
func (c *Client) CancelTask(ctx context.Context, id string) (*Task, error) {
	var resp TaskResponse
	if err := c.do(ctx, http.MethodDelete, taskPath(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Task, nil
}

// RequeueTask resets the retry budget of a RETRY task.
func (c *Client) RequeueTask(ctx context.Context, id string) (*Task, error) {
	var resp TaskResponse
	if err := c.do(ctx, http.MethodPost, taskPath(id)+"/requeue", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Task, nil
}

// Inject queues files for transfer.
func (c *Client) Inject(ctx context.Context, req InjectRequest) (*InjectResponse, error) {
	var resp InjectResponse
	if err := c.do(ctx, http.MethodPost, "/api/files", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func taskPath(id string) string {
	return "/api/tasks/" + url.PathEscape(id)
}

func (c *Client) do(ctx context.Context, method, target string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+target, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("contact daemon at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		apiErr := &Error{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var payload ErrorResponse
		if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
			apiErr.RequestID = payload.RequestID
		}
		return apiErr
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
