package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"gantrymon/internal/config"
	"gantrymon/internal/logging"
)

const (
	defaultHTTPTimeout    = 60 * time.Second
	defaultRetryAttempts  = 4
	defaultRetryBaseDelay = 500 * time.Millisecond
	defaultRetryMaxDelay  = 10 * time.Second
)

// TaskState is the service-side state of a transfer task.
type TaskState string

const (
	StateActive    TaskState = "ACTIVE"
	StateInactive  TaskState = "INACTIVE"
	StateSucceeded TaskState = "SUCCEEDED"
	StateFailed    TaskState = "FAILED"
	StateNotFound  TaskState = "NOT FOUND"
)

// Item is one file to move.
type Item struct {
	Source      string
	Destination string
}

// SubmitRequest describes one batch.
type SubmitRequest struct {
	SubmissionID string
	Label        string
	Items        []Item
}

// TaskInfo is the status snapshot of a transfer task.
type TaskInfo struct {
	TaskID           string
	State            TaskState
	Files            int
	FilesTransferred int
	BytesTransferred int64
	CompletedAt      *time.Time
	NiceStatus       string
}

// Service is the transfer-service contract used by the submitter and the
// reconciliation loop.
type Service interface {
	SubmissionID(ctx context.Context) (string, error)
	Submit(ctx context.Context, req SubmitRequest) (string, error)
	TaskStatus(ctx context.Context, taskID string) (TaskInfo, error)
	RefreshCredentials(ctx context.Context) error
}

// HTTPClient implements Service over the transfer REST API.
type HTTPClient struct {
	baseURL     string
	source      string
	destination string
	httpClient  *http.Client
	tokens      *TokenManager
	limiter     *rate.Limiter
	logger      *slog.Logger

	retryMaxAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
	sleeper          func(time.Duration)
}

// Option customizes the client.
type Option func(*HTTPClient)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *HTTPClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *HTTPClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRetryBackoff overrides the retry attempts and delays.
func WithRetryBackoff(attempts int, baseDelay, maxDelay time.Duration) Option {
	return func(c *HTTPClient) {
		c.retryMaxAttempts = attempts
		c.retryBaseDelay = baseDelay
		c.retryMaxDelay = maxDelay
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *HTTPClient) {
		c.sleeper = sleeper
	}
}

// NewClient constructs a client from the transfer config section.
func NewClient(cfg *config.Config, opts ...Option) (*HTTPClient, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	timeout := defaultHTTPTimeout
	if cfg.Transfer.RequestTimeout > 0 {
		timeout = config.Seconds(cfg.Transfer.RequestTimeout)
	}
	limit := rate.Inf
	if cfg.Transfer.RateLimit > 0 {
		limit = rate.Limit(cfg.Transfer.RateLimit)
	}
	c := &HTTPClient{
		baseURL:          strings.TrimRight(strings.TrimSpace(cfg.Transfer.BaseURL), "/"),
		source:           cfg.Transfer.SourceEndpoint,
		destination:      cfg.Transfer.DestinationEndpoint,
		httpClient:       &http.Client{Timeout: timeout},
		limiter:          rate.NewLimiter(limit, 1),
		logger:           logging.NewNop(),
		retryMaxAttempts: defaultRetryAttempts,
		retryBaseDelay:   defaultRetryBaseDelay,
		retryMaxDelay:    defaultRetryMaxDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.NewComponentLogger(c.logger, "transfer")

	tokens, err := NewTokenManager(
		c.baseURL+"/token",
		cfg.Transfer.Username,
		cfg.Transfer.Password,
		config.Seconds(cfg.Transfer.AuthRefreshInterval),
		c.httpClient,
		NewFileTokenStore(cfg.TokenPath()),
	)
	if err != nil {
		return nil, err
	}
	c.tokens = tokens
	return c, nil
}

// SubmissionID reserves an idempotency key. Submitting twice with the same
// key yields the same task.
func (c *HTTPClient) SubmissionID(ctx context.Context) (string, error) {
	var out struct {
		Value string `json:"value"`
	}
	if err := c.call(ctx, "submission_id", http.MethodGet, "/submission_id", nil, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.Value) == "" {
		return "", errors.New("transfer submission_id: empty value")
	}
	return out.Value, nil
}

type transferItem struct {
	DataType        string `json:"DATA_TYPE"`
	SourcePath      string `json:"source_path"`
	DestinationPath string `json:"destination_path"`
}

type transferDocument struct {
	DataType            string         `json:"DATA_TYPE"`
	SubmissionID        string         `json:"submission_id"`
	SourceEndpoint      string         `json:"source_endpoint"`
	DestinationEndpoint string         `json:"destination_endpoint"`
	Label               string         `json:"label,omitempty"`
	VerifyChecksum      bool           `json:"verify_checksum"`
	Data                []transferItem `json:"DATA"`
}

// Submit starts a transfer task and returns its id.
func (c *HTTPClient) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if req.SubmissionID == "" {
		return "", errors.New("transfer submit: submission id required")
	}
	if len(req.Items) == 0 {
		return "", errors.New("transfer submit: no items")
	}
	doc := transferDocument{
		DataType:            "transfer",
		SubmissionID:        req.SubmissionID,
		SourceEndpoint:      c.source,
		DestinationEndpoint: c.destination,
		Label:               req.Label,
		VerifyChecksum:      true,
		Data:                make([]transferItem, 0, len(req.Items)),
	}
	for _, item := range req.Items {
		doc.Data = append(doc.Data, transferItem{
			DataType:        "transfer_item",
			SourcePath:      item.Source,
			DestinationPath: item.Destination,
		})
	}
	var out struct {
		TaskID string `json:"task_id"`
		Code   string `json:"code"`
	}
	if err := c.call(ctx, "submit", http.MethodPost, "/transfer", doc, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.TaskID) == "" {
		return "", errors.New("transfer submit: response missing task_id")
	}
	if out.Code == "Duplicate" {
		c.logger.Info("transfer already submitted under this submission id",
			logging.String("submission_id", req.SubmissionID),
			logging.String(logging.FieldTaskID, out.TaskID))
	}
	return out.TaskID, nil
}

type taskDocument struct {
	TaskID           string `json:"task_id"`
	Status           string `json:"status"`
	NiceStatus       string `json:"nice_status"`
	Files            int    `json:"files"`
	FilesTransferred int    `json:"files_transferred"`
	BytesTransferred int64  `json:"bytes_transferred"`
	CompletionTime   string `json:"completion_time"`
}

// TaskStatus fetches the state of taskID. An unknown task reports
// StateNotFound without error.
func (c *HTTPClient) TaskStatus(ctx context.Context, taskID string) (TaskInfo, error) {
	var doc taskDocument
	err := c.call(ctx, "task", http.MethodGet, "/task/"+url.PathEscape(taskID), nil, &doc)
	if errors.Is(err, ErrNotFound) {
		return TaskInfo{TaskID: taskID, State: StateNotFound}, nil
	}
	if err != nil {
		return TaskInfo{}, err
	}
	info := TaskInfo{
		TaskID:           taskID,
		State:            TaskState(strings.ToUpper(strings.TrimSpace(doc.Status))),
		Files:            doc.Files,
		FilesTransferred: doc.FilesTransferred,
		BytesTransferred: doc.BytesTransferred,
		NiceStatus:       doc.NiceStatus,
	}
	if doc.CompletionTime != "" {
		if t, ok := parseCompletionTime(doc.CompletionTime); ok {
			info.CompletedAt = &t
		}
	}
	return info, nil
}

// RefreshCredentials forces a new access token.
func (c *HTTPClient) RefreshCredentials(ctx context.Context) error {
	_, err := c.tokens.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("refresh transfer credentials: %w", err)
	}
	c.logger.Info("transfer credentials refreshed")
	return nil
}

func parseCompletionTime(value string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func (c *HTTPClient) call(ctx context.Context, op, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("transfer %s: encode body: %w", op, err)
		}
		payload = encoded
	}

	attempts := c.retryMaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		body, err := c.doOnce(ctx, op, method, path, payload)
		if err == nil {
			if out == nil || len(bytes.TrimSpace(body)) == 0 {
				return nil
			}
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("transfer %s: decode response: %w", op, err)
			}
			return nil
		}
		lastErr = err
		delay, retry := c.retryDelay(ctx, err, attempt, attempts)
		if !retry {
			return err
		}
		c.logger.Debug("retrying transfer request",
			logging.String("op", op),
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Error(err))
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("transfer %s: failed after %d attempts: %w", op, attempts, lastErr)
}

func (c *HTTPClient) doOnce(ctx context.Context, op, method, path string, payload []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("transfer %s: rate limiter: %w", op, err)
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("transfer %s: new request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transfer %s: http error: %w", op, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("transfer %s: read body: %w", op, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return body, &StatusError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       string(body),
			RetryAfter: retryAfter,
		}
	}
	return body, nil
}
