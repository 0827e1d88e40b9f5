package downstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"gantrymon/internal/config"
	"gantrymon/internal/logging"
	"gantrymon/internal/pending"
)

const defaultHTTPTimeout = 120 * time.Second

// TaskNotice announces a new or completed transfer task.
type TaskNotice struct {
	TaskID   string
	User     string
	Contents pending.Manifests
}

// CollectionSpec describes a collection to create.
type CollectionSpec struct {
	Name     string
	ParentID string
	SpaceID  string
}

// DatasetSpec describes a dataset to create.
type DatasetSpec struct {
	Name         string
	CollectionID string
	SpaceID      string
}

// StoredFile is a file already registered in a dataset.
type StoredFile struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Filepath string `json:"filepath"`
}

// Upload references a file by its archive path. The bytes are not sent; the
// downstream service reads them from shared storage.
type Upload struct {
	Path     string
	Metadata map[string]any
}

// UploadedFile maps an uploaded file to its new id. Path is set when the
// response identifies the file unambiguously.
type UploadedFile struct {
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
	ID   string `json:"id"`
}

// Store is the downstream contract used by the reconciliation loop and the
// ingestion step.
type Store interface {
	NotifyTask(ctx context.Context, notice TaskNotice) error
	FindCollection(ctx context.Context, name string) (string, bool, error)
	CreateCollection(ctx context.Context, spec CollectionSpec) (string, error)
	FindDataset(ctx context.Context, name string) (string, bool, error)
	CreateDataset(ctx context.Context, spec DatasetSpec) (string, error)
	ListFiles(ctx context.Context, datasetID string) ([]StoredFile, error)
	UploadFiles(ctx context.Context, datasetID string, files []Upload) ([]UploadedFile, error)
	DatasetMetadata(ctx context.Context, datasetID string) ([]map[string]any, error)
	AttachDatasetMetadata(ctx context.Context, datasetID string, content map[string]any) error
	AgentID() string
}

// Client implements Store over HTTP.
type Client struct {
	baseURL    string
	notifyURL  string
	key        string
	username   string
	password   string
	envelope   envelopeConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient builds a client from the downstream config section.
func NewClient(cfg *config.Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.Downstream.RequestTimeout > 0 {
		timeout = config.Seconds(cfg.Downstream.RequestTimeout)
	}
	limit := rate.Inf
	if cfg.Downstream.RateLimit > 0 {
		limit = rate.Limit(cfg.Downstream.RateLimit)
	}
	c := &Client{
		baseURL:   strings.TrimRight(strings.TrimSpace(cfg.Downstream.BaseURL), "/"),
		notifyURL: strings.TrimRight(strings.TrimSpace(cfg.Downstream.NotifyURL), "/"),
		key:       cfg.Downstream.Key,
		username:  cfg.Downstream.Username,
		password:  cfg.Downstream.Password,
		envelope: envelopeConfig{
			contextURL: cfg.Downstream.ContextURL,
			vocabulary: cfg.Downstream.Vocabulary,
			agentID:    strings.TrimRight(cfg.Downstream.AgentBaseURL, "/") + "/" + cfg.Downstream.UserID,
		},
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.NewComponentLogger(c.logger, "downstream")
	return c
}

// AgentID is the user id stamped on metadata this client attaches.
func (c *Client) AgentID() string {
	return c.envelope.agentID
}

// NotifyTask tells the downstream monitor about a task. Without a
// configured notify_url the call is a no-op.
func (c *Client) NotifyTask(ctx context.Context, notice TaskNotice) error {
	if c.notifyURL == "" {
		return nil
	}
	body := map[string]any{
		"user":      notice.User,
		"globus_id": notice.TaskID,
		"contents":  notice.Contents,
	}
	return c.do(ctx, "notify task", http.MethodPost, c.notifyURL+"/tasks", jsonBody(body), nil)
}

type namedEntity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// FindCollection looks up a collection by exact name.
func (c *Client) FindCollection(ctx context.Context, name string) (string, bool, error) {
	var found []namedEntity
	q := url.Values{"title": {name}, "exact": {"true"}}
	if err := c.do(ctx, "find collection", http.MethodGet, c.api("/collections", q), nil, &found); err != nil {
		return "", false, err
	}
	return matchName(found, name)
}

// CreateCollection creates a collection, nested under ParentID when set.
func (c *Client) CreateCollection(ctx context.Context, spec CollectionSpec) (string, error) {
	payload := map[string]any{"name": spec.Name, "description": ""}
	path := "/collections"
	if spec.ParentID != "" {
		payload["parentId"] = spec.ParentID
		path = "/collections/newCollectionWithParent"
	}
	if spec.SpaceID != "" {
		payload["space"] = spec.SpaceID
	}
	var out namedEntity
	if err := c.do(ctx, "create collection", http.MethodPost, c.api(path, nil), jsonBody(payload), &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("downstream create collection: response missing id")
	}
	return out.ID, nil
}

// FindDataset looks up a dataset by exact name.
func (c *Client) FindDataset(ctx context.Context, name string) (string, bool, error) {
	var found []namedEntity
	q := url.Values{"title": {name}, "exact": {"true"}}
	if err := c.do(ctx, "find dataset", http.MethodGet, c.api("/datasets", q), nil, &found); err != nil {
		return "", false, err
	}
	return matchName(found, name)
}

// CreateDataset creates an empty dataset inside a collection.
func (c *Client) CreateDataset(ctx context.Context, spec DatasetSpec) (string, error) {
	payload := map[string]any{"name": spec.Name, "description": ""}
	if spec.CollectionID != "" {
		payload["collection"] = []string{spec.CollectionID}
	}
	if spec.SpaceID != "" {
		payload["space"] = []string{spec.SpaceID}
	}
	var out namedEntity
	if err := c.do(ctx, "create dataset", http.MethodPost, c.api("/datasets/createempty", nil), jsonBody(payload), &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("downstream create dataset: response missing id")
	}
	return out.ID, nil
}

// ListFiles returns the files registered in a dataset.
func (c *Client) ListFiles(ctx context.Context, datasetID string) ([]StoredFile, error) {
	var files []StoredFile
	path := "/datasets/" + url.PathEscape(datasetID) + "/listFiles"
	if err := c.do(ctx, "list files", http.MethodGet, c.api(path, nil), nil, &files); err != nil {
		return nil, err
	}
	return files, nil
}

// UploadFiles registers files by path in one multipart request.
func (c *Client) UploadFiles(ctx context.Context, datasetID string, files []Upload) ([]UploadedFile, error) {
	if len(files) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		ref := map[string]any{"path": f.Path}
		if len(f.Metadata) > 0 {
			ref["md"] = f.Metadata
		}
		encoded, err := json.Marshal(ref)
		if err != nil {
			return nil, fmt.Errorf("downstream upload: encode reference: %w", err)
		}
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="file"`)
		part, err := mw.CreatePart(header)
		if err != nil {
			return nil, fmt.Errorf("downstream upload: %w", err)
		}
		if _, err := part.Write(encoded); err != nil {
			return nil, fmt.Errorf("downstream upload: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("downstream upload: %w", err)
	}

	var out struct {
		IDs  []UploadedFile `json:"ids"`
		ID   string         `json:"id"`
		Name string         `json:"name"`
	}
	body := &requestBody{data: buf.Bytes(), contentType: mw.FormDataContentType()}
	path := "/uploadToDataset/" + url.PathEscape(datasetID)
	if err := c.do(ctx, "upload files", http.MethodPost, c.api(path, nil), body, &out); err != nil {
		return nil, err
	}
	if len(out.IDs) > 0 {
		return out.IDs, nil
	}
	if out.ID != "" {
		single := UploadedFile{Name: out.Name, ID: out.ID}
		if len(files) == 1 {
			single.Path = files[0].Path
			if single.Name == "" {
				single.Name = baseName(files[0].Path)
			}
		}
		return []UploadedFile{single}, nil
	}
	return nil, nil
}

// DatasetMetadata returns the JSON-LD metadata records of a dataset.
func (c *Client) DatasetMetadata(ctx context.Context, datasetID string) ([]map[string]any, error) {
	var records []map[string]any
	path := "/datasets/" + url.PathEscape(datasetID) + "/metadata.jsonld"
	if err := c.do(ctx, "read metadata", http.MethodGet, c.api(path, nil), nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// AttachDatasetMetadata wraps content in the JSON-LD envelope and attaches it.
func (c *Client) AttachDatasetMetadata(ctx context.Context, datasetID string, content map[string]any) error {
	path := "/datasets/" + url.PathEscape(datasetID) + "/metadata.jsonld"
	return c.do(ctx, "attach metadata", http.MethodPost, c.api(path, nil), jsonBody(c.envelope.wrap(content)), nil)
}

func (c *Client) api(path string, q url.Values) string {
	if q == nil {
		q = url.Values{}
	}
	if c.key != "" {
		q.Set("key", c.key)
	}
	u := c.baseURL + "/api" + path
	if encoded := q.Encode(); encoded != "" {
		u += "?" + encoded
	}
	return u
}

type requestBody struct {
	data        []byte
	contentType string
}

func jsonBody(v any) *requestBody {
	data, err := json.Marshal(v)
	if err != nil {
		// Only maps of JSON-decoded values reach here.
		data = []byte("null")
	}
	return &requestBody{data: data, contentType: "application/json"}
}

func (c *Client) do(ctx context.Context, op, method, target string, in *requestBody, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("downstream %s: rate limiter: %w", op, err)
	}
	var reader io.Reader
	if in != nil {
		reader = bytes.NewReader(in.data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("downstream %s: new request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", in.contentType)
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("downstream %s: http error: %w", op, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("downstream %s: read body: %w", op, err)
	}
	c.logger.Debug("downstream request",
		logging.String("op", op),
		logging.Int("status", resp.StatusCode),
		logging.Duration("elapsed", time.Since(start)))
	if resp.StatusCode >= http.StatusMultipleChoices {
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: string(body)}
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("downstream %s: decode response: %w", op, err)
	}
	return nil
}

func matchName(found []namedEntity, name string) (string, bool, error) {
	for _, e := range found {
		if e.Name == name && e.ID != "" {
			return e.ID, true, nil
		}
	}
	return "", false, nil
}

func baseName(p string) string {
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}
