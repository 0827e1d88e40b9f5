package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"gantrymon/internal/fileutil"
)

const (
	tokenRefreshLeeway = 5 * time.Minute
	defaultTokenTTL    = 12 * time.Hour
)

// ErrCredentialsMissing is returned when no username/password is configured.
var ErrCredentialsMissing = errors.New("transfer username and password not configured")

// TokenStore abstracts persistence of cached credentials.
type TokenStore interface {
	Load() (tokenState, error)
	Save(tokenState) error
}

type tokenState struct {
	ClientIdentifier string    `json:"client_identifier"`
	AccessToken      string    `json:"access_token"`
	IssuedAt         time.Time `json:"issued_at"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// FileTokenStore keeps token state in a durable JSON file readable only by
// the daemon user.
type FileTokenStore struct {
	path string
}

// NewFileTokenStore builds a FileTokenStore at path.
func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{path: path}
}

// Load reads token state. A missing file resolves to an empty state.
func (s *FileTokenStore) Load() (tokenState, error) {
	var state tokenState
	if _, err := fileutil.ReadJSON(s.path, &state); err != nil {
		return tokenState{}, fmt.Errorf("read transfer auth state: %w", err)
	}
	return state, nil
}

// Save persists token state with restricted permissions.
func (s *FileTokenStore) Save(state tokenState) error {
	if err := fileutil.WriteJSON(s.path, state, 0o600); err != nil {
		return fmt.Errorf("write transfer auth state: %w", err)
	}
	return nil
}

// TokenManager obtains and caches transfer-service access tokens.
type TokenManager struct {
	tokenURL   string
	username   string
	password   string
	maxAge     time.Duration
	httpClient *http.Client
	store      TokenStore
	now        func() time.Time

	mu    sync.Mutex
	state tokenState
}

// NewTokenManager loads cached state and assigns a client identifier on
// first use.
func NewTokenManager(tokenURL, username, password string, maxAge time.Duration, httpClient *http.Client, store TokenStore) (*TokenManager, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	m := &TokenManager{
		tokenURL:   tokenURL,
		username:   strings.TrimSpace(username),
		password:   password,
		maxAge:     maxAge,
		httpClient: httpClient,
		store:      store,
		now:        time.Now,
	}
	if store == nil {
		return m, nil
	}
	state, err := store.Load()
	if err != nil {
		return nil, err
	}
	if state.ClientIdentifier == "" {
		state.ClientIdentifier = strings.ReplaceAll(uuid.New().String(), "-", "")
		if err := store.Save(state); err != nil {
			return nil, err
		}
	}
	m.state = state
	return m, nil
}

// ClientIdentifier returns the identifier sent with every token request.
func (m *TokenManager) ClientIdentifier() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.ClientIdentifier
}

// Token returns a cached token or fetches a new one.
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.validLocked() {
		return m.state.AccessToken, nil
	}
	return m.fetchLocked(ctx)
}

// Refresh discards the cached token and fetches a new one.
func (m *TokenManager) Refresh(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchLocked(ctx)
}

func (m *TokenManager) validLocked() bool {
	if m.state.AccessToken == "" {
		return false
	}
	now := m.now()
	if !m.state.ExpiresAt.IsZero() && now.Add(tokenRefreshLeeway).After(m.state.ExpiresAt) {
		return false
	}
	if m.maxAge > 0 && !m.state.IssuedAt.IsZero() && now.Sub(m.state.IssuedAt) >= m.maxAge {
		return false
	}
	return true
}

type tokenResponse struct {
	AccessToken string  `json:"access_token"`
	ExpiresIn   float64 `json:"expires_in"`
	TokenType   string  `json:"token_type"`
}

func (m *TokenManager) fetchLocked(ctx context.Context) (string, error) {
	if m.username == "" || m.password == "" {
		return "", ErrCredentialsMissing
	}
	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", m.username)
	form.Set("password", m.password)
	if m.state.ClientIdentifier != "" {
		form.Set("client_id", m.state.ClientIdentifier)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("transfer token: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transfer token: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("transfer token: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", &StatusError{Op: "token", StatusCode: resp.StatusCode, Body: string(body)}
	}
	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("transfer token: decode response: %w", err)
	}
	if strings.TrimSpace(parsed.AccessToken) == "" {
		return "", errors.New("transfer token: empty access token")
	}

	now := m.now().UTC()
	ttl := defaultTokenTTL
	if parsed.ExpiresIn > 0 {
		ttl = time.Duration(parsed.ExpiresIn) * time.Second
	}
	next := m.state
	next.AccessToken = parsed.AccessToken
	next.IssuedAt = now
	next.ExpiresAt = now.Add(ttl)
	if m.store != nil {
		if err := m.store.Save(next); err != nil {
			return "", err
		}
	}
	m.state = next
	return next.AccessToken, nil
}
