package transfer

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gantrymon/internal/services"
)

var (
	// ErrUnauthorized reports rejected or expired credentials.
	ErrUnauthorized = errors.New("transfer credentials rejected")
	// ErrNotFound reports an unknown task or resource.
	ErrNotFound = errors.New("transfer resource not found")
)

// StatusError carries a non-2xx response from the transfer service.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	return fmt.Sprintf("transfer %s: http %d: %s", e.Op, e.StatusCode, body)
}

// Is maps status codes onto the package and services sentinels.
func (e *StatusError) Is(target error) bool {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return target == ErrUnauthorized || target == services.ErrUnauthorized
	case http.StatusNotFound:
		return target == ErrNotFound || target == services.ErrNotFound
	}
	if e.Retryable() {
		return target == services.ErrTransient
	}
	return target == services.ErrExternalService
}

// Retryable reports whether the same request may succeed later.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= http.StatusInternalServerError
}
