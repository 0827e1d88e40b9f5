package downstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"gantrymon/internal/services"
)

// StatusError carries a non-2xx response from the downstream service.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	return fmt.Sprintf("downstream %s: http %d: %s", e.Op, e.StatusCode, body)
}

// Retryable reports whether the same call may succeed later.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= http.StatusInternalServerError
}

// Is maps the status onto the services sentinels.
func (e *StatusError) Is(target error) bool {
	switch {
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return target == services.ErrUnauthorized
	case e.StatusCode == http.StatusNotFound:
		return target == services.ErrNotFound
	case e.Retryable():
		return target == services.ErrTransient
	}
	return target == services.ErrValidation
}

// Annotation renders the "<status>: <body>" text stored on file records.
func (e *StatusError) Annotation() string {
	return fmt.Sprintf("%d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// IsRetryable classifies any error returned by the client. Status errors
// defer to Retryable; transport errors and timeouts are retryable; request
// building and decoding errors are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
