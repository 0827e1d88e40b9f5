package transfer

import (
	"context"
	"errors"
	"fmt"
)

// WithFreshCredentials runs call and, when the service rejects the access
// token, refreshes it once and runs call again. A second rejection is
// returned to the caller.
func WithFreshCredentials[T any](ctx context.Context, svc Service, call func() (T, error)) (T, error) {
	out, err := call()
	if err == nil || !errors.Is(err, ErrUnauthorized) {
		return out, err
	}
	if refreshErr := svc.RefreshCredentials(ctx); refreshErr != nil {
		var zero T
		return zero, fmt.Errorf("%w (refresh failed: %v)", err, refreshErr)
	}
	return call()
}
