// Package transfer talks to the managed file-transfer service that moves
// batches from the gantry endpoint to the archive endpoint.
//
// # Entry Points
//
// NewClient builds an HTTPClient from the [transfer] config section.
// HTTPClient.SubmissionID reserves an idempotency key for a batch.
// HTTPClient.Submit starts a transfer task for a batch of items.
// HTTPClient.TaskStatus reports the service-side state of a task.
// HTTPClient.RefreshCredentials forces a new access token.
//
// # Credentials
//
// TokenManager performs a password grant against <base_url>/token and caches
// the access token in <state_dir>/transfer_auth.json (mode 0600) until it is
// close to expiry or older than transfer.auth_refresh_interval.
//
// # Retry Behaviour
//
// Requests are rate limited with transfer.rate_limit and retried on HTTP
// 408/429/5xx and network timeouts with exponential backoff. 401 surfaces as
// ErrUnauthorized so callers can refresh credentials once and try again.
package transfer
