package ward

import "fmt"

// APIError is a failure reported by the remote management API. Server-side
// (5xx) failures are classified as retryable; client-side (4xx) failures —
// validation, auth, missing resources — are not.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether the failure may succeed if retried. It feeds the
// default retry classification via retrier.IsTemporary.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500
}
