package completion

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTimeout reports that the completion call exceeded its deadline
	// and was cancelled in flight.
	ErrTimeout = errors.New("completion request timed out")
	// ErrRateLimited reports rejection by the rate limiter. It is never
	// retried.
	ErrRateLimited = errors.New("rate limit exceeded, please try again later")
)

// UpstreamError carries the status code and message of a non-success
// response from the completion API.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("completion upstream returned %d: %s", e.Status, e.Message)
}

// Retryable reports whether a completion failure is transient. Credential,
// configuration and quota problems don't get better by asking again.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"api key", "api_key", "credential", "quota", "billing"} {
		if strings.Contains(msg, marker) {
			return false
		}
	}
	return true
}
