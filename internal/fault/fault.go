// Package fault defines the error taxonomy shared by the sync engine and the
// retrieval layer.
//
// Four sentinel categories cover every provider failure the application has
// to react to differently:
//
//   - ErrTransient: rate limits, timeouts, flaky upstreams. Retried only
//     where a retry is cheap (a single batch item); otherwise surfaced.
//   - ErrPermanentInput: unsupported types, malformed blobs. Skipped and
//     logged, never retried.
//   - ErrAuthExpired: stale repository credentials. Surfaced distinctly so
//     callers can prompt for re-authentication instead of retrying blindly.
//   - ErrRunLevel: failures that invalidate a whole sync run (unreachable
//     crawl root, store creation failure).
//
// Callers classify with errors.Is; producers wrap with
// fmt.Errorf("%w: ...", fault.ErrXxx).
package fault

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrTransient indicates a temporary provider failure worth retrying.
	ErrTransient = errors.New("transient provider error")

	// ErrPermanentInput indicates input the provider will never accept.
	ErrPermanentInput = errors.New("permanent input error")

	// ErrAuthExpired indicates a stale or revoked credential.
	ErrAuthExpired = errors.New("authentication expired")

	// ErrRunLevel indicates a failure that aborts a whole sync run.
	ErrRunLevel = errors.New("run-level failure")
)

// FromStatus maps an HTTP status code from an external provider onto the
// taxonomy. The returned error wraps the matching sentinel and carries the
// provider's message for logs.
func FromStatus(status int, message string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: status %d: %s", ErrAuthExpired, status, message)
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrTransient, status, message)
	case status == http.StatusBadRequest || status == http.StatusUnsupportedMediaType ||
		status == http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%w: status %d: %s", ErrPermanentInput, status, message)
	default:
		return fmt.Errorf("provider error: status %d: %s", status, message)
	}
}

// transientPatterns groups error substrings by category, matched
// case-insensitively against err.Error().
//
// NOTE: String matching is used because the LLM and storage SDKs do not
// expose typed errors for transient failures. This is a documented exception
// to the rule against strings.Contains(err.Error(), ...).
var transientPatterns = [][]string{
	{"rate limit", "quota exceeded", "429"},      // rate limiting
	{"500", "502", "503", "504", "unavailable"},  // transient server errors
	{"connection reset", "timeout", "temporary"}, // network errors
}

// IsTransient reports whether err looks like a temporary provider failure.
// Errors already wrapping ErrTransient match without string inspection.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	if errors.Is(err, ErrAuthExpired) || errors.Is(err, ErrPermanentInput) || errors.Is(err, ErrRunLevel) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, group := range transientPatterns {
		for _, pattern := range group {
			if strings.Contains(msg, pattern) {
				return true
			}
		}
	}
	return false
}
