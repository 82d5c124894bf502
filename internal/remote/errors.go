package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors used for transport failure classification.
var (
	// ErrUnauthorized marks an expired or invalid credential. The
	// failover client reacts with one forced refresh and retry before
	// falling back to the gateway.
	ErrUnauthorized = errors.New("remote: unauthorized")

	// ErrNotFound marks a missing document. Typed loaders treat it as
	// an empty collection.
	ErrNotFound = errors.New("remote: document not found")

	// ErrNoCredentials means no credential source is configured at
	// all; only the gateway transport can serve the operation.
	ErrNoCredentials = errors.New("remote: no credentials available")
)

// authRequiredMarker is the prefix the gateway uses to signal that the
// family must complete a one-time consent step. The remainder of the
// message is "<url>|<human-readable reason>".
const authRequiredMarker = "AUTH_REQUIRED:"

// AuthRequiredError reports that the remote store requires an explicit
// user consent step. It is a distinct terminal outcome: the caller
// should surface URL as a "re-authorize" action, never retry silently.
type AuthRequiredError struct {
	URL    string
	Reason string
}

func (e *AuthRequiredError) Error() string {
	return fmt.Sprintf("remote: authorization required: %s (%s)", e.Reason, e.URL)
}

// parseAuthRequired extracts an AuthRequiredError from a gateway error
// message, or nil when the marker is absent.
func parseAuthRequired(msg string) *AuthRequiredError {
	idx := strings.Index(msg, authRequiredMarker)
	if idx < 0 {
		return nil
	}
	rest := strings.TrimSpace(msg[idx+len(authRequiredMarker):])
	url, reason, found := strings.Cut(rest, "|")
	if !found {
		reason = "authorization required"
	}
	return &AuthRequiredError{URL: strings.TrimSpace(url), Reason: strings.TrimSpace(reason)}
}

// IsUnauthorized reports whether err is a credential failure.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsAuthRequired reports whether err carries an AuthRequiredError.
func IsAuthRequired(err error) bool {
	var are *AuthRequiredError
	return errors.As(err, &are)
}

// isNotFound reports whether err marks a missing document.
func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// isCancellation reports whether err is a caller cancellation. Such
// errors must propagate out of the retry/fallback logic unmodified so
// the caller can stop waiting.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
