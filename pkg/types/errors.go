package types

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorKind classifies import failures so callers can map them to HTTP
// statuses and user-facing behaviour without string matching.
type ErrorKind string

const (
	// KindInvalidInput marks a malformed URL or file.
	KindInvalidInput ErrorKind = "invalid_input"
	// KindBlockedBySource marks a site that rejects automated access or
	// serves a challenge page instead of content.
	KindBlockedBySource ErrorKind = "blocked_by_source"
	// KindTimeout marks a fetch or AI call that exceeded its deadline.
	KindTimeout ErrorKind = "timeout"
	// KindFetchFailed marks a non-2xx, non-block HTTP failure.
	KindFetchFailed ErrorKind = "fetch_failed"
	// KindRateLimited marks either the local usage budget or the
	// provider's own throttling.
	KindRateLimited ErrorKind = "rate_limited"
	// KindServiceUnavailable marks a missing or invalid AI credential.
	KindServiceUnavailable ErrorKind = "service_unavailable"
	// KindMalformedExtraction marks AI output that did not parse into a
	// valid recipe.
	KindMalformedExtraction ErrorKind = "malformed_extraction"
	// KindExtractionFailed is the catch-all for unclassified provider errors.
	KindExtractionFailed ErrorKind = "extraction_failed"
)

// ImportError is the typed failure produced by every import component.
type ImportError struct {
	Kind    ErrorKind
	Message string
	// RetryAfter carries a human-actionable reset estimate for
	// rate-limited failures; zero otherwise.
	RetryAfter time.Duration
	Err        error
}

func (e *ImportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ImportError) Unwrap() error { return e.Err }

// HTTPStatus maps the error kind to its HTTP-equivalent status.
func (e *ImportError) HTTPStatus() int {
	switch e.Kind {
	case KindInvalidInput, KindBlockedBySource, KindFetchFailed:
		return http.StatusBadRequest
	case KindTimeout:
		return http.StatusRequestTimeout
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		// Credential and extraction failures are operator-actionable.
		return http.StatusInternalServerError
	}
}

// NewImportError builds an ImportError without an underlying cause.
func NewImportError(kind ErrorKind, format string, args ...any) *ImportError {
	return &ImportError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapImportError attaches an underlying cause to a classified failure.
func WrapImportError(kind ErrorKind, err error, format string, args ...any) *ImportError {
	return &ImportError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from err, or "" when err carries no
// classification.
func KindOf(err error) ErrorKind {
	var ie *ImportError
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return ""
}

// IsRateLimited reports whether err is a rate-limit-class failure from
// either the local budget or the upstream provider.
func IsRateLimited(err error) bool {
	return KindOf(err) == KindRateLimited
}
