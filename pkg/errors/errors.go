// Package errors defines the error taxonomy shared by the API client
// and the download orchestrator. Every failure that crosses a package
// boundary is wrapped in an *Error carrying a Kind, so the retry
// policy can be decided in one place (IsRetryable) instead of being
// scattered through call sites.
package errors

import "fmt"

// Kind classifies an error for the retry decision table.
type Kind string

const (
	KindNetwork     Kind = "network"      // connection errors, timeouts
	KindRateLimit   Kind = "rate_limit"   // HTTP 429
	KindServerError Kind = "server_error" // HTTP 5xx
	KindNotFound    Kind = "not_found"    // HTTP 404, document genuinely absent
	KindBadRequest  Kind = "bad_request"  // HTTP 400, caller bug
	KindParsing     Kind = "parsing"      // malformed response body
	KindLocalIO     Kind = "local_io"     // disk full, permission denied
	KindState       Kind = "state"        // unexpected persistent-state corruption
	KindUnknown     Kind = "unknown"
)

// Error is a classified error with the HTTP status code that produced
// it, when one exists (Code is 0 for non-HTTP failures).
type Error struct {
	Kind    Kind
	Message string
	Code    int
}

func (e *Error) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("%s error (HTTP %d): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

// New creates a classified error.
func New(kind Kind, code int, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Code: code}
}

// IsRetryable reports whether an error of the given kind is worth
// retrying. Not-found and bad-request are permanent; local I/O and
// state errors are fatal to the run, not retried per document.
func IsRetryable(kind Kind) bool {
	switch kind {
	case KindNetwork, KindRateLimit, KindServerError:
		return true
	default:
		return false
	}
}

// IsRetryableStatusCode maps an HTTP status code to retryability.
// Code 0 means the request never produced a response (network error).
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0:
		return true
	case 429:
		return true
	case 400, 401, 403, 404:
		return false
	default:
		return statusCode >= 500
	}
}

// KindForStatusCode classifies an HTTP status code.
func KindForStatusCode(statusCode int) Kind {
	switch {
	case statusCode == 404:
		return KindNotFound
	case statusCode == 429:
		return KindRateLimit
	case statusCode == 400:
		return KindBadRequest
	case statusCode >= 500:
		return KindServerError
	default:
		return KindUnknown
	}
}

// IsFatal reports whether an error kind should abort the whole run
// rather than fail a single record. Continuing after a disk-full or a
// corrupted unique index would fail identically for every document.
func IsFatal(kind Kind) bool {
	return kind == KindLocalIO || kind == KindState
}
