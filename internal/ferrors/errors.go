// Package ferrors defines the closed error taxonomy the ingestion engine
// uses to decide retry-vs-terminal behavior for fetch and crawl-queue
// failures.
package ferrors

import (
	"errors"
	"fmt"
	"time"
)

// Kind is one of the eight closed error categories.
type Kind string

// Error kinds.
const (
	KindTransientFetch Kind = "transient_fetch"
	KindPermanentFetch Kind = "permanent_fetch"
	KindRateLimited    Kind = "rate_limited"
	KindParse          Kind = "parse"
	KindStore          Kind = "store"
	KindIndex          Kind = "index"
	KindPlugin         Kind = "plugin"
	KindConfig         Kind = "config"
)

// Error wraps an underlying cause with a Kind and enough context for the
// scheduler to decide retry vs. terminal failure.
type Error struct {
	Kind    Kind
	URL     string
	Retries int
	Cause   error

	// RetryAfter is set on KindRateLimited errors to the duration a 429
	// response's Retry-After header asked the caller to wait before
	// trying the domain again.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("%s: %s (retries=%d): %v", e.Kind, e.URL, e.Retries, e.Cause)
	}

	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether errors of this kind should be retried by the
// scheduler rather than marked as a terminal failure.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTransientFetch, KindStore, KindIndex, KindRateLimited:
		return true
	case KindPermanentFetch, KindParse, KindPlugin, KindConfig:
		return false
	default:
		return false
	}
}

// TransientFetch wraps a recoverable fetch failure (timeout, 5xx, connection
// reset) that should be retried with backoff.
func TransientFetch(url string, retries int, cause error) *Error {
	return &Error{Kind: KindTransientFetch, URL: url, Retries: retries, Cause: cause}
}

// PermanentFetch wraps an unrecoverable fetch failure (404, robots
// disallow, blocked scheme) that should not be retried.
func PermanentFetch(url string, cause error) *Error {
	return &Error{Kind: KindPermanentFetch, URL: url, Cause: cause}
}

// RateLimited wraps a 429 response, carrying the Retry-After duration the
// scheduler should cool the domain down for before trying it again.
func RateLimited(url string, retryAfter time.Duration, cause error) *Error {
	return &Error{Kind: KindRateLimited, URL: url, RetryAfter: retryAfter, Cause: cause}
}

// Parse wraps a content-extraction failure (malformed document, unsupported
// format).
func Parse(url string, cause error) *Error {
	return &Error{Kind: KindParse, URL: url, Cause: cause}
}

// Store wraps a metadata-store failure.
func Store(cause error) *Error {
	return &Error{Kind: KindStore, Cause: cause}
}

// Index wraps a search-index failure.
func Index(cause error) *Error {
	return &Error{Kind: KindIndex, Cause: cause}
}

// Plugin wraps a sandboxed plugin execution failure.
func Plugin(cause error) *Error {
	return &Error{Kind: KindPlugin, Cause: cause}
}

// Config wraps an invalid-configuration failure (bad lens manifest, bad
// settings value).
func Config(cause error) *Error {
	return &Error{Kind: KindConfig, Cause: cause}
}

// KindOf extracts the Kind from err if it (or something it wraps) is a
// *Error, and ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}

	return "", false
}
