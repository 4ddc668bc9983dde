package models

import (
	"errors"
	"fmt"
	"time"
)

// ProviderError wraps any upstream call failure. StatusCode carries the
// HTTP-equivalent code when the provider supplied one (0 otherwise);
// Transient marks failures worth retrying.
type ProviderError struct {
	Provider   string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError classifies a status code into transient vs terminal.
// Request timeouts (408), throttling (429) and server errors (5xx) are the
// only retryable classes.
func NewProviderError(provider string, statusCode int, err error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		StatusCode: statusCode,
		Transient:  statusCode == 408 || statusCode == 429 || statusCode >= 500,
		Err:        err,
	}
}

// TransientProviderError marks a failure with no status code (network
// timeout, dropped connection) as retryable.
func TransientProviderError(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Transient: true, Err: err}
}

// RateLimitError reports an exhausted daily quota. RetryAfter is the time
// until the next window boundary, so callers can schedule deferred retries
// precisely.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("provider %s: daily quota exhausted, retry after %s", e.Provider, e.RetryAfter)
}

// IsTransient reports whether err is a retryable provider failure.
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return false
}
