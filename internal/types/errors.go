package types

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors shared across the engine. Components wrap these with
// fmt.Errorf("...: %w", err) so callers can classify with errors.Is.
var (
	ErrValidation     = errors.New("validation failed")
	ErrNotFound       = errors.New("not found")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrAuthFailure    = errors.New("authentication failed")
	ErrUnavailable    = errors.New("dependency unavailable")
	ErrNotImplemented = errors.New("not implemented")
)

// ValidationError marks a rejected input with the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// RateLimitError carries the retry hint from a 429 response or a local
// limiter window.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: rate limit exceeded, retry after %s", e.Provider, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// PartialIndexError reports an ingestion batch where some writes failed.
// The pipeline surfaces it in IngestResponse.Errors rather than aborting.
type PartialIndexError struct {
	Attempted int
	Failed    int
	Cause     error
}

func (e *PartialIndexError) Error() string {
	return fmt.Sprintf("indexed %d/%d items: %v", e.Attempted-e.Failed, e.Attempted, e.Cause)
}

func (e *PartialIndexError) Unwrap() error { return e.Cause }
