package types

import (
	"errors"
	"fmt"
)

// Kind classifies review errors so callers can decide on fallback behavior
// without string matching.
type Kind string

const (
	KindNetwork                Kind = "network"
	KindAuth                   Kind = "auth"
	KindRateLimited            Kind = "rate_limited"
	KindPlatformRejected       Kind = "platform_rejected"
	KindMalformedModelOutput   Kind = "malformed_model_output"
	KindCheckpointDecode       Kind = "checkpoint_decode"
	KindIncrementalDiverged    Kind = "incremental_diverged"
	KindIncrementalMissingBase Kind = "incremental_missing_base"
	KindPostFailed             Kind = "post_failed"
	KindFatal                  Kind = "fatal"
)

// ReviewError carries a Kind alongside the underlying error.
type ReviewError struct {
	Kind Kind
	Err  error
}

func (e *ReviewError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ReviewError) Unwrap() error {
	return e.Err
}

// NewError wraps err with the given kind.
func NewError(kind Kind, err error) error {
	return &ReviewError{Kind: kind, Err: err}
}

// Errorf is NewError with fmt.Errorf formatting.
func Errorf(kind Kind, format string, args ...any) error {
	return &ReviewError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of err, or KindFatal if err carries none.
func KindOf(err error) Kind {
	var re *ReviewError
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindFatal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var re *ReviewError
	return errors.As(err, &re) && re.Kind == kind
}

// RetryableError marks an error as transient (network timeout, rate limit,
// temporary server unavailability).
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error: %v", e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError wraps an existing error as a RetryableError.
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err is marked retryable.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}
