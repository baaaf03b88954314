package seo

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across subsystems.
var (
	// ErrConflict signals an operation that is invalid for the audit's
	// current status, e.g. starting an already-running audit. Callers must
	// treat it as non-fatal.
	ErrConflict = errors.New("conflicting audit state")

	// ErrNotFound signals that a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
)

// ApprovalRequiredError signals that robots.txt could not be obtained and a
// human must approve the audit before crawling proceeds. It is a deliberate
// gate, not a failure.
type ApprovalRequiredError struct {
	Host  string
	Cause error
}

func (e *ApprovalRequiredError) Error() string {
	return fmt.Sprintf("robots.txt for %s unavailable, approval required: %v", e.Host, e.Cause)
}

func (e *ApprovalRequiredError) Unwrap() error { return e.Cause }

// NetworkError wraps transient fetch failures (DNS, connection, timeout).
// The queue retries these up to its attempt budget.
type NetworkError struct {
	URL   string
	Cause error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Cause)
}

func (e *NetworkError) Unwrap() error { return e.Cause }

// ParseError wraps malformed-HTML failures. Extraction degrades to partial
// data; a ParseError never fails the job.
type ParseError struct {
	URL   string
	Cause error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.URL, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// IsRetryable reports whether err should be retried by the queue.
func IsRetryable(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// IsApprovalRequired reports whether err is the robots approval gate.
func IsApprovalRequired(err error) bool {
	var appErr *ApprovalRequiredError
	return errors.As(err, &appErr)
}

// Conflictf builds an ErrConflict with a caller-facing explanation of why
// the transition was rejected.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrConflict)
}
