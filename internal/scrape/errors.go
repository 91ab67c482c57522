package scrape

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the manager and stores.
var (
	ErrJobNotFound          = errors.New("scrape job not found")
	ErrInvalidTransition    = errors.New("invalid job status transition")
	ErrInvalidConfiguration = errors.New("invalid job configuration")
	ErrDuplicateLead        = errors.New("lead already persisted")
)

// FailureClass buckets source-level failures for retry selection.
type FailureClass string

// Failure classes reported by source adapters.
const (
	// FailTransient covers network blips and timeouts; retried with the
	// standard backoff class.
	FailTransient FailureClass = "transient"
	// FailCaptcha covers CAPTCHA and rate-governed blocking; retried with a
	// longer backoff class.
	FailCaptcha FailureClass = "captcha"
	// FailConfig covers malformed source configuration; never retried.
	FailConfig FailureClass = "config"
)

// SourceError wraps an adapter failure with its class.
type SourceError struct {
	Source string
	Class  FailureClass
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s (%s): %v", e.Source, e.Class, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// NewSourceError builds a classified source failure.
func NewSourceError(source string, class FailureClass, err error) *SourceError {
	return &SourceError{Source: source, Class: class, Err: err}
}

// ClassifyFailure extracts the failure class, defaulting to transient for
// unclassified errors so unknown failures stay retryable.
func ClassifyFailure(err error) FailureClass {
	var srcErr *SourceError
	if errors.As(err, &srcErr) {
		return srcErr.Class
	}
	return FailTransient
}
