package catalog

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Severity ranks how urgently a failure class needs operator attention.
type Severity int

// Severity levels, lowest first.
const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// FailureClass partitions request failures for backoff and statistics.
type FailureClass string

// Failure classes ordered by backoff aggressiveness (blocking longest).
const (
	FailureBlocking   FailureClass = "blocking"
	FailureRateLimit  FailureClass = "rate_limit"
	FailureNetwork    FailureClass = "network"
	FailureParsing    FailureClass = "parsing"
	FailureValidation FailureClass = "validation"
	FailureGeneric    FailureClass = "generic"
)

// NetworkError wraps a transient transport failure. Retryable.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network error fetching %s: %v", e.URL, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// ParsingError marks a structurally malformed payload. A malformed payload is
// deterministic, so retrying the same URL cannot help. Not retryable.
type ParsingError struct {
	URL    string
	Reason string
}

func (e *ParsingError) Error() string { return fmt.Sprintf("parse failure at %s: %s", e.URL, e.Reason) }

// ValidationError marks a record missing required identifying fields. The
// record is skipped; siblings in the same page continue. Not retryable.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid record: field %q %s", e.Field, e.Reason)
}

// RateLimitError marks a throttling response. Retryable with a longer backoff.
type RateLimitError struct {
	URL        string
	StatusCode int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited at %s (status %d)", e.URL, e.StatusCode)
}

// BlockingError marks an anti-bot rejection. Retryable after identity
// rotation, with the longest backoff.
type BlockingError struct {
	URL        string
	StatusCode int
}

func (e *BlockingError) Error() string {
	return fmt.Sprintf("blocked at %s (status %d)", e.URL, e.StatusCode)
}

// Classify maps an error onto its failure class for backoff and statistics.
func Classify(err error) FailureClass {
	if err == nil {
		return FailureGeneric
	}
	var blockErr *BlockingError
	if errors.As(err, &blockErr) {
		return FailureBlocking
	}
	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		return FailureRateLimit
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return FailureNetwork
	}
	var parseErr *ParsingError
	if errors.As(err, &parseErr) {
		return FailureParsing
	}
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return FailureValidation
	}
	var stdNetErr net.Error
	if errors.As(err, &stdNetErr) {
		return FailureNetwork
	}
	return FailureGeneric
}

// Retryable reports whether the failure class may succeed on a later attempt.
func (c FailureClass) Retryable() bool {
	switch c {
	case FailureBlocking, FailureRateLimit, FailureNetwork, FailureGeneric:
		return true
	default:
		return false
	}
}

// Severity returns the class severity used by the statistics summary.
func (c FailureClass) Severity() Severity {
	switch c {
	case FailureBlocking:
		return SeverityCritical
	case FailureRateLimit:
		return SeverityHigh
	case FailureNetwork, FailureParsing, FailureGeneric:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// ClassifyStatus converts an HTTP status into the matching typed error, or nil
// for success statuses.
func ClassifyStatus(url string, status int) error {
	switch {
	case status == http.StatusForbidden, status == http.StatusProxyAuthRequired:
		return &BlockingError{URL: url, StatusCode: status}
	case status == http.StatusTooManyRequests:
		return &RateLimitError{URL: url, StatusCode: status}
	case status >= 500:
		return &NetworkError{URL: url, Err: fmt.Errorf("server status %d", status)}
	case status >= 400:
		return &NetworkError{URL: url, Err: fmt.Errorf("client status %d", status)}
	default:
		return nil
	}
}

// ClassifyFetchError wraps a transport-level error from the fetcher into the
// taxonomy, preserving context cancellation untouched.
func ClassifyFetchError(url string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &NetworkError{URL: url, Err: err}
}
