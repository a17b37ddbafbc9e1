// Package errors provides the error taxonomy, categorization, and retry
// policy shared by the engine, the handlers, and the transports.
//
// The package implements a layered approach:
//   - Taxonomy: typed errors naming where a failure originated
//   - Categorization: transient, permanent, or recoverable
//   - Retry: transport-level retry of transient failures with backoff
//   - Presentation: user-facing text that separates "no data" from "system error"
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Category represents how an error should be handled.
type Category int

const (
	// CategoryTransient indicates retry will likely help.
	// Examples: rate limits, timeouts, temporary network issues.
	CategoryTransient Category = iota

	// CategoryPermanent indicates retry won't help and the turn must fail.
	// Examples: malformed plans, unreachable store, invalid credentials.
	CategoryPermanent

	// CategoryRecoverable indicates the handler converts the failure into a
	// normal answer. Examples: unparseable classification, chart faults.
	CategoryRecoverable
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	case CategoryRecoverable:
		return "recoverable"
	default:
		return "unknown"
	}
}

// CategorizedError wraps an error with its category and context.
type CategorizedError struct {
	// Err is the underlying error.
	Err error

	// Category indicates how this error should be handled.
	Category Category

	// Retries is the number of attempts that have been made.
	Retries int

	// Context describes what operation was being attempted.
	Context string
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (category: %s, attempts: %d)",
			e.Context, e.Err, e.Category, e.Retries)
	}
	return fmt.Sprintf("%s (category: %s, attempts: %d)",
		e.Err, e.Category, e.Retries)
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// NewCategorized creates a new categorized error.
func NewCategorized(err error, category Category, context string) *CategorizedError {
	return &CategorizedError{
		Err:      err,
		Category: category,
		Context:  context,
	}
}

// Transient creates a transient error.
func Transient(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryTransient, context)
}

// Permanent creates a permanent error.
func Permanent(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryPermanent, context)
}

// Recoverable creates a recoverable error.
func Recoverable(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryRecoverable, context)
}

// Categorize determines how an error should be handled.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent // shouldn't happen, fail safe
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}

	// Caller gave up; retrying inside its deadline is pointless.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CategoryPermanent
	}

	var classErr *ClassificationError
	if errors.As(err, &classErr) {
		return CategoryRecoverable
	}

	var chartErr *ChartGenerationFault
	if errors.As(err, &chartErr) {
		return CategoryRecoverable
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return CategoryTransient
	}

	var provErr *ProviderError
	if errors.As(err, &provErr) {
		if provErr.StatusCode != 0 {
			return categorizeStatus(provErr.StatusCode)
		}
		if provErr.Err != nil && provErr.Err != err {
			return Categorize(provErr.Err)
		}
		return CategoryPermanent
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return categorizeStatus(httpErr.StatusCode)
	}

	// Sanitization, planning, and store failures are broken preconditions
	return CategoryPermanent
}

func categorizeStatus(code int) Category {
	switch code {
	case 408, 429, 502, 503, 504:
		return CategoryTransient
	default:
		if code >= 500 {
			return CategoryTransient // server errors are often transient
		}
		return CategoryPermanent
	}
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}

// IsRecoverable reports whether a handler should turn the error into an answer.
func IsRecoverable(err error) bool {
	return Categorize(err) == CategoryRecoverable
}
