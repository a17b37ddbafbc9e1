package errors

import (
	"fmt"
	"time"
)

// HTTPError represents an HTTP error with status code.
type HTTPError struct {
	StatusCode int
	Message    string
	Endpoint   string
	// RetryAfter is the server's requested delay, zero if none was sent.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("HTTP %d at %s: %s", e.StatusCode, e.Endpoint, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// TimeoutError indicates an operation timed out.
type TimeoutError struct {
	Operation string
	Duration  string
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %s: %s", e.Duration, e.Operation)
}

// SanitizationError indicates model output could not be turned into a
// well-formed plan.
type SanitizationError struct {
	// Reason is a short description of the failed step.
	Reason string
	// Input is the raw text, possibly truncated.
	Input string
	Err   error
}

func (e *SanitizationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sanitize: %s: %v", e.Reason, e.Err)
	}
	return "sanitize: " + e.Reason
}

func (e *SanitizationError) Unwrap() error { return e.Err }

// PlanningError indicates the planner could not produce an execution plan.
type PlanningError struct {
	Question string
	Err      error
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("plan query %q: %v", e.Question, e.Err)
}

func (e *PlanningError) Unwrap() error { return e.Err }

// StoreError indicates a document store connection or execution failure.
type StoreError struct {
	Op         string
	Collection string
	Err        error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// ChartGenerationFault indicates chart code generation or execution failed.
// It never aborts a turn.
type ChartGenerationFault struct {
	// Stage is "generate" or "execute".
	Stage string
	Err   error
}

func (e *ChartGenerationFault) Error() string {
	return fmt.Sprintf("chart %s: %v", e.Stage, e.Err)
}

func (e *ChartGenerationFault) Unwrap() error { return e.Err }

// ProviderError indicates the text-completion provider failed.
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s (HTTP %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ClassificationError indicates the router could not map model output to a
// known label. Handled as NoContext.
type ClassificationError struct {
	Raw string
	Err error
}

func (e *ClassificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("classify: %v", e.Err)
	}
	return fmt.Sprintf("classify: unknown label %q", e.Raw)
}

func (e *ClassificationError) Unwrap() error { return e.Err }
