package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestCategoryString(t *testing.T) {
	tests := []struct {
		category Category
		expected string
	}{
		{CategoryTransient, "transient"},
		{CategoryPermanent, "permanent"},
		{CategoryRecoverable, "recoverable"},
		{Category(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.category.String(); got != tt.expected {
				t.Errorf("Category(%d).String() = %s, want %s", tt.category, got, tt.expected)
			}
		})
	}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Category
	}{
		{"nil error", nil, CategoryPermanent},
		{"HTTP 429", &HTTPError{StatusCode: 429}, CategoryTransient},
		{"HTTP 503", &HTTPError{StatusCode: 503}, CategoryTransient},
		{"HTTP 500", &HTTPError{StatusCode: 500}, CategoryTransient},
		{"HTTP 401", &HTTPError{StatusCode: 401}, CategoryPermanent},
		{"HTTP 404", &HTTPError{StatusCode: 404}, CategoryPermanent},
		{"timeout", &TimeoutError{Operation: "complete", Duration: "30s"}, CategoryTransient},
		{"provider rate limited", &ProviderError{Provider: "gemini", StatusCode: 429}, CategoryTransient},
		{"provider bad key", &ProviderError{Provider: "anthropic", StatusCode: 401}, CategoryPermanent},
		{"provider wrapping timeout", &ProviderError{Provider: "gemini", Err: &TimeoutError{}}, CategoryTransient},
		{"provider opaque", &ProviderError{Provider: "gemini", Err: errors.New("boom")}, CategoryPermanent},
		{"sanitization", &SanitizationError{Reason: "unbalanced"}, CategoryPermanent},
		{"planning", &PlanningError{Question: "q", Err: errors.New("x")}, CategoryPermanent},
		{"store", &StoreError{Op: "aggregate", Collection: "sales", Err: errors.New("x")}, CategoryPermanent},
		{"classification", &ClassificationError{Raw: "Weather"}, CategoryRecoverable},
		{"chart fault", &ChartGenerationFault{Stage: "execute", Err: errors.New("x")}, CategoryRecoverable},
		{"categorized", &CategorizedError{Category: CategoryTransient}, CategoryTransient},
		{"context canceled", fmt.Errorf("call: %w", context.Canceled), CategoryPermanent},
		{"deadline", context.DeadlineExceeded, CategoryPermanent},
		{"unknown", errors.New("unknown"), CategoryPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Categorize(tt.err); got != tt.expected {
				t.Errorf("Categorize() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestCategorize_Wrapped(t *testing.T) {
	err := fmt.Errorf("turn failed: %w", &PlanningError{
		Question: "sales by store",
		Err:      &SanitizationError{Reason: "not a stage list"},
	})

	if got := Categorize(err); got != CategoryPermanent {
		t.Errorf("Categorize() = %s, want permanent", got)
	}

	var san *SanitizationError
	if !errors.As(err, &san) {
		t.Fatal("expected SanitizationError in chain")
	}
	if san.Reason != "not a stage list" {
		t.Errorf("Reason = %q", san.Reason)
	}
}

func TestCategorizedError(t *testing.T) {
	base := errors.New("rate limited")
	err := Transient(base, "complete")
	err.Retries = 2

	if !errors.Is(err, base) {
		t.Error("expected errors.Is to find the base error")
	}
	want := "complete: rate limited (category: transient, attempts: 2)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	if Permanent(base, "").Error() != "rate limited (category: permanent, attempts: 0)" {
		t.Errorf("unexpected message: %s", Permanent(base, "").Error())
	}
	if Recoverable(base, "x").Category != CategoryRecoverable {
		t.Error("Recoverable() should set CategoryRecoverable")
	}
}

func TestHelperFunctions(t *testing.T) {
	if !IsRetryable(&HTTPError{StatusCode: 503}) {
		t.Error("503 should be retryable")
	}
	if IsRetryable(&StoreError{Err: errors.New("x")}) {
		t.Error("store errors should not be retryable")
	}
	if !IsRecoverable(&ChartGenerationFault{Stage: "generate"}) {
		t.Error("chart faults should be recoverable")
	}
	if IsRecoverable(&PlanningError{}) {
		t.Error("planning errors should not be recoverable")
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		err      error
		contains string
	}{
		{&HTTPError{StatusCode: 502, Message: "bad gateway", Endpoint: "/assets"}, "HTTP 502 at /assets: bad gateway"},
		{&HTTPError{StatusCode: 500, Message: "oops"}, "HTTP 500: oops"},
		{&SanitizationError{Reason: "unparseable date", Err: errors.New("bad month")}, "sanitize: unparseable date: bad month"},
		{&SanitizationError{Reason: "empty"}, "sanitize: empty"},
		{&PlanningError{Question: "q", Err: errors.New("x")}, `plan query "q": x`},
		{&StoreError{Op: "insert", Collection: "sales", Err: errors.New("x")}, "store insert sales: x"},
		{&ChartGenerationFault{Stage: "execute", Err: errors.New("no fig")}, "chart execute: no fig"},
		{&ProviderError{Provider: "gemini", StatusCode: 429, Err: errors.New("slow down")}, "provider gemini (HTTP 429): slow down"},
		{&ProviderError{Provider: "gemini", Err: errors.New("x")}, "provider gemini: x"},
		{&ClassificationError{Raw: "Weather"}, `unknown label "Weather"`},
		{&TimeoutError{Operation: "execute", Duration: "30s"}, "timeout after 30s: execute"},
	}

	for _, tt := range tests {
		if !strings.Contains(tt.err.Error(), tt.contains) {
			t.Errorf("%T.Error() = %q, want it to contain %q", tt.err, tt.err.Error(), tt.contains)
		}
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"planning", &PlanningError{Err: &SanitizationError{Reason: "x"}}, MsgInvalidQuery},
		{"sanitization", &SanitizationError{Reason: "x"}, MsgInvalidQuery},
		{"store", fmt.Errorf("node: %w", &StoreError{Err: errors.New("x")}), MsgStoreDown},
		{"provider", &ProviderError{Provider: "gemini"}, MsgProviderDown},
		{"upstream", &HTTPError{StatusCode: 502}, MsgUpstreamDown},
		{"deadline", fmt.Errorf("x: %w", context.DeadlineExceeded), MsgTimeout},
		{"chart", &ChartGenerationFault{Stage: "execute"}, MsgChartFault},
		{"classification", &ClassificationError{}, MsgClassification},
		{"other", errors.New("x"), MsgInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UserMessage(tt.err); got != tt.want {
				t.Errorf("UserMessage() = %q, want %q", got, tt.want)
			}
		})
	}

	if !strings.HasPrefix(MsgStoreDown, "System error") {
		t.Error("system failures must be distinguishable from no-data answers")
	}
}
