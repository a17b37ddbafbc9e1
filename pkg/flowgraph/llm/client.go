package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	fgerrors "github.com/randalmurphal/insightgraph/pkg/flowgraph/errors"
)

// Client is the text-completion capability.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

var (
	// ErrContentFiltered is returned when the provider refused to answer.
	// Callers treat it as a handled outcome, not a fault.
	ErrContentFiltered = errors.New("completion blocked by provider content filter")

	// ErrMalformedOutput is returned by CompleteStructured when the
	// completion does not decode into the requested type.
	ErrMalformedOutput = errors.New("completion is not valid JSON for the requested type")
)

// CompleteText runs a single completion and returns the trimmed text.
func CompleteText(ctx context.Context, c Client, req CompletionRequest) (string, error) {
	resp, err := c.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// CompleteStructured runs a completion and decodes its JSON payload into T.
// Code fences around the payload are removed first.
func CompleteStructured[T any](ctx context.Context, c Client, req CompletionRequest) (T, error) {
	var out T
	text, err := CompleteText(ctx, c, req)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal([]byte(StripFences(text)), &out); err != nil {
		return out, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return out, nil
}

// StripFences removes a surrounding markdown code fence such as ```json.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// Drop the language tag line.
		if !strings.ContainsAny(s[:nl], "{[\"") {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// retryClient retries transient provider failures.
type retryClient struct {
	next Client
	cfg  fgerrors.RetryConfig
}

// WithRetry wraps c so transient failures (rate limits, 5xx, timeouts) are
// retried with backoff. Content filtering and malformed requests are not.
func WithRetry(c Client, cfg fgerrors.RetryConfig) Client {
	return &retryClient{next: c, cfg: cfg}
}

func (r *retryClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	res := fgerrors.Do(ctx, r.cfg, func(ctx context.Context) (*CompletionResponse, error) {
		return r.next.Complete(ctx, req)
	})
	if res.Err != nil {
		return nil, res.Err
	}
	return res.Value, nil
}
