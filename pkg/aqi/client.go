package aqi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	fgerrors "github.com/randalmurphal/insightgraph/pkg/flowgraph/errors"
)

// SubscriptionHeader carries the API subscription key.
const SubscriptionHeader = "Ocp-Apim-Subscription-Key"

// DefaultTimeout bounds a single request attempt.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps the response text kept in an HTTPError.
const maxErrorBody = 512

// Client talks to the inspection REST API.
type Client struct {
	baseURL *url.URL
	key     string
	http    *http.Client
	retry   fgerrors.RetryConfig
	clock   clockwork.Clock
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetry sets the retry policy for transient failures.
func WithRetry(cfg fgerrors.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithClock sets the clock used for relative time windows.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client for the API at baseURL.
func New(baseURL, subscriptionKey string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("aqi: parse base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("aqi: base URL %q must be http or https", baseURL)
	}
	c := &Client{
		baseURL: u,
		key:     subscriptionKey,
		http:    &http.Client{Timeout: DefaultTimeout},
		retry:   fgerrors.DefaultRetry,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	if c.retry.Clock == nil {
		c.retry.Clock = c.clock
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = func(attempt int, err error, wait time.Duration) {
			c.logger.Info("retrying inspection API request",
				slog.Int("attempt", attempt),
				slog.Duration("wait", wait),
				slog.String("error", err.Error()))
		}
	}
	return c, nil
}

// getJSON fetches path and decodes the body into out. Transient failures
// are retried per the client's policy.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	body, err := c.get(ctx, path, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("aqi: decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := c.baseURL.JoinPath(path)
	u.RawQuery = query.Encode()

	result := fgerrors.Do(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		return c.do(ctx, u.String(), path)
	})
	if result.Err != nil {
		c.logger.Warn("inspection API request failed",
			slog.String("path", path),
			slog.Int("attempts", result.Attempts),
			slog.String("error", result.Err.Error()))
		return nil, unwrapCategorized(result.Err)
	}
	c.logger.Debug("inspection API request",
		slog.String("path", path),
		slog.Int("attempts", result.Attempts),
		slog.Duration("duration", result.Duration))
	return result.Value, nil
}

func (c *Client) do(ctx context.Context, rawURL, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(SubscriptionHeader, c.key)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(body))
		if len(msg) > maxErrorBody {
			msg = strings.ToValidUTF8(msg[:maxErrorBody], "") + "..."
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &fgerrors.HTTPError{
			StatusCode: resp.StatusCode,
			Message:    msg,
			Endpoint:   path,
			RetryAfter: c.retryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return body, nil
}

// retryAfter reads a Retry-After header given either as seconds or as an
// HTTP date. Unparseable or past values yield zero.
func (c *Client) retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(max(secs, 0)) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		return max(at.Sub(c.clock.Now()), 0)
	}
	return 0
}

// unwrapCategorized strips the retry wrapper so callers see the HTTP or
// transport error directly.
func unwrapCategorized(err error) error {
	var ce *fgerrors.CategorizedError
	if errors.As(err, &ce) && ce.Err != nil {
		return ce.Err
	}
	return err
}
