package errors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func quick(opts ...RetryOption) RetryConfig {
	return NewRetryConfig(append([]RetryOption{WithInitialBackoff(time.Millisecond), WithJitter(0)}, opts...)...)
}

func TestDo(t *testing.T) {
	tests := []struct {
		name      string
		cfg       RetryConfig
		failures  []error
		wantErr   bool
		wantCalls int
		check     func(t *testing.T, err error)
	}{
		{
			name:      "first try",
			cfg:       quick(WithMaxAttempts(3)),
			wantCalls: 1,
		},
		{
			name:      "transient then success",
			cfg:       quick(WithMaxAttempts(3)),
			failures:  []error{&HTTPError{StatusCode: 503}},
			wantCalls: 2,
		},
		{
			name: "attempts exhausted",
			cfg:  quick(WithMaxAttempts(3)),
			failures: []error{
				&ProviderError{Provider: "gemini", StatusCode: 429},
				&ProviderError{Provider: "gemini", StatusCode: 429},
				&ProviderError{Provider: "gemini", StatusCode: 429},
			},
			wantErr:   true,
			wantCalls: 3,
			check: func(t *testing.T, err error) {
				var prov *ProviderError
				if !errors.As(err, &prov) {
					t.Errorf("ProviderError not in chain: %v", err)
				}
				var cat *CategorizedError
				if !errors.As(err, &cat) || cat.Context != "max retries exceeded" || cat.Retries != 3 {
					t.Errorf("unexpected wrapper: %v", err)
				}
			},
		},
		{
			name:      "permanent stops immediately",
			cfg:       quick(WithMaxAttempts(3)),
			failures:  []error{&StoreError{Op: "aggregate", Err: errors.New("refused")}},
			wantErr:   true,
			wantCalls: 1,
		},
		{
			name: "retryable override",
			cfg: func() RetryConfig {
				cfg := quick(WithMaxAttempts(2))
				cfg.Retryable = func(error) bool { return true }
				return cfg
			}(),
			failures:  []error{&HTTPError{StatusCode: 404}, &HTTPError{StatusCode: 404}},
			wantErr:   true,
			wantCalls: 2,
		},
		{
			name:      "zero config still calls once",
			cfg:       RetryConfig{},
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			res := Do(context.Background(), tt.cfg, func(context.Context) (string, error) {
				calls++
				if calls <= len(tt.failures) {
					return "", tt.failures[calls-1]
				}
				return "ok", nil
			})
			if (res.Err != nil) != tt.wantErr {
				t.Fatalf("Err = %v, wantErr %v", res.Err, tt.wantErr)
			}
			if calls != tt.wantCalls || res.Attempts != tt.wantCalls {
				t.Errorf("calls = %d, Attempts = %d, want %d", calls, res.Attempts, tt.wantCalls)
			}
			if !tt.wantErr && res.Value != "ok" {
				t.Errorf("Value = %q", res.Value)
			}
			if tt.check != nil {
				tt.check(t, res.Err)
			}
		})
	}
}

func TestDo_BackoffSchedule(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var waits []time.Duration
	cfg := NewRetryConfig(
		WithMaxAttempts(4),
		WithInitialBackoff(time.Second),
		WithMaxBackoff(10*time.Second),
		WithJitter(0),
		WithClock(clock),
		WithOnRetry(func(_ int, _ error, wait time.Duration) { waits = append(waits, wait) }),
	)

	// The second failure asks for 5s, longer than the computed 2s.
	failures := []error{
		&HTTPError{StatusCode: 503},
		&HTTPError{StatusCode: 429, RetryAfter: 5 * time.Second},
		&HTTPError{StatusCode: 429, RetryAfter: time.Minute},
	}
	done := make(chan RetryResult[int], 1)
	go func() {
		calls := 0
		done <- Do(context.Background(), cfg, func(context.Context) (int, error) {
			calls++
			if calls <= len(failures) {
				return 0, failures[calls-1]
			}
			return 42, nil
		})
	}()

	want := []time.Duration{time.Second, 5 * time.Second, 10 * time.Second}
	for _, d := range want {
		if err := clock.BlockUntilContext(context.Background(), 1); err != nil {
			t.Fatal(err)
		}
		clock.Advance(d)
	}

	res := <-done
	if res.Err != nil || res.Value != 42 || res.Attempts != 4 {
		t.Fatalf("result = %+v", res)
	}
	if res.Duration != 16*time.Second {
		t.Errorf("Duration = %v, want 16s", res.Duration)
	}
	if len(waits) != len(want) {
		t.Fatalf("waits = %v, want %v", waits, want)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Errorf("wait %d = %v, want %v", i, waits[i], want[i])
		}
	}
}

func TestDo_Cancellation(t *testing.T) {
	t.Run("before first attempt", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		calls := 0
		res := Do(ctx, NewRetryConfig(), func(context.Context) (string, error) {
			calls++
			return "never", nil
		})
		if calls != 0 || res.Attempts != 0 {
			t.Errorf("calls = %d, Attempts = %d", calls, res.Attempts)
		}
		if !errors.Is(res.Err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", res.Err)
		}
	})

	t.Run("during backoff", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		ctx, cancel := context.WithCancel(context.Background())
		cfg := NewRetryConfig(WithMaxAttempts(5), WithInitialBackoff(time.Minute), WithClock(clock))

		done := make(chan RetryResult[string], 1)
		calls := 0
		go func() {
			done <- Do(ctx, cfg, func(context.Context) (string, error) {
				calls++
				return "", &HTTPError{StatusCode: 503}
			})
		}()

		if err := clock.BlockUntilContext(context.Background(), 1); err != nil {
			t.Fatal(err)
		}
		cancel()

		res := <-done
		if !errors.Is(res.Err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", res.Err)
		}
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
	})
}

func TestNextWait(t *testing.T) {
	tests := []struct {
		name    string
		max     time.Duration
		backoff time.Duration
		err     error
		want    time.Duration
	}{
		{name: "computed", backoff: 2 * time.Second, err: &HTTPError{StatusCode: 503}, want: 2 * time.Second},
		{name: "shorter hint ignored", backoff: 2 * time.Second, err: &HTTPError{StatusCode: 429, RetryAfter: time.Second}, want: 2 * time.Second},
		{name: "longer hint wins", backoff: 2 * time.Second, err: &HTTPError{StatusCode: 429, RetryAfter: 7 * time.Second}, want: 7 * time.Second},
		{name: "hint capped", max: 5 * time.Second, backoff: time.Second, err: &HTTPError{StatusCode: 429, RetryAfter: time.Hour}, want: 5 * time.Second},
		{name: "wrapped hint", backoff: time.Second, err: &CategorizedError{Err: &HTTPError{StatusCode: 503, RetryAfter: 3 * time.Second}}, want: 3 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := RetryConfig{MaxBackoff: tt.max}
			if got := nextWait(cfg, tt.backoff, tt.err); got != tt.want {
				t.Errorf("nextWait = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJitter(t *testing.T) {
	if got := jitter(time.Second, 0); got != time.Second {
		t.Errorf("no jitter: got %v", got)
	}
	if got := jitter(0, 0.5); got != 0 {
		t.Errorf("zero base: got %v", got)
	}
	for range 100 {
		got := jitter(time.Second, 0.1)
		if got < 900*time.Millisecond || got > 1100*time.Millisecond {
			t.Fatalf("jittered wait %v out of range", got)
		}
	}
}
