package template

// Option configures how placeholders are filled.
type Option func(*config)

type config struct {
	lenient  bool
	maxValue int
}

func newConfig(opts []Option) config {
	var c config
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Lenient leaves a placeholder with no value in place instead of failing.
func Lenient() Option {
	return func(c *config) { c.lenient = true }
}

// WithValueLimit caps each rendered value at n bytes and marks the cut with
// Truncated. Use it for values of unbounded size such as chart figures or
// query results. n <= 0 disables the cap.
func WithValueLimit(n int) Option {
	return func(c *config) { c.maxValue = n }
}
