package server

import (
	"context"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/randalmurphal/insightgraph/pkg/agent"
	"github.com/randalmurphal/insightgraph/pkg/flowgraph"
	"github.com/randalmurphal/insightgraph/pkg/flowgraph/query"
)

// DefaultThreadID is used when a request names no thread.
const DefaultThreadID = "1"

// Assistant is what the server needs from the conversation service.
// *agent.Assistant implements it.
type Assistant interface {
	Ask(ctx context.Context, threadID string, in agent.Input) (*agent.Reply, error)
	Stream(ctx context.Context, threadID string, in agent.Input) iter.Seq2[flowgraph.Delta[agent.State], error]
	Recover(ctx context.Context, threadID string) (*agent.Reply, error)
	Inspect(ctx context.Context, threadID string) (*query.Snapshot, error)
	Query(ctx context.Context, threadID, name string, args any) (any, error)
	Purge(ctx context.Context, threadID string) error
	Mermaid() string
}

// Server is the HTTP surface of the assistant.
type Server struct {
	assistant    Assistant
	logger       *slog.Logger
	timeout      time.Duration
	origins      []string
	sentry       bool
	metrics      *HTTPMetrics
	ready        func(context.Context) error
	shuttingDown atomic.Bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithRequestTimeout bounds each turn. Zero disables the bound.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

// WithCORSOrigins sets the allowed browser origins, e.g.
// "http://localhost:4200". "*" allows any origin.
func WithCORSOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithSentry reports panics and server errors to Sentry. sentry.Init must
// have been called.
func WithSentry(enabled bool) Option {
	return func(s *Server) { s.sentry = enabled }
}

// WithHTTPMetrics records request counts and latencies.
func WithHTTPMetrics(m *HTTPMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithReadiness adds a dependency check to /readyz.
func WithReadiness(check func(context.Context) error) Option {
	return func(s *Server) { s.ready = check }
}

// New creates a server.
func New(a Assistant, opts ...Option) *Server {
	s := &Server{
		assistant: a,
		logger:    slog.Default(),
		timeout:   2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ShutDown makes /readyz fail so load balancers drain the instance.
func (s *Server) ShutDown() {
	s.shuttingDown.Store(true)
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	if s.sentry {
		r.Use(sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle)
		r.Use(sentryTransactionName)
	}
	r.Use(middleware.Recoverer)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}
	if len(s.origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.origins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "Authorization"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", s.handleReady)
	r.Get("/graph", s.handleGraph)

	r.Post("/query", s.handleQuery)
	r.Get("/query/stream", s.handleStream)

	r.Route("/threads/{threadID}", func(r chi.Router) {
		r.Get("/", s.handleInspect)
		r.Delete("/", s.handlePurge)
		r.Post("/recover", s.handleRecover)
		r.Get("/{query}", s.handleThreadQuery)
	})
	return r
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("shutting down"))
		return
	}
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready: " + err.Error()))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleGraph(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(s.assistant.Mermaid()))
}

// turnContext bounds a turn by the request timeout.
func (s *Server) turnContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// originPatterns turns the CORS origins into the host patterns the
// websocket handshake checks.
func (s *Server) originPatterns() []string {
	var out []string
	for _, o := range s.origins {
		if o == "*" {
			return []string{"*"}
		}
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			continue
		}
		out = append(out, u.Host)
	}
	return out
}

// sentryTransactionName names transactions by route pattern.
func sentryTransactionName(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		if txn := sentry.TransactionFromContext(r.Context()); txn != nil {
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				txn.Name = r.Method + " " + rctx.RoutePattern()
			}
		}
	})
}
