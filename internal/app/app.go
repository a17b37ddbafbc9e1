// Package app assembles the assistant from process settings.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/randalmurphal/insightgraph/pkg/agent"
	"github.com/randalmurphal/insightgraph/pkg/aqi"
	"github.com/randalmurphal/insightgraph/pkg/chart"
	"github.com/randalmurphal/insightgraph/pkg/dataaccess"
	"github.com/randalmurphal/insightgraph/pkg/flowgraph"
	"github.com/randalmurphal/insightgraph/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/insightgraph/pkg/flowgraph/config"
	fgerrors "github.com/randalmurphal/insightgraph/pkg/flowgraph/errors"
	"github.com/randalmurphal/insightgraph/pkg/flowgraph/llm"
	"github.com/randalmurphal/insightgraph/pkg/flowgraph/observability"
	"github.com/randalmurphal/insightgraph/pkg/planner"
	"github.com/randalmurphal/insightgraph/pkg/sales"
	"github.com/randalmurphal/insightgraph/pkg/server"
	"github.com/randalmurphal/insightgraph/pkg/settings"
	"github.com/randalmurphal/insightgraph/pkg/tools"
)

// App is a fully wired assistant and the resources it owns.
type App struct {
	Assistant   *agent.Assistant
	Registry    *prometheus.Registry
	HTTPMetrics *server.HTTPMetrics

	mongo   *dataaccess.MongoStore
	closers []func(context.Context) error
}

// NewLogger builds the process logger: tint for text, slog's JSON handler
// for json.
func NewLogger(cfg settings.Log, w io.Writer) (*slog.Logger, error) {
	lvl, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	switch cfg.Format {
	case settings.LogJSON:
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})), nil
	case settings.LogText, "":
		return slog.New(tint.NewHandler(w, &tint.Options{Level: lvl, TimeFormat: time.Kitchen})), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
}

// OpenStore opens the configured checkpoint backend.
func OpenStore(ctx context.Context, cfg settings.Checkpoint) (checkpoint.Store, error) {
	switch cfg.Backend {
	case settings.BackendMemory:
		return checkpoint.NewMemoryStore(), nil
	case settings.BackendSQLite:
		return checkpoint.NewSQLiteStore(cfg.DSN)
	case settings.BackendRedis:
		var opts []checkpoint.RedisOption
		if cfg.TTL > 0 {
			opts = append(opts, checkpoint.WithRedisTTL(cfg.TTL))
		}
		return checkpoint.OpenRedisStore(ctx, cfg.DSN, opts...)
	case settings.BackendPostgres:
		return checkpoint.NewPostgresStore(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}
}

// NewLLM builds the configured provider client wrapped with retries.
func NewLLM(ctx context.Context, s *settings.Settings, logger *slog.Logger) (llm.Client, error) {
	var client llm.Client
	switch s.LLM.Provider {
	case settings.ProviderGemini:
		c, err := llm.NewGeminiClient(ctx, llm.GeminiConfig{
			APIKey:      s.Gemini.APIKey,
			BaseURL:     s.Gemini.BaseURL,
			Model:       s.Gemini.Model,
			Temperature: s.LLM.Temperature,
			MaxTokens:   s.LLM.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		client = c
	case settings.ProviderAnthropic:
		client = llm.NewAnthropicClient(llm.AnthropicConfig{
			APIKey:    s.Anthropic.APIKey,
			BaseURL:   s.Anthropic.BaseURL,
			Model:     s.Anthropic.Model,
			MaxTokens: s.LLM.MaxTokens,
		})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", s.LLM.Provider)
	}
	if s.LLM.Retries <= 1 {
		return client, nil
	}
	return llm.WithRetry(client, fgerrors.NewRetryConfig(
		fgerrors.WithMaxAttempts(s.LLM.Retries),
		fgerrors.WithOnRetry(func(attempt int, err error, wait time.Duration) {
			logger.Warn("retrying model call",
				slog.String("provider", s.LLM.Provider),
				slog.Int("attempt", attempt),
				slog.Duration("wait", wait),
				slog.String("error", err.Error()))
		}),
	)), nil
}

// NewSandbox builds the configured chart sandbox and its cleanup.
func NewSandbox(ctx context.Context, cfg settings.Sandbox, logger *slog.Logger) (chart.Sandbox, func() error, error) {
	switch cfg.Kind {
	case settings.SandboxProcess:
		return chart.NewProcessSandbox(cfg.Interpreter, cfg.Timeout), func() error { return nil }, nil
	case settings.SandboxDocker:
		opts := []chart.DockerOption{
			chart.WithImage(cfg.Image),
			chart.WithDockerTimeout(cfg.Timeout),
			chart.WithDockerLogger(logger),
		}
		if cfg.Runtime != "" {
			opts = append(opts, chart.WithRuntime(cfg.Runtime))
		}
		sb, err := chart.NewDockerSandbox(opts...)
		if err != nil {
			return nil, nil, err
		}
		if err := sb.Ping(ctx); err != nil {
			_ = sb.Close()
			return nil, nil, fmt.Errorf("docker sandbox: %w", err)
		}
		return sb, sb.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown sandbox %q", cfg.Kind)
	}
}

// NewTracing returns the engine's span manager. With an OTLP endpoint set,
// spans are batched to it and the returned shutdown flushes them; otherwise
// spans go to the global provider.
func NewTracing(ctx context.Context, cfg settings.Tracing) (observability.SpanManager, func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		return observability.NewSpanManager(), func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.Endpoint))
	if err != nil {
		return nil, nil, fmt.Errorf("otlp exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", "insightgraph"))),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(tp)
	return observability.NewSpanManagerWithProvider(tp), tp.Shutdown, nil
}

// LoadCatalog returns the built-in catalog extended by files, later files
// overriding earlier ones.
func LoadCatalog(files ...string) (*planner.Catalog, error) {
	if len(files) == 0 {
		return planner.DefaultCatalog(), nil
	}
	cfg, err := config.FromFiles(files...)
	if err != nil {
		return nil, err
	}
	return planner.LoadCatalog(cfg)
}

// Build wires every component. On error, resources opened so far are
// released.
func Build(ctx context.Context, s *settings.Settings, logger *slog.Logger) (_ *App, err error) {
	a := &App{Registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promMetrics, err := observability.NewPrometheusMetrics(a.Registry)
	if err != nil {
		return nil, err
	}
	if a.HTTPMetrics, err = server.NewHTTPMetrics(a.Registry); err != nil {
		return nil, err
	}

	spans, shutdownTracing, err := NewTracing(ctx, s.Tracing)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, shutdownTracing)

	client, err := NewLLM(ctx, s, logger)
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}

	catalog, err := LoadCatalog(s.CatalogFiles...)
	if err != nil {
		return nil, err
	}
	salesCol, ok := catalog.Get(planner.SalesCollection)
	if !ok {
		return nil, errors.New("catalog has no sales collection")
	}

	a.mongo, err = dataaccess.ConnectMongo(ctx, s.Mongo.URI, s.Mongo.Database,
		dataaccess.WithDatabaseAlias(planner.SalesDatabase, s.Mongo.SalesDatabase),
		dataaccess.WithRoutes(catalog.Databases()),
	)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.mongo.Close)
	access := dataaccess.New(a.mongo,
		dataaccess.WithTimeout(s.Mongo.Timeout),
		dataaccess.WithLogger(logger.With(slog.String("component", "dataaccess"))),
	)

	plan := planner.New(client, catalog, planner.WithLogger(logger.With(slog.String("component", "planner"))))

	api, err := aqi.New(s.AQI.URL, s.AQI.SubscriptionKey,
		aqi.WithRetry(fgerrors.DefaultRetry),
		aqi.WithLogger(logger.With(slog.String("component", "aqi"))),
	)
	if err != nil {
		return nil, err
	}
	search := func(ctx context.Context, question string) ([]dataaccess.Record, error) {
		p, err := plan.Plan(ctx, planner.Request{Question: question})
		if err != nil {
			return nil, err
		}
		return access.Execute(ctx, p)
	}
	registry, err := tools.NewInspection(api, search, nil).Registry()
	if err != nil {
		return nil, err
	}
	inspector := tools.NewAgent(client, registry, tools.WithAgentLogger(logger.With(slog.String("component", "tools"))))

	sandbox, closeSandbox, err := NewSandbox(ctx, s.Sandbox, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return closeSandbox() })
	charts := chart.NewGenerator(client, sandbox,
		chart.WithSchema(salesCol.Schema),
		chart.WithLogger(logger.With(slog.String("component", "chart"))),
	)

	store, err := OpenStore(ctx, s.Checkpoint)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return store.Close() })

	a.Assistant, err = agent.New(agent.Deps{
		LLM:         client,
		Inspector:   inspector,
		Planner:     plan,
		Data:        access,
		Charts:      charts,
		Sales:       sales.NewExtractor(client, sales.WithLogger(logger.With(slog.String("component", "sales")))),
		Recorder:    sales.NewRecorder(access, planner.SalesCollection, nil),
		SalesSchema: salesCol.Schema,
	},
		agent.WithStore(store),
		agent.WithAnalyzePlot(s.EnableAnalyzePlot),
		agent.WithRecursionLimit(s.RecursionLimit),
		agent.WithCompileOptions(
			flowgraph.WithLogger(logger),
			flowgraph.WithMetrics(observability.MultiMetrics{observability.NewMetricsRecorder(), promMetrics}),
			flowgraph.WithTracing(spans),
		),
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Ready reports whether the document store answers.
func (a *App) Ready(ctx context.Context) error {
	return a.mongo.Ping(ctx)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}
