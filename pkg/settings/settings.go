package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// LLM providers.
const (
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
)

// Checkpoint backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Chart sandboxes.
const (
	SandboxProcess = "process"
	SandboxDocker  = "docker"
)

// Log formats.
const (
	LogText = "text"
	LogJSON = "json"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid settings")

// Settings is the process configuration.
type Settings struct {
	Server     Server     `envconfig:"SERVER"`
	LLM        LLM        `envconfig:"LLM"`
	Gemini     Gemini     `envconfig:"GEMINI"`
	Anthropic  Anthropic  `envconfig:"ANTHROPIC"`
	Mongo      Mongo      `envconfig:"MONGODB"`
	Checkpoint Checkpoint `envconfig:"CHECKPOINT"`
	AQI        AQI        `envconfig:"AQI"`
	Sandbox    Sandbox    `envconfig:"SANDBOX"`
	Log        Log        `envconfig:"LOG"`
	Sentry     Sentry     `envconfig:"SENTRY"`
	Tracing    Tracing    `envconfig:"OTEL"`

	EnableAnalyzePlot bool `envconfig:"ENABLE_ANALYZE_PLOT" default:"false"`
	RecursionLimit    int  `envconfig:"RECURSION_LIMIT" default:"100"`

	// CatalogFiles are layered over the built-in collection catalog in
	// order. Comma separated.
	CatalogFiles []string `envconfig:"CATALOG_FILES"`
}

// Server configures the HTTP surface.
type Server struct {
	Addr           string        `envconfig:"ADDR" default:":8000"`
	MetricsAddr    string        `envconfig:"METRICS_ADDR" default:":9090"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"2m"`
	ShutdownGrace  time.Duration `envconfig:"SHUTDOWN_GRACE" default:"15s"`
	CORSOrigins    []string      `envconfig:"CORS_ORIGINS" default:"http://localhost:4200,http://localhost:3005"`
}

// LLM selects the completion provider.
type LLM struct {
	Provider    string  `envconfig:"PROVIDER" default:"gemini"`
	Temperature float32 `envconfig:"TEMPERATURE" default:"0"`
	MaxTokens   int     `envconfig:"MAX_TOKENS" default:"4096"`
	Retries     int     `envconfig:"RETRIES" default:"3"`
}

// Gemini configures the Gemini provider.
type Gemini struct {
	APIKey  string `envconfig:"API_KEY"`
	BaseURL string `envconfig:"BASE_URL"`
	Model   string `envconfig:"MODEL" default:"gemini-2.0-flash"`
}

// Anthropic configures the Anthropic provider.
type Anthropic struct {
	APIKey  string `envconfig:"API_KEY"`
	BaseURL string `envconfig:"BASE_URL"`
	Model   string `envconfig:"MODEL" default:"claude-haiku-4-5"`
}

// Mongo configures the document store.
type Mongo struct {
	URI           string        `envconfig:"CONNECTION_STRING" default:"mongodb://localhost:27017"`
	Database      string        `envconfig:"DATABASE_NAME" default:"inspections"`
	SalesDatabase string        `envconfig:"SALES_DATABASE_NAME" default:"sales"`
	Timeout       time.Duration `envconfig:"TIMEOUT" default:"30s"`
}

// Checkpoint selects where threads are persisted. DSN is a file path for
// sqlite and a URL for redis and postgres.
type Checkpoint struct {
	Backend string        `envconfig:"BACKEND" default:"sqlite"`
	DSN     string        `envconfig:"DSN" default:"insightgraph.db"`
	TTL     time.Duration `envconfig:"TTL"`
}

// AQI configures the inspection REST API.
type AQI struct {
	URL             string `envconfig:"API_URL"`
	SubscriptionKey string `envconfig:"API_SUBSCRIPTION_KEY"`
}

// Sandbox configures chart code execution.
type Sandbox struct {
	Kind        string        `envconfig:"KIND" default:"process"`
	Interpreter string        `envconfig:"INTERPRETER" default:"python3"`
	Image       string        `envconfig:"IMAGE" default:"insightgraph/chart-sandbox:latest"`
	Runtime     string        `envconfig:"RUNTIME"`
	Timeout     time.Duration `envconfig:"TIMEOUT" default:"30s"`
}

// Log configures the process logger.
type Log struct {
	Format string `envconfig:"FORMAT" default:"text"`
	Level  string `envconfig:"LEVEL" default:"info"`
}

// Sentry enables error reporting when DSN is set.
type Sentry struct {
	DSN         string `envconfig:"DSN"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
}

// Tracing exports spans over OTLP/HTTP when Endpoint is set.
type Tracing struct {
	Endpoint    string  `envconfig:"EXPORTER_OTLP_ENDPOINT"`
	SampleRatio float64 `envconfig:"TRACES_SAMPLE_RATIO" default:"1"`
}

// Load reads the given .env files (".env" when none are named), then binds
// the environment. Missing .env files are skipped; variables already set
// in the environment win over file values.
func Load(envFiles ...string) (*Settings, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var s Settings
	if err := envconfig.Process("", &s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the enumerations and the keys the chosen provider and
// backend need.
func (s *Settings) Validate() error {
	var errs []error
	oneOf := func(key, v string, allowed ...string) {
		if !slices.Contains(allowed, v) {
			errs = append(errs, fmt.Errorf("%s %q: want one of %s", key, v, strings.Join(allowed, ", ")))
		}
	}

	s.LLM.Provider = strings.ToLower(s.LLM.Provider)
	oneOf("LLM_PROVIDER", s.LLM.Provider, ProviderGemini, ProviderAnthropic)
	if s.LLM.Provider == ProviderGemini && s.Gemini.APIKey == "" {
		errs = append(errs, errors.New("GEMINI_API_KEY is required for the gemini provider"))
	}

	s.Checkpoint.Backend = strings.ToLower(s.Checkpoint.Backend)
	oneOf("CHECKPOINT_BACKEND", s.Checkpoint.Backend, BackendMemory, BackendSQLite, BackendRedis, BackendPostgres)
	if s.Checkpoint.Backend != BackendMemory && s.Checkpoint.DSN == "" {
		errs = append(errs, fmt.Errorf("CHECKPOINT_DSN is required for the %s backend", s.Checkpoint.Backend))
	}

	oneOf("SANDBOX_KIND", s.Sandbox.Kind, SandboxProcess, SandboxDocker)
	oneOf("LOG_FORMAT", s.Log.Format, LogText, LogJSON)
	if _, err := s.Log.SlogLevel(); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}

	if s.AQI.URL == "" {
		errs = append(errs, errors.New("AQI_API_URL is required"))
	}
	if s.Tracing.SampleRatio < 0 || s.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("OTEL_TRACES_SAMPLE_RATIO must be within [0, 1], got %g", s.Tracing.SampleRatio))
	}
	if s.RecursionLimit <= 0 {
		errs = append(errs, fmt.Errorf("RECURSION_LIMIT must be positive, got %d", s.RecursionLimit))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// SlogLevel parses Level ("debug", "info", "warn", "error").
func (l Log) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	err := lvl.UnmarshalText([]byte(l.Level))
	return lvl, err
}
