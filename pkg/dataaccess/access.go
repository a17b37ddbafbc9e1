package dataaccess

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	fgerrors "github.com/randalmurphal/insightgraph/pkg/flowgraph/errors"
	"github.com/randalmurphal/insightgraph/pkg/sanitize"
)

// Record is one normalized result document.
type Record = map[string]any

// DocumentStore is the document database.
type DocumentStore interface {
	// Aggregate runs pipeline against collection.
	Aggregate(ctx context.Context, collection string, pipeline []bson.D) ([]bson.M, error)
	// Insert stores doc and returns its id.
	Insert(ctx context.Context, collection string, doc any) (string, error)
}

// ErrNoPlan is returned by Execute for a nil plan.
var ErrNoPlan = errors.New("no execution plan")

// DefaultTimeout bounds each store round trip.
const DefaultTimeout = 30 * time.Second

// Access executes sanitized plans against a DocumentStore.
//
// Every pipeline gets a trailing $project stage excluding internal fields,
// regardless of what the plan projects. Failures are *errors.StoreError
// and are never retried.
type Access struct {
	store    DocumentStore
	excluded []string
	timeout  time.Duration
	logger   *slog.Logger
}

// Option configures Access.
type Option func(*Access)

// AuditField is removed from every result whatever the options say.
const AuditField = "audit"

// WithExcludedFields adds fields removed from every result, on top of
// AuditField.
func WithExcludedFields(fields ...string) Option {
	return func(a *Access) {
		for _, f := range fields {
			if f != "" && !slices.Contains(a.excluded, f) {
				a.excluded = append(a.excluded, f)
			}
		}
	}
}

// WithTimeout sets the per-call timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(a *Access) { a.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Access) { a.logger = l }
}

// New creates an Access over store.
func New(store DocumentStore, opts ...Option) *Access {
	a := &Access{
		store:    store,
		excluded: []string{AuditField},
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.DiscardHandler)
	}
	return a
}

// Pipeline returns the stages Execute sends for plan: the plan's stages in
// order followed by the exclusion stage.
func (a *Access) Pipeline(plan *sanitize.Plan) []bson.D {
	stages := slices.Clone(plan.Stages)
	exclude := make(bson.D, len(a.excluded))
	for i, f := range a.excluded {
		exclude[i] = bson.E{Key: f, Value: 0}
	}
	return append(stages, bson.D{{Key: "$project", Value: exclude}})
}

// Execute runs plan and returns normalized records.
func (a *Access) Execute(ctx context.Context, plan *sanitize.Plan) ([]Record, error) {
	if plan == nil {
		return nil, &fgerrors.StoreError{Op: "aggregate", Err: ErrNoPlan}
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	docs, err := a.store.Aggregate(ctx, plan.Collection, a.Pipeline(plan))
	if err != nil {
		return nil, storeError("aggregate", plan.Collection, err)
	}

	records := make([]Record, len(docs))
	for i, doc := range docs {
		records[i] = normalizeMap(doc)
	}
	a.logger.Debug("plan executed",
		slog.String("collection", plan.Collection),
		slog.Int("stages", len(plan.Stages)),
		slog.Int("records", len(records)),
		slog.Duration("duration", time.Since(start)))
	return records, nil
}

// Insert stores doc in collection.
func (a *Access) Insert(ctx context.Context, collection string, doc any) (string, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	id, err := a.store.Insert(ctx, collection, doc)
	if err != nil {
		return "", storeError("insert", collection, err)
	}
	a.logger.Info("document inserted", slog.String("collection", collection), slog.String("id", id))
	return id, nil
}

func (a *Access) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.timeout)
}

func storeError(op, collection string, err error) error {
	var se *fgerrors.StoreError
	if errors.As(err, &se) {
		return err
	}
	return &fgerrors.StoreError{Op: op, Collection: collection, Err: err}
}
