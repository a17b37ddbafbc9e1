package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	fgerrors "github.com/randalmurphal/insightgraph/pkg/flowgraph/errors"
	"github.com/randalmurphal/insightgraph/pkg/flowgraph/llm"
	"github.com/randalmurphal/insightgraph/pkg/flowgraph/template"
	"github.com/randalmurphal/insightgraph/pkg/sanitize"
)

// ErrEmptyQuestion is returned for a blank question.
var ErrEmptyQuestion = errors.New("question is empty")

// Request is one planning call.
type Request struct {
	Question string
	// History is the prior conversation, oldest first.
	History []llm.Message
}

// Planner turns questions into sanitized execution plans.
//
// Model output is sanitized exactly once. A plan that does not sanitize is
// returned as a *errors.PlanningError; the model is never asked again.
type Planner struct {
	client  llm.Client
	catalog *Catalog
	clock   clockwork.Clock
	logger  *slog.Logger
}

// Option configures a Planner.
type Option func(*Planner)

// WithClock sets the clock used for "today" in prompts.
func WithClock(c clockwork.Clock) Option {
	return func(p *Planner) { p.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Planner) { p.logger = l }
}

// New creates a Planner. A nil catalog uses DefaultCatalog.
func New(client llm.Client, catalog *Catalog, opts ...Option) *Planner {
	p := &Planner{client: client, catalog: catalog}
	for _, opt := range opts {
		opt(p)
	}
	if p.catalog == nil {
		p.catalog = DefaultCatalog()
	}
	if p.clock == nil {
		p.clock = clockwork.NewRealClock()
	}
	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}
	return p
}

// Catalog returns the planner's catalog.
func (p *Planner) Catalog() *Catalog { return p.catalog }

// SelectCollections asks the model which selectable collections the
// question needs. An empty, unparseable or filtered answer, or one naming
// only unknown collections, selects all of them.
func (p *Planner) SelectCollections(ctx context.Context, req Request) ([]Collection, error) {
	candidates := p.catalog.Selectable()
	if len(candidates) <= 1 {
		return candidates, nil
	}

	prompt, err := selectPrompt.Execute(map[string]any{
		"collections": listCollections(candidates),
		"question":    req.Question,
	})
	if err != nil {
		return nil, err
	}
	names, err := llm.CompleteStructured[[]string](ctx, p.client, llm.CompletionRequest{
		Messages: []llm.Message{llm.UserMessage(prompt)},
	})
	if err != nil {
		if errors.Is(err, llm.ErrMalformedOutput) || errors.Is(err, llm.ErrContentFiltered) {
			p.logger.Warn("collection selection unusable, using all collections", slog.String("error", err.Error()))
			return candidates, nil
		}
		return nil, err
	}

	var selected []Collection
	for _, name := range names {
		i := slices.IndexFunc(candidates, func(c Collection) bool { return c.Name == strings.TrimSpace(name) })
		if i < 0 {
			p.logger.Debug("model selected unknown collection", slog.String("collection", name))
			continue
		}
		if !slices.ContainsFunc(selected, func(c Collection) bool { return c.Name == candidates[i].Name }) {
			selected = append(selected, candidates[i])
		}
	}
	if len(selected) == 0 {
		return candidates, nil
	}
	return selected, nil
}

// Plan selects collections and plans a {base_collection, pipeline} query
// across them.
func (p *Planner) Plan(ctx context.Context, req Request) (*sanitize.Plan, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, &fgerrors.PlanningError{Err: ErrEmptyQuestion}
	}
	selected, err := p.SelectCollections(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		return nil, &fgerrors.PlanningError{Question: req.Question, Err: ErrUnknownCollection}
	}

	names := make([]string, len(selected))
	for i, col := range selected {
		names[i] = col.Name
	}
	p.logger.Debug("collections selected", slog.Any("collections", names))

	s := sanitize.New(
		sanitize.WithShape(sanitize.ShapeCollection),
		sanitize.WithAllowedCollections(names...),
		sanitize.WithLogger(p.logger),
	)
	return p.complete(ctx, req, analyticsPrompt, map[string]any{
		"schemas":  Describe(selected),
		"examples": formatExamples(selected, true),
		"today":    p.today(),
	}, s)
}

// PlanFor plans a stage list against one named collection.
func (p *Planner) PlanFor(ctx context.Context, collection string, req Request) (*sanitize.Plan, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, &fgerrors.PlanningError{Err: ErrEmptyQuestion}
	}
	col, ok := p.catalog.Get(collection)
	if !ok {
		return nil, &fgerrors.PlanningError{Question: req.Question, Err: fmt.Errorf("%w: %s", ErrUnknownCollection, collection)}
	}

	s := sanitize.New(
		sanitize.WithShape(sanitize.ShapeStages),
		sanitize.WithCollection(col.Name),
		sanitize.WithLogger(p.logger),
	)
	return p.complete(ctx, req, stagesPrompt, map[string]any{
		"collection":  col.Name,
		"description": col.Description,
		"schema":      strings.TrimSpace(col.Schema),
		"examples":    formatExamples([]Collection{col}, false),
		"today":       p.today(),
	}, s)
}

func (p *Planner) complete(ctx context.Context, req Request, tmpl *template.Template, vars map[string]any, s *sanitize.Sanitizer) (*sanitize.Plan, error) {
	system, err := tmpl.Execute(vars)
	if err != nil {
		return nil, err
	}

	messages := append(slices.Clone(req.History), llm.UserMessage(req.Question))
	raw, err := llm.CompleteText(ctx, p.client, llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     messages,
	})
	if err != nil {
		if errors.Is(err, llm.ErrContentFiltered) {
			return nil, &fgerrors.PlanningError{Question: req.Question, Err: err}
		}
		return nil, err
	}

	plan, err := s.Sanitize(raw)
	if err != nil {
		p.logger.Warn("plan rejected", slog.String("template", tmpl.Name()), slog.String("error", err.Error()))
		return nil, &fgerrors.PlanningError{Question: req.Question, Err: err}
	}
	p.logger.Debug("plan ready",
		slog.String("collection", plan.Collection),
		slog.Int("stages", len(plan.Stages)))
	return plan, nil
}

func (p *Planner) today() string {
	return p.clock.Now().UTC().Format(time.RFC3339)
}
