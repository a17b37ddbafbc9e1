package chart

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"regexp"
	"slices"
	"strings"

	fgerrors "github.com/randalmurphal/insightgraph/pkg/flowgraph/errors"
	"github.com/randalmurphal/insightgraph/pkg/flowgraph/llm"
	"github.com/randalmurphal/insightgraph/pkg/flowgraph/template"
)

// ErrNoData is returned for a request without records. Callers answer "no
// results" instead of asking for a chart.
var ErrNoData = errors.New("no records to chart")

var codePrompt = template.MustParse("chart-code", `You are an expert Python programmer who visualizes data with Plotly, Pandas and Numpy.
Write Python code that builds a chart answering the user's question from the variable data.

data is a list of JSON records already filtered for the question.
Metadata of data:
- Columns: ${columns}
- Number of rows: ${rows}
- Sample record: ${sample}

Collection schema, for context only. Do not assume columns from it:
${schema}

User question: "${question}"

Rules:
1. Use only the columns listed in the metadata and handle missing values.
2. Use the chart type the question asks for; otherwise pick the best fit.
3. Convert Period values to strings before plotting.
4. Assign the Plotly figure to a variable named fig. Do not show or save it.
5. Import only plotly, pandas, numpy, math, statistics, datetime, json, collections, itertools or re.
6. Do not define sample data; use data as given.
7. Return only one python code block.`)

var fence = regexp.MustCompile("```(?:python|py)?")

// Request is one chart to generate.
type Request struct {
	Question string
	Records  []map[string]any
}

// Generator asks the model for plotting code and runs it in a Sandbox.
type Generator struct {
	client  llm.Client
	sandbox Sandbox
	schema  string
	logger  *slog.Logger
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithSchema sets the collection schema shown to the model.
func WithSchema(schema string) GeneratorOption {
	return func(g *Generator) { g.schema = schema }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) GeneratorOption {
	return func(g *Generator) { g.logger = l }
}

// NewGenerator creates a Generator.
func NewGenerator(client llm.Client, sandbox Sandbox, opts ...GeneratorOption) *Generator {
	g := &Generator{client: client, sandbox: sandbox}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = slog.New(slog.DiscardHandler)
	}
	return g
}

// Generate returns the serialized chart for req. Failures to produce or run
// the code are returned as *errors.ChartGenerationFault; callers degrade to
// an answer without a chart.
func (g *Generator) Generate(ctx context.Context, req Request) (json.RawMessage, error) {
	if len(req.Records) == 0 {
		return nil, ErrNoData
	}

	code, err := g.code(ctx, req)
	if err != nil {
		g.logger.Warn("chart code generation failed", slog.String("error", err.Error()))
		return nil, &fgerrors.ChartGenerationFault{Stage: "generate", Err: err}
	}

	chart, err := g.sandbox.Execute(ctx, code, req.Records)
	if err != nil {
		g.logger.Warn("chart code execution failed", slog.String("error", err.Error()))
		return nil, &fgerrors.ChartGenerationFault{Stage: "execute", Err: err}
	}
	g.logger.Debug("chart generated", slog.Int("rows", len(req.Records)), slog.Int("bytes", len(chart)))
	return chart, nil
}

func (g *Generator) code(ctx context.Context, req Request) (string, error) {
	sample, err := json.Marshal(req.Records[0])
	if err != nil {
		return "", err
	}
	schema := g.schema
	if schema == "" {
		schema = "(not provided)"
	}
	prompt, err := codePrompt.Execute(map[string]any{
		"columns":  strings.Join(Columns(req.Records[0]), ", "),
		"rows":     len(req.Records),
		"sample":   string(sample),
		"schema":   schema,
		"question": req.Question,
	})
	if err != nil {
		return "", err
	}
	text, err := llm.CompleteText(ctx, g.client, llm.CompletionRequest{
		Messages: []llm.Message{llm.UserMessage(prompt)},
	})
	if err != nil {
		return "", err
	}
	code := StripCode(text)
	if code == "" {
		return "", errors.New("model returned no code")
	}
	return code, nil
}

// StripCode removes markdown code fences from model output.
func StripCode(s string) string {
	return strings.TrimSpace(fence.ReplaceAllString(s, ""))
}

// Columns returns the sorted field names of a record.
func Columns(record map[string]any) []string {
	cols := make([]string, 0, len(record))
	for k := range record {
		cols = append(cols, k)
	}
	slices.Sort(cols)
	return cols
}
