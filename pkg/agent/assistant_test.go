package agent_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/randalmurphal/insightgraph/pkg/agent"
	"github.com/randalmurphal/insightgraph/pkg/chart"
	"github.com/randalmurphal/insightgraph/pkg/dataaccess"
	"github.com/randalmurphal/insightgraph/pkg/flowgraph"
	fgerrors "github.com/randalmurphal/insightgraph/pkg/flowgraph/errors"
	"github.com/randalmurphal/insightgraph/pkg/flowgraph/llm"
	"github.com/randalmurphal/insightgraph/pkg/flowgraph/query"
	"github.com/randalmurphal/insightgraph/pkg/planner"
	"github.com/randalmurphal/insightgraph/pkg/sales"
	"github.com/randalmurphal/insightgraph/pkg/sanitize"
	"github.com/randalmurphal/insightgraph/pkg/tools"
)

type fakeInspector struct {
	answer string
	err    error
	reqs   []tools.Request
}

func (f *fakeInspector) Run(_ context.Context, req tools.Request) (*tools.Result, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &tools.Result{Answer: f.answer}, nil
}

type fakePlanner struct {
	err  error
	reqs []planner.Request
	cols []string
}

func (f *fakePlanner) PlanFor(_ context.Context, collection string, req planner.Request) (*sanitize.Plan, error) {
	f.cols = append(f.cols, collection)
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &sanitize.Plan{Collection: collection, Stages: []bson.D{{{Key: "$limit", Value: 10}}}}, nil
}

type fakeFetcher struct {
	records []dataaccess.Record
	err     error
}

func (f *fakeFetcher) Execute(context.Context, *sanitize.Plan) ([]dataaccess.Record, error) {
	return f.records, f.err
}

type fakeCharts struct {
	fig   json.RawMessage
	err   error
	calls int
}

func (f *fakeCharts) Generate(context.Context, chart.Request) (json.RawMessage, error) {
	f.calls++
	return f.fig, f.err
}

type fakeSales struct {
	sale *sales.Sale
	err  error
}

func (f *fakeSales) Extract(context.Context, string, []llm.Image) (*sales.Sale, error) {
	return f.sale, f.err
}

type fakeRecorder struct {
	saved []*sales.Sale
	err   error
}

func (f *fakeRecorder) Record(_ context.Context, s *sales.Sale) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.saved = append(f.saved, s)
	return "id-1", nil
}

// harness wires fakes around a scripted model. label is what the router
// answers; routerCalls counts classifications.
type harness struct {
	label       string
	routerErr   error
	routerCalls int
	prompts     []string

	mock      *llm.MockClient
	inspector *fakeInspector
	planner   *fakePlanner
	fetcher   *fakeFetcher
	charts    *fakeCharts
	sales     *fakeSales
	recorder  *fakeRecorder
}

func newHarness() *harness {
	h := &harness{
		inspector: &fakeInspector{answer: "Spot-1 is docked."},
		planner:   &fakePlanner{},
		fetcher:   &fakeFetcher{records: []dataaccess.Record{{"storeLocation": "Denver", "total": 10.5}}},
		charts:    &fakeCharts{fig: json.RawMessage(`{"data": [{"type": "bar"}]}`)},
		sales:     &fakeSales{sale: &sales.Sale{Items: []sales.Item{{Name: "pen", Quantity: 2}}}},
		recorder:  &fakeRecorder{},
	}
	h.mock = llm.NewMockClient("").WithCompleteFunc(func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		h.prompts = append(h.prompts, req.SystemPrompt)
		switch {
		case strings.HasPrefix(req.SystemPrompt, "You are a router"):
			h.routerCalls++
			if h.routerErr != nil {
				return nil, h.routerErr
			}
			return &llm.CompletionResponse{Content: h.label}, nil
		case strings.HasPrefix(req.SystemPrompt, "You turn a user's request"):
			return &llm.CompletionResponse{Content: "Retrieve total sales per store."}, nil
		case strings.HasPrefix(req.SystemPrompt, "You explain charts"):
			return &llm.CompletionResponse{Content: "Denver leads."}, nil
		}
		return nil, errors.New("unexpected prompt")
	})
	return h
}

func (h *harness) deps() agent.Deps {
	return agent.Deps{
		LLM:         h.mock,
		Inspector:   h.inspector,
		Planner:     h.planner,
		Data:        h.fetcher,
		Charts:      h.charts,
		Sales:       h.sales,
		Recorder:    h.recorder,
		SalesSchema: "sales: saleDate, items, storeLocation",
	}
}

func (h *harness) assistant(t *testing.T, opts ...agent.Option) *agent.Assistant {
	t.Helper()
	a, err := agent.New(h.deps(), opts...)
	require.NoError(t, err)
	return a
}

func ask(t *testing.T, a *agent.Assistant, thread, q string) *agent.Reply {
	t.Helper()
	r, err := a.Ask(context.Background(), thread, agent.Input{Question: q})
	require.NoError(t, err)
	return r
}

func TestAssistant_Routes(t *testing.T) {
	tests := []struct {
		name  string
		label string
		want  string
		qt    agent.QuestionType
	}{
		{"query data", "Query_Data", "Spot-1 is docked.", agent.QueryData},
		{"help", "Help", agent.HelpAnswer, agent.Help},
		{"no context", "NoContext", tools.NoContextAnswer, agent.NoContext},
		{"unknown label", "Weather", tools.NoContextAnswer, agent.NoContext},
		{"analyze plot disabled", "Analyze_Plot", tools.NoContextAnswer, agent.AnalyzePlot},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.label = tt.label
			r := ask(t, h.assistant(t), "t", "something")
			assert.Equal(t, tt.want, r.Answer)
			assert.Equal(t, tt.qt, r.QuestionType)
			assert.Nil(t, r.Chart)
			assert.False(t, r.AwaitingInput)
		})
	}
}

func TestAssistant_ClassificationFilteredIsHandled(t *testing.T) {
	h := newHarness()
	h.routerErr = llm.ErrContentFiltered

	r := ask(t, h.assistant(t), "t", "something")
	assert.Equal(t, fgerrors.MsgClassification, r.Answer)
	assert.Equal(t, agent.Error, r.QuestionType)
}

func TestAssistant_ProviderErrorPropagates(t *testing.T) {
	h := newHarness()
	h.routerErr = &fgerrors.ProviderError{Provider: "gemini", StatusCode: 503, Err: errors.New("unavailable")}

	_, err := h.assistant(t).Ask(context.Background(), "t", agent.Input{Question: "hi"})
	var perr *fgerrors.ProviderError
	assert.ErrorAs(t, err, &perr)
}

func TestAssistant_Visualization(t *testing.T) {
	h := newHarness()
	h.label = "Visualization"
	a := h.assistant(t)

	r := ask(t, a, "t", "Bar chart of sales by store")
	assert.JSONEq(t, `{"data": [{"type": "bar"}]}`, string(r.Chart))
	assert.Contains(t, r.Answer, "1 records")
	assert.Equal(t, []string{planner.SalesCollection}, h.planner.cols)
	assert.Equal(t, "Retrieve total sales per store.", h.planner.reqs[0].Question)
	assert.Contains(t, h.prompts[1], "sales: saleDate, items, storeLocation")

	state, err := a.Query(context.Background(), "t", query.QueryState, nil)
	require.NoError(t, err)
	s := state.(agent.State)
	assert.Equal(t, "Retrieve total sales per store.", s.RephrasedQuestion)
	assert.Len(t, s.QueryResult, 1)
}

func TestAssistant_VisualizationNoRecordsSkipsChart(t *testing.T) {
	h := newHarness()
	h.label = "Visualization"
	h.fetcher.records = nil

	r := ask(t, h.assistant(t), "t", "Chart sales from 1990")
	assert.Equal(t, agent.NoResultsAnswer, r.Answer)
	assert.Nil(t, r.Chart)
	assert.Zero(t, h.charts.calls)
}

func TestAssistant_ChartFaultDegrades(t *testing.T) {
	h := newHarness()
	h.label = "Visualization"
	h.charts.fig = nil
	h.charts.err = &fgerrors.ChartGenerationFault{Stage: "execute", Err: chart.ErrNoFigure}

	r := ask(t, h.assistant(t), "t", "Chart it")
	assert.Equal(t, fgerrors.MsgChartFault, r.Answer)
	assert.Nil(t, r.Chart)
}

func TestAssistant_PlanningAndStoreErrorsPropagate(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*harness)
		check func(*testing.T, error)
	}{
		{
			name: "planning",
			setup: func(h *harness) {
				h.planner.err = &fgerrors.PlanningError{Question: "q", Err: sanitize.ErrNotStructured}
			},
			check: func(t *testing.T, err error) {
				var perr *fgerrors.PlanningError
				assert.ErrorAs(t, err, &perr)
			},
		},
		{
			name: "store",
			setup: func(h *harness) {
				h.fetcher.err = &fgerrors.StoreError{Op: "aggregate", Collection: "sales", Err: errors.New("down")}
			},
			check: func(t *testing.T, err error) {
				var serr *fgerrors.StoreError
				assert.ErrorAs(t, err, &serr)
				assert.Equal(t, fgerrors.MsgStoreDown, fgerrors.UserMessage(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.label = "Visualization"
			tt.setup(h)
			_, err := h.assistant(t).Ask(context.Background(), "t", agent.Input{Question: "chart"})
			require.Error(t, err)
			tt.check(t, err)
			assert.Zero(t, h.charts.calls)
		})
	}
}

func TestAssistant_RecordSaleThenConfirm(t *testing.T) {
	tests := []struct {
		reply   string
		want    string
		records int
	}{
		{"yes", sales.SavedMessage, 1},
		{"Sure, save it", sales.SavedMessage, 1},
		{"cancel", sales.CancelledMessage, 0},
		{"show me a chart of sales", sales.CancelledMessage, 0},
	}

	for _, tt := range tests {
		t.Run(tt.reply, func(t *testing.T) {
			h := newHarness()
			h.label = "Record_Sale"
			a := h.assistant(t)
			ctx := context.Background()

			r := ask(t, a, "t", "record this receipt")
			assert.True(t, r.AwaitingInput)
			assert.Contains(t, r.Answer, sales.ConfirmQuestion)
			assert.Contains(t, r.Answer, "| pen |")

			status, err := a.Query(ctx, "t", query.QueryStatus, nil)
			require.NoError(t, err)
			assert.Equal(t, query.StatusAwaitingInput, status)
			pending, err := a.Query(ctx, "t", query.QueryPendingTask, nil)
			require.NoError(t, err)
			assert.Equal(t, agent.NodeConfirmSale, pending.(*query.PendingTask).NodeID)

			h.label = "Visualization"
			r = ask(t, a, "t", tt.reply)
			assert.Equal(t, tt.want, r.Answer)
			assert.False(t, r.AwaitingInput)
			assert.Equal(t, 1, h.routerCalls, "the reply bypasses the router")
			assert.Len(t, h.recorder.saved, tt.records)

			snap, err := a.Inspect(ctx, "t")
			require.NoError(t, err)
			assert.Equal(t, query.StatusIdle, snap.Status)
			assert.Nil(t, snap.State.(agent.State).PendingTransaction)
			require.Len(t, snap.Messages, 4)
			assert.Equal(t, tt.reply, snap.Messages[2].Content)
		})
	}
}

func TestAssistant_ConfirmStoreFailureKeepsPending(t *testing.T) {
	h := newHarness()
	h.label = "Record_Sale"
	h.recorder.err = &fgerrors.StoreError{Op: "insert", Collection: "sales", Err: errors.New("down")}
	a := h.assistant(t)
	ctx := context.Background()

	ask(t, a, "t", "record this")
	_, err := a.Ask(ctx, "t", agent.Input{Question: "yes"})
	require.Error(t, err)

	status, err := a.Query(ctx, "t", query.QueryStatus, nil)
	require.NoError(t, err)
	assert.Equal(t, query.StatusAwaitingInput, status)

	h.recorder.err = nil
	r := ask(t, a, "t", "yes")
	assert.Equal(t, sales.SavedMessage, r.Answer)
	assert.Len(t, h.recorder.saved, 1)
}

func TestAssistant_UnreadableSale(t *testing.T) {
	h := newHarness()
	h.label = "Record_Sale"
	h.sales.sale = nil
	h.sales.err = sales.ErrUnreadable

	r := ask(t, h.assistant(t), "t", "record this")
	assert.Equal(t, agent.UnreadableAnswer, r.Answer)
	assert.False(t, r.AwaitingInput)
}

func TestAssistant_FallbackAnswer(t *testing.T) {
	h := newHarness()
	h.label = "Query_Data"
	h.inspector.answer = ""

	r := ask(t, h.assistant(t), "t", "hm")
	assert.Equal(t, agent.FallbackAnswer, r.Answer)
}

func TestAssistant_RecursionLimit(t *testing.T) {
	h := newHarness()
	h.label = "Visualization"
	a := h.assistant(t)

	var steps int
	var last error
	for _, err := range a.Stream(context.Background(), "t", agent.Input{Question: "chart", RecursionLimit: 2}) {
		if err != nil {
			last = err
			break
		}
		steps++
	}
	assert.Equal(t, 2, steps)
	assert.ErrorIs(t, last, flowgraph.ErrRecursionLimit)
	assert.Zero(t, h.charts.calls)
}

func TestAssistant_HistoryAcrossTurns(t *testing.T) {
	h := newHarness()
	h.label = "Query_Data"
	a := h.assistant(t)

	ask(t, a, "t", "first")
	ask(t, a, "t", "second")
	ask(t, a, "other", "unrelated")

	require.Len(t, h.inspector.reqs, 3)
	assert.Equal(t, "second", h.inspector.reqs[1].Question)
	require.Len(t, h.inspector.reqs[1].History, 2)
	assert.Equal(t, "first", h.inspector.reqs[1].History[0].Content)
	assert.Empty(t, h.inspector.reqs[2].History)

	msgs, err := a.Query(context.Background(), "t", query.QueryMessages, 2)
	require.NoError(t, err)
	assert.Equal(t, []query.Message{
		{Role: "user", Content: "second"},
		{Role: "assistant", Content: "Spot-1 is docked."},
	}, msgs)
}

func TestAssistant_AnalyzePlot(t *testing.T) {
	h := newHarness()
	a := h.assistant(t, agent.WithAnalyzePlot(true))

	h.label = "Analyze_Plot"
	r := ask(t, a, "t", "what does the chart show?")
	assert.Equal(t, agent.NoChartAnswer, r.Answer)

	h.label = "Visualization"
	ask(t, a, "t", "chart sales by store")

	h.label = "Analyze_Plot"
	r = ask(t, a, "t", "which store leads?")
	assert.Equal(t, "Denver leads.", r.Answer)
	assert.Nil(t, r.Chart)
	assert.Contains(t, h.prompts[len(h.prompts)-1], `"type":"bar"`)
}

func TestAssistant_EmptyInput(t *testing.T) {
	_, err := newHarness().assistant(t).Ask(context.Background(), "t", agent.Input{Question: "  "})
	assert.ErrorIs(t, err, agent.ErrEmptyInput)
}

func TestAssistant_Purge(t *testing.T) {
	h := newHarness()
	h.label = "Help"
	a := h.assistant(t)
	ctx := context.Background()

	ask(t, a, "t", "help")
	require.NoError(t, a.Purge(ctx, "t"))
	_, err := a.Inspect(ctx, "t")
	assert.ErrorIs(t, err, query.ErrThreadNotFound)
}

func TestAssistant_Mermaid(t *testing.T) {
	out := newHarness().assistant(t).Mermaid()
	assert.Contains(t, out, "router -.->|Visualization| rephrase")
	assert.Contains(t, out, "record_sale -.->|confirm| confirm_sale")
	assert.Contains(t, out, "class confirm_sale interrupt")
	assert.NotContains(t, out, "analyze_plot")
}

func TestDiagram(t *testing.T) {
	tests := []struct {
		name        string
		analyzePlot bool
	}{
		{name: "without analyze plot"},
		{name: "with analyze plot", analyzePlot: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := agent.Diagram(tt.analyzePlot)
			require.NoError(t, err)
			assert.Contains(t, out, "router -.->|Query_Data| query_data")
			if tt.analyzePlot {
				assert.Contains(t, out, "router -.->|Analyze_Plot| analyze_plot")
			} else {
				assert.NotContains(t, out, "analyze_plot")
			}
		})
	}
}

func TestNew_MissingDeps(t *testing.T) {
	_, err := agent.New(agent.Deps{LLM: llm.NewMockClient("")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Charts, Data, Inspector")
}
