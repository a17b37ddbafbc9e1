package agent

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/randalmurphal/insightgraph/pkg/chart"
	"github.com/randalmurphal/insightgraph/pkg/dataaccess"
	"github.com/randalmurphal/insightgraph/pkg/flowgraph"
	"github.com/randalmurphal/insightgraph/pkg/flowgraph/llm"
	"github.com/randalmurphal/insightgraph/pkg/planner"
	"github.com/randalmurphal/insightgraph/pkg/sales"
	"github.com/randalmurphal/insightgraph/pkg/sanitize"
	"github.com/randalmurphal/insightgraph/pkg/tools"
)

// Node IDs.
const (
	NodeRouter        = "router"
	NodeQueryData     = "query_data"
	NodeRephrase      = "rephrase"
	NodeGenerateQuery = "generate_query"
	NodeGenerateChart = "generate_chart"
	NodeRecordSale    = "record_sale"
	NodeConfirmSale   = "confirm_sale"
	NodeAnalyzePlot   = "analyze_plot"
	NodeHelp          = "help"
	NodeNoContext     = "no_context"
)

// GraphName names the compiled workflow in traces and metrics.
const GraphName = "insight"

// NewGraph assembles the workflow. The router is the only branching node
// on the question type; every label it does not know, and Analyze_Plot
// when analyzePlot is false, goes to no_context. The turn suspends before
// confirm_sale so the user's reply is routed there directly.
func NewGraph(deps Deps, analyzePlot bool) (*flowgraph.Graph[State], error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	n := &nodes{Deps: deps}

	routes := map[string]string{
		string(QueryData):     NodeQueryData,
		string(Visualization): NodeRephrase,
		string(RecordSale):    NodeRecordSale,
		string(Help):          NodeHelp,
		string(NoContext):     NodeNoContext,
		string(Error):         NodeNoContext,
	}

	g := flowgraph.NewGraph[State]().
		AddNode(NodeRouter, n.classify).
		AddNode(NodeQueryData, n.queryData).
		AddNode(NodeRephrase, n.rephrase).
		AddNode(NodeGenerateQuery, n.generateQuery).
		AddNode(NodeGenerateChart, n.generateChart).
		AddNode(NodeRecordSale, n.recordSale).
		AddNode(NodeConfirmSale, n.confirmSale).
		AddNode(NodeHelp, n.help).
		AddNode(NodeNoContext, n.noContext).
		AddEdge(NodeQueryData, flowgraph.END).
		AddEdge(NodeRephrase, NodeGenerateQuery).
		AddConditionalEdge(NodeGenerateQuery, byResultSize, map[string]string{
			routeRows:  NodeGenerateChart,
			routeEmpty: flowgraph.END,
		}, flowgraph.END).
		AddEdge(NodeGenerateChart, flowgraph.END).
		AddConditionalEdge(NodeRecordSale, byPendingSale, map[string]string{
			routeConfirm: NodeConfirmSale,
		}, flowgraph.END).
		AddEdge(NodeConfirmSale, flowgraph.END).
		AddEdge(NodeHelp, flowgraph.END).
		AddEdge(NodeNoContext, flowgraph.END).
		InterruptBefore(NodeConfirmSale).
		SetReducer(Reduce).
		SetFinalizer(finalize).
		SetEntry(NodeRouter)

	if analyzePlot {
		routes[string(AnalyzePlot)] = NodeAnalyzePlot
		g.AddNode(NodeAnalyzePlot, n.analyzePlotNode).
			AddEdge(NodeAnalyzePlot, flowgraph.END)
	}
	g.AddConditionalEdge(NodeRouter, byQuestionType, routes, NodeNoContext)
	return g, nil
}

// Diagram renders the workflow as Mermaid without any collaborators.
func Diagram(analyzePlot bool) (string, error) {
	var in inert
	g, err := NewGraph(Deps{
		LLM: in, Inspector: in, Planner: in, Data: in, Charts: in, Sales: in, Recorder: in,
	}, analyzePlot)
	if err != nil {
		return "", err
	}
	compiled, err := g.Compile(flowgraph.WithGraphName(GraphName))
	if err != nil {
		return "", err
	}
	return compiled.Mermaid(), nil
}

var errInert = errors.New("agent: diagram graph cannot run")

// inert satisfies every dependency and fails every call.
type inert struct{}

func (inert) Complete(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return nil, errInert
}

func (inert) Run(context.Context, tools.Request) (*tools.Result, error) { return nil, errInert }

func (inert) PlanFor(context.Context, string, planner.Request) (*sanitize.Plan, error) {
	return nil, errInert
}

func (inert) Execute(context.Context, *sanitize.Plan) ([]dataaccess.Record, error) {
	return nil, errInert
}

func (inert) Generate(context.Context, chart.Request) (json.RawMessage, error) { return nil, errInert }

func (inert) Extract(context.Context, string, []llm.Image) (*sales.Sale, error) {
	return nil, errInert
}

func (inert) Record(context.Context, *sales.Sale) (string, error) { return "", errInert }
