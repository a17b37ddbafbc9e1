package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/randalmurphal/insightgraph/pkg/chart"
	"github.com/randalmurphal/insightgraph/pkg/dataaccess"
	"github.com/randalmurphal/insightgraph/pkg/flowgraph"
	fgerrors "github.com/randalmurphal/insightgraph/pkg/flowgraph/errors"
	"github.com/randalmurphal/insightgraph/pkg/flowgraph/llm"
	"github.com/randalmurphal/insightgraph/pkg/planner"
	"github.com/randalmurphal/insightgraph/pkg/sales"
	"github.com/randalmurphal/insightgraph/pkg/sanitize"
	"github.com/randalmurphal/insightgraph/pkg/tools"
)

// Fixed answers.
const (
	FallbackAnswer   = "Unable to process the query. Could you provide more information?"
	NoResultsAnswer  = "No data matched your request, so there is nothing to chart. Try widening the filters or the time range."
	UnreadableAnswer = "I could not read a sale from that. Please attach a clear photo of the receipt or describe the items, prices and quantities."
	NoChartAnswer    = "There is no chart in this conversation yet. Ask me to visualize some sales data first."
	NoPendingAnswer  = "There is no sale waiting for confirmation."

	HelpAnswer = `I can help you with:
- **Inspections**: missions, defects and their images, SPOT robots and their battery, mission statistics over a period.
- **Sales charts**: ask for a chart of the sales data, for example "monthly sales by store as a line chart".
- **Recording sales**: attach a receipt image and I will read it, show you the sale and save it once you confirm.`
)

const maxFigureChars = 12000

// Inspector answers inspection questions. *tools.Agent implements it.
type Inspector interface {
	Run(ctx context.Context, req tools.Request) (*tools.Result, error)
}

// QueryPlanner plans questions against a single collection.
// *planner.Planner implements it.
type QueryPlanner interface {
	PlanFor(ctx context.Context, collection string, req planner.Request) (*sanitize.Plan, error)
}

// Fetcher executes plans. *dataaccess.Access implements it.
type Fetcher interface {
	Execute(ctx context.Context, plan *sanitize.Plan) ([]dataaccess.Record, error)
}

// ChartMaker renders records as a chart. *chart.Generator implements it.
type ChartMaker interface {
	Generate(ctx context.Context, req chart.Request) (json.RawMessage, error)
}

// SaleReader reads a sale from the user's input. *sales.Extractor
// implements it.
type SaleReader interface {
	Extract(ctx context.Context, text string, images []llm.Image) (*sales.Sale, error)
}

// SaleWriter stores confirmed sales. *sales.Recorder implements it.
type SaleWriter interface {
	Record(ctx context.Context, sale *sales.Sale) (string, error)
}

// Deps are the collaborators of the workflow nodes.
type Deps struct {
	LLM       llm.Client
	Inspector Inspector
	Planner   QueryPlanner
	Data      Fetcher
	Charts    ChartMaker
	Sales     SaleReader
	Recorder  SaleWriter

	// SalesSchema describes the sales collection to the rephrase node.
	SalesSchema string
}

func (d Deps) validate() error {
	var missing []string
	for name, ok := range map[string]bool{
		"LLM":       d.LLM != nil,
		"Inspector": d.Inspector != nil,
		"Planner":   d.Planner != nil,
		"Data":      d.Data != nil,
		"Charts":    d.Charts != nil,
		"Sales":     d.Sales != nil,
		"Recorder":  d.Recorder != nil,
	} {
		if !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return fmt.Errorf("agent: missing dependencies: %s", strings.Join(missing, ", "))
	}
	return nil
}

type nodes struct {
	Deps
}

// classify labels the turn. Output outside the label set becomes NoContext
// and a filtered completion becomes Error; neither fails the turn.
func (n *nodes) classify(ctx flowgraph.Context, s State) (State, error) {
	attachments := ""
	if len(s.Images) > 0 {
		attachments = fmt.Sprintf("The user attached %d image(s) to this message.", len(s.Images))
	}
	system, err := routerPrompt.Execute(map[string]any{"attachments": attachments})
	if err != nil {
		return State{}, err
	}

	text, err := llm.CompleteText(ctx, n.LLM, llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     s.Messages,
		MaxTokens:    16,
	})
	if errors.Is(err, llm.ErrContentFiltered) {
		ctx.Logger().Info("classification filtered", slog.String("error", err.Error()))
		return State{QuestionType: Error}, nil
	}
	if err != nil {
		return State{}, err
	}

	qt, ok := ParseQuestionType(text)
	if !ok {
		cerr := &fgerrors.ClassificationError{Raw: text, Err: errors.New("label outside the known set")}
		ctx.Logger().Info("classification ambiguous", slog.String("error", cerr.Error()))
		qt = NoContext
	}
	return State{QuestionType: qt}, nil
}

func byQuestionType(_ flowgraph.Context, s State) string {
	return string(s.QuestionType)
}

func (n *nodes) queryData(ctx flowgraph.Context, s State) (State, error) {
	res, err := n.Inspector.Run(ctx, tools.Request{Question: s.Question, History: s.history()})
	if err != nil {
		return State{}, err
	}
	return reply(res.Answer), nil
}

// rephrase turns a chart request into a data question. An unusable
// completion keeps the original question.
func (n *nodes) rephrase(ctx flowgraph.Context, s State) (State, error) {
	system, err := rephrasePrompt.Execute(map[string]any{"schema": n.SalesSchema})
	if err != nil {
		return State{}, err
	}
	text, err := llm.CompleteText(ctx, n.LLM, llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     s.Messages,
	})
	if errors.Is(err, llm.ErrContentFiltered) {
		return State{RephrasedQuestion: s.Question}, nil
	}
	if err != nil {
		return State{}, err
	}
	text = strings.Trim(text, "\"' \n")
	if text == "" {
		text = s.Question
	}
	ctx.Logger().Debug("rephrased", slog.String("question", text))
	return State{RephrasedQuestion: text}, nil
}

// generateQuery plans the rephrased question against the sales collection
// and fetches the records. An empty result answers the turn.
func (n *nodes) generateQuery(ctx flowgraph.Context, s State) (State, error) {
	question := s.RephrasedQuestion
	if question == "" {
		question = s.Question
	}
	plan, err := n.Planner.PlanFor(ctx, planner.SalesCollection, planner.Request{Question: question, History: s.history()})
	if err != nil {
		return State{}, err
	}
	records, err := n.Data.Execute(ctx, plan)
	if err != nil {
		return State{}, err
	}
	if len(records) == 0 {
		update := reply(NoResultsAnswer)
		update.QueryResult = []dataaccess.Record{}
		return update, nil
	}
	ctx.Logger().Debug("records fetched", slog.Int("rows", len(records)))
	return State{QueryResult: records}, nil
}

const (
	routeRows  = "rows"
	routeEmpty = "empty"
)

func byResultSize(_ flowgraph.Context, s State) string {
	if len(s.QueryResult) == 0 {
		return routeEmpty
	}
	return routeRows
}

// generateChart renders the fetched records. A chart fault degrades to an
// answer without a chart.
func (n *nodes) generateChart(ctx flowgraph.Context, s State) (State, error) {
	fig, err := n.Charts.Generate(ctx, chart.Request{Question: s.Question, Records: s.QueryResult})
	var fault *fgerrors.ChartGenerationFault
	switch {
	case errors.As(err, &fault):
		ctx.Logger().Warn("chart degraded", slog.String("stage", fault.Stage), slog.String("error", err.Error()))
		return reply(fgerrors.MsgChartFault), nil
	case errors.Is(err, chart.ErrNoData):
		return reply(NoResultsAnswer), nil
	case err != nil:
		return State{}, err
	}
	update := reply(fmt.Sprintf("Here is your chart, built from %d records.", len(s.QueryResult)))
	update.Chart = fig
	return update, nil
}

// recordSale proposes a sale for confirmation.
func (n *nodes) recordSale(ctx flowgraph.Context, s State) (State, error) {
	sale, err := n.Sales.Extract(ctx, s.Question, s.Images)
	if errors.Is(err, sales.ErrUnreadable) {
		ctx.Logger().Info("sale unreadable", slog.String("error", err.Error()))
		return reply(UnreadableAnswer), nil
	}
	if err != nil {
		return State{}, err
	}
	update := reply(sale.Summary() + "\n" + sales.ConfirmQuestion)
	update.PendingTransaction = sale
	return update, nil
}

const routeConfirm = "confirm"

func byPendingSale(_ flowgraph.Context, s State) string {
	if s.PendingTransaction != nil {
		return routeConfirm
	}
	return ""
}

// confirmSale commits or cancels the pending sale. Either way the pending
// sale is cleared.
func (n *nodes) confirmSale(ctx flowgraph.Context, s State) (State, error) {
	if s.PendingTransaction == nil {
		update := reply(NoPendingAnswer)
		update.clearPending = true
		return update, nil
	}
	if !sales.IsAffirmative(s.Question) {
		update := reply(sales.CancelledMessage)
		update.clearPending = true
		return update, nil
	}
	id, err := n.Recorder.Record(ctx, s.PendingTransaction)
	if err != nil {
		return State{}, err
	}
	ctx.Logger().Info("sale recorded", slog.String("id", id))
	update := reply(sales.SavedMessage)
	update.clearPending = true
	return update, nil
}

func (n *nodes) help(flowgraph.Context, State) (State, error) {
	return reply(HelpAnswer), nil
}

func (n *nodes) noContext(_ flowgraph.Context, s State) (State, error) {
	if s.QuestionType == Error {
		return reply(fgerrors.MsgClassification), nil
	}
	return reply(tools.NoContextAnswer), nil
}

// analyzePlotNode answers questions about the thread's last chart.
func (n *nodes) analyzePlotNode(ctx flowgraph.Context, s State) (State, error) {
	if len(s.LastChart) == 0 {
		return reply(NoChartAnswer), nil
	}
	system, err := analyzePrompt.Execute(map[string]any{"figure": string(s.LastChart)})
	if err != nil {
		return State{}, err
	}
	answer, err := llm.CompleteText(ctx, n.LLM, llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     s.Messages,
	})
	if errors.Is(err, llm.ErrContentFiltered) || (err == nil && answer == "") {
		return reply(tools.NoContextAnswer), nil
	}
	if err != nil {
		return State{}, err
	}
	return reply(answer), nil
}

// finalize substitutes the fallback answer for a turn that ended with
// neither an answer nor a chart.
func finalize(s State) (State, bool) {
	if s.Answer != "" || len(s.Chart) > 0 {
		return State{}, false
	}
	return reply(FallbackAnswer), true
}
