package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/randalmurphal/insightgraph/pkg/aqi"
	fgerrors "github.com/randalmurphal/insightgraph/pkg/flowgraph/errors"
	"github.com/randalmurphal/insightgraph/pkg/flowgraph/llm"
	"github.com/randalmurphal/insightgraph/pkg/flowgraph/template"
)

// DefaultMaxSteps is the number of tool calls allowed per question.
const DefaultMaxSteps = 3

// maxObservation caps the tool output shown back to the model.
const maxObservation = 8000

var selectToolPrompt = template.MustParse("select-tool", `You answer questions about factory inspection missions, defects and spot robots by calling tools.

Tools:
${tools}
Today's date is ${today}.

Results so far:
${observations}
Reply with only a JSON object:
- {"tool": "<name>", "arguments": {...}} to call a tool, or
- {"done": true} when the results so far answer the question.
Use NotAbleToParse when no tool fits the question.`)

var formatPrompt = template.MustParse("format-answer", `Answer the user's question using only the tool results below.
Write the answer in markdown. Use a table for lists of records and keep image URLs as markdown links.
Do not mention tools or JSON.

Tool results:
${observations}`)

// Step is one tool call made while answering.
type Step struct {
	Tool      Name   `json:"tool"`
	Arguments string `json:"arguments,omitempty"`
	Output    string `json:"output,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Result is the agent's answer and the calls that produced it.
type Result struct {
	Answer string `json:"answer"`
	Steps  []Step `json:"steps,omitempty"`
}

// Request is one question for the agent.
type Request struct {
	Question string
	History  []llm.Message
}

type decision struct {
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
	Done      bool            `json:"done"`
}

// Agent answers questions by letting the model pick tools from a Registry.
type Agent struct {
	client   llm.Client
	tools    *Registry
	maxSteps int
	clock    clockwork.Clock
	logger   *slog.Logger
}

// AgentOption configures an Agent.
type AgentOption func(*Agent)

// WithMaxSteps sets the tool-call budget. Values below 1 are ignored.
func WithMaxSteps(n int) AgentOption {
	return func(a *Agent) {
		if n > 0 {
			a.maxSteps = n
		}
	}
}

// WithAgentClock sets the clock used for "today" in prompts.
func WithAgentClock(c clockwork.Clock) AgentOption {
	return func(a *Agent) { a.clock = c }
}

// WithAgentLogger sets the logger.
func WithAgentLogger(l *slog.Logger) AgentOption {
	return func(a *Agent) { a.logger = l }
}

// NewAgent creates an Agent over tools.
func NewAgent(client llm.Client, tools *Registry, opts ...AgentOption) *Agent {
	a := &Agent{client: client, tools: tools, maxSteps: DefaultMaxSteps}
	for _, opt := range opts {
		opt(a)
	}
	if a.clock == nil {
		a.clock = clockwork.NewRealClock()
	}
	if a.logger == nil {
		a.logger = slog.New(slog.DiscardHandler)
	}
	return a
}

// Run answers req. A tool name outside the closed set, NotAbleToParse, or a
// selection the model could not express answers NoContextAnswer. Tool
// failures caused by bad arguments are shown to the model; store, planning
// and provider failures are returned.
func (a *Agent) Run(ctx context.Context, req Request) (*Result, error) {
	res := &Result{}
	for len(res.Steps) < a.maxSteps {
		d, err := a.decide(ctx, req, res.Steps)
		if errors.Is(err, llm.ErrMalformedOutput) || errors.Is(err, llm.ErrContentFiltered) {
			a.logger.Debug("tool selection unusable", slog.String("error", err.Error()))
			if len(res.Steps) == 0 {
				res.Answer = NoContextAnswer
				return res, nil
			}
			break
		}
		if err != nil {
			return nil, err
		}
		if d.Done {
			break
		}

		name, ok := ParseName(d.Tool)
		if !ok || name == NotAbleToParse {
			a.logger.Debug("no tool fits", slog.String("tool", d.Tool))
			res.Steps = append(res.Steps, Step{Tool: name})
			res.Answer = NoContextAnswer
			return res, nil
		}

		step := Step{Tool: name, Arguments: string(d.Arguments)}
		out, err := a.tools.Dispatch(ctx, Call{Tool: string(name), Arguments: d.Arguments})
		switch {
		case err == nil:
			step.Output = out
		case recoverable(err):
			step.Error = err.Error()
		default:
			return nil, fmt.Errorf("tool %s: %w", name, err)
		}
		a.logger.Debug("tool called",
			slog.String("tool", string(name)),
			slog.Bool("failed", step.Error != ""))
		res.Steps = append(res.Steps, step)
	}

	if len(res.Steps) == 0 {
		res.Answer = NoContextAnswer
		return res, nil
	}
	answer, err := a.format(ctx, req, res.Steps)
	if err != nil {
		return nil, err
	}
	res.Answer = answer
	return res, nil
}

func (a *Agent) decide(ctx context.Context, req Request, steps []Step) (decision, error) {
	system, err := selectToolPrompt.Execute(map[string]any{
		"tools":        a.tools.Describe(),
		"today":        a.clock.Now().UTC().Format(time.DateOnly),
		"observations": observations(steps),
	})
	if err != nil {
		return decision{}, err
	}
	return llm.CompleteStructured[decision](ctx, a.client, llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     withQuestion(req),
	})
}

func (a *Agent) format(ctx context.Context, req Request, steps []Step) (string, error) {
	system, err := formatPrompt.Execute(map[string]any{"observations": observations(steps)})
	if err != nil {
		return "", err
	}
	answer, err := llm.CompleteText(ctx, a.client, llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     withQuestion(req),
	})
	if errors.Is(err, llm.ErrContentFiltered) {
		return NoContextAnswer, nil
	}
	if err != nil {
		return "", err
	}
	if answer == "" {
		return NoContextAnswer, nil
	}
	return answer, nil
}

func withQuestion(req Request) []llm.Message {
	msgs := make([]llm.Message, 0, len(req.History)+1)
	msgs = append(msgs, req.History...)
	return append(msgs, llm.UserMessage(req.Question))
}

func observations(steps []Step) string {
	if len(steps) == 0 {
		return "(none)\n"
	}
	var b strings.Builder
	for i, s := range steps {
		fmt.Fprintf(&b, "%d. %s %s\n", i+1, s.Tool, s.Arguments)
		if s.Error != "" {
			fmt.Fprintf(&b, "   error: %s\n", s.Error)
			continue
		}
		fmt.Fprintf(&b, "   result: %s\n", template.Truncate(s.Output, maxObservation))
	}
	return b.String()
}

// recoverable reports whether a tool failure is the model's to fix.
func recoverable(err error) bool {
	if errors.Is(err, ErrInvalidArguments) || errors.Is(err, aqi.ErrInvalidWindow) ||
		errors.Is(err, aqi.ErrInvalidSegment) || errors.Is(err, ErrNoSpots) {
		return true
	}
	var httpErr *fgerrors.HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode >= 400 && httpErr.StatusCode < 500
}
