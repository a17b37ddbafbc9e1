package agent

import (
	"encoding/json"
	"slices"
	"strings"

	"github.com/randalmurphal/insightgraph/pkg/dataaccess"
	"github.com/randalmurphal/insightgraph/pkg/flowgraph/llm"
	"github.com/randalmurphal/insightgraph/pkg/flowgraph/query"
	"github.com/randalmurphal/insightgraph/pkg/sales"
)

// QuestionType is the router's classification of a turn.
type QuestionType string

// The closed set of router labels.
const (
	QueryData     QuestionType = "Query_Data"
	Visualization QuestionType = "Visualization"
	RecordSale    QuestionType = "Record_Sale"
	AnalyzePlot   QuestionType = "Analyze_Plot"
	Help          QuestionType = "Help"
	NoContext     QuestionType = "NoContext"
	Error         QuestionType = "Error"
)

// QuestionTypes lists every label in prompt order.
var QuestionTypes = []QuestionType{QueryData, Visualization, RecordSale, AnalyzePlot, Help, NoContext, Error}

// ParseQuestionType matches a model's label case-insensitively, ignoring
// surrounding quotes and punctuation.
func ParseQuestionType(s string) (QuestionType, bool) {
	s = strings.Trim(strings.TrimSpace(s), "\"'`.*: \n")
	for _, qt := range QuestionTypes {
		if strings.EqualFold(s, string(qt)) {
			return qt, true
		}
	}
	return "", false
}

// State is the conversation state of one thread.
//
// Messages only grow. Answer, Chart, QuestionType, RephrasedQuestion,
// QueryResult and Images belong to the current turn and are cleared when
// the next turn starts. PendingTransaction survives turns until the
// confirmation node clears it.
type State struct {
	Question           string              `json:"question"`
	QuestionType       QuestionType        `json:"questionType,omitempty"`
	Messages           []llm.Message       `json:"messages,omitempty"`
	Answer             string              `json:"answer,omitempty"`
	Chart              json.RawMessage     `json:"chart,omitempty"`
	RephrasedQuestion  string              `json:"rephrasedQuestion,omitempty"`
	QueryResult        []dataaccess.Record `json:"queryResult,omitempty"`
	PendingTransaction *sales.Sale         `json:"pendingTransaction,omitempty"`
	Images             []llm.Image         `json:"images,omitempty"`

	// LastChart is the most recent chart of the thread, kept for Analyze_Plot.
	LastChart json.RawMessage `json:"lastChart,omitempty"`

	newTurn      bool
	clearPending bool
}

// turnInput is the update that opens a turn.
func turnInput(question string, images []llm.Image) State {
	return State{
		Question: question,
		Images:   images,
		Messages: []llm.Message{llm.UserMessage(question)},
		newTurn:  true,
	}
}

// reply is an update that answers the turn.
func reply(answer string) State {
	return State{Answer: answer, Messages: []llm.Message{llm.AssistantMessage(answer)}}
}

// Reduce merges a node update into base. Non-zero update fields win,
// messages are appended.
func Reduce(base, update State) State {
	s := base
	if update.newTurn {
		s.QuestionType = ""
		s.Answer = ""
		s.Chart = nil
		s.RephrasedQuestion = ""
		s.QueryResult = nil
		s.Images = nil
	}

	if update.Question != "" {
		s.Question = update.Question
	}
	if update.QuestionType != "" {
		s.QuestionType = update.QuestionType
	}
	if len(update.Messages) > 0 {
		s.Messages = append(slices.Clip(base.Messages), update.Messages...)
	}
	if update.Answer != "" {
		s.Answer = update.Answer
	}
	if len(update.Chart) > 0 {
		s.Chart = update.Chart
		s.LastChart = update.Chart
	}
	if update.RephrasedQuestion != "" {
		s.RephrasedQuestion = update.RephrasedQuestion
	}
	if update.QueryResult != nil {
		s.QueryResult = update.QueryResult
	}
	if update.Images != nil {
		s.Images = update.Images
	}
	if len(update.LastChart) > 0 {
		s.LastChart = update.LastChart
	}

	switch {
	case update.clearPending:
		s.PendingTransaction = nil
	case update.PendingTransaction != nil:
		s.PendingTransaction = update.PendingTransaction
	}

	s.newTurn = false
	s.clearPending = false
	return s
}

// history is the conversation before the current question.
func (s State) history() []llm.Message {
	n := len(s.Messages)
	if n > 0 && s.Messages[n-1].Role == llm.RoleUser && s.Messages[n-1].Content == s.Question {
		return s.Messages[:n-1]
	}
	return s.Messages
}

// inspectionMessages projects the history for thread inspection.
func inspectionMessages(s State) []query.Message {
	out := make([]query.Message, 0, len(s.Messages))
	for _, m := range s.Messages {
		out = append(out, query.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}
