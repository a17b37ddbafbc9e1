package agent

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/insightgraph/pkg/dataaccess"
	"github.com/randalmurphal/insightgraph/pkg/flowgraph/llm"
	"github.com/randalmurphal/insightgraph/pkg/sales"
)

func TestParseQuestionType(t *testing.T) {
	tests := []struct {
		in   string
		want QuestionType
		ok   bool
	}{
		{"Visualization", Visualization, true},
		{" query_data\n", QueryData, true},
		{`"Record_Sale"`, RecordSale, true},
		{"**Help**.", Help, true},
		{"NoContext", NoContext, true},
		{"Weather", "", false},
		{"Visualization because the user wants a chart", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseQuestionType(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReduce_AppendsMessagesWithoutAliasing(t *testing.T) {
	base := State{Messages: make([]llm.Message, 1, 4)}
	base.Messages[0] = llm.UserMessage("q1")

	a := Reduce(base, reply("a1"))
	b := Reduce(base, reply("b1"))

	require.Len(t, a.Messages, 2)
	require.Len(t, b.Messages, 2)
	assert.Equal(t, "a1", a.Messages[1].Content)
	assert.Equal(t, "b1", b.Messages[1].Content)
	assert.Len(t, base.Messages, 1)
}

func TestReduce_NewTurnClearsTurnFields(t *testing.T) {
	pending := &sales.Sale{StoreLocation: "Denver"}
	base := State{
		Question:           "old",
		QuestionType:       Visualization,
		Messages:           []llm.Message{llm.UserMessage("old"), llm.AssistantMessage("chart")},
		Answer:             "chart",
		Chart:              json.RawMessage(`{"data": []}`),
		RephrasedQuestion:  "retrieve",
		QueryResult:        []dataaccess.Record{{"a": 1}},
		PendingTransaction: pending,
		Images:             []llm.Image{{MIMEType: "image/png"}},
		LastChart:          json.RawMessage(`{"data": []}`),
	}

	s := Reduce(base, turnInput("new", nil))

	assert.Equal(t, "new", s.Question)
	assert.Empty(t, s.QuestionType)
	assert.Empty(t, s.Answer)
	assert.Nil(t, s.Chart)
	assert.Empty(t, s.RephrasedQuestion)
	assert.Nil(t, s.QueryResult)
	assert.Nil(t, s.Images)
	assert.Same(t, pending, s.PendingTransaction)
	assert.JSONEq(t, `{"data": []}`, string(s.LastChart))
	require.Len(t, s.Messages, 3)
	assert.Equal(t, "new", s.Messages[2].Content)
	assert.False(t, s.newTurn)
}

func TestReduce_Pending(t *testing.T) {
	sale := &sales.Sale{StoreLocation: "Austin"}

	s := Reduce(State{}, State{PendingTransaction: sale})
	assert.Same(t, sale, s.PendingTransaction)

	s = Reduce(s, State{Answer: "x"})
	assert.Same(t, sale, s.PendingTransaction, "untouched by unrelated updates")

	s = Reduce(s, State{clearPending: true})
	assert.Nil(t, s.PendingTransaction)
	assert.False(t, s.clearPending)
}

func TestReduce_ChartUpdatesLastChart(t *testing.T) {
	s := Reduce(State{}, State{Chart: json.RawMessage(`{"v": 2}`)})
	assert.JSONEq(t, `{"v": 2}`, string(s.LastChart))
}

func TestState_History(t *testing.T) {
	s := Reduce(State{Messages: []llm.Message{llm.UserMessage("a"), llm.AssistantMessage("b")}}, turnInput("c", nil))
	h := s.history()
	require.Len(t, h, 2)
	assert.Equal(t, "b", h[1].Content)

	s = Reduce(s, reply("d"))
	assert.Len(t, s.history(), 4)
}

func TestState_PersistsThroughJSON(t *testing.T) {
	s := State{
		Question:           "yes",
		PendingTransaction: &sales.Sale{StoreLocation: "Denver", Items: []sales.Item{{Name: "pen", Quantity: 1}}},
		Messages:           []llm.Message{llm.UserMessage("yes")},
	}
	raw, err := json.Marshal(s)
	require.NoError(t, err)

	var back State
	require.NoError(t, json.Unmarshal(raw, &back))
	require.NotNil(t, back.PendingTransaction)
	assert.Equal(t, "pen", back.PendingTransaction.Items[0].Name)
	assert.Equal(t, s.Messages, back.Messages)
}
