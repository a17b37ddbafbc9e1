package planner_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	fgerrors "github.com/randalmurphal/insightgraph/pkg/flowgraph/errors"
	"github.com/randalmurphal/insightgraph/pkg/flowgraph/llm"
	"github.com/randalmurphal/insightgraph/pkg/planner"
	"github.com/randalmurphal/insightgraph/pkg/sanitize"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newPlanner(client llm.Client) *planner.Planner {
	return planner.New(client, nil, planner.WithClock(clockwork.NewFakeClockAt(now)))
}

func TestPlanFor_Sales(t *testing.T) {
	mock := llm.NewMockClient("```json\n[{\"$match\": {\"saleDate\": {\"$gte\": ISODate(\"2017-01-01T00:00:00Z\")}}}, {\"$limit\": 5}]\n```")
	p := newPlanner(mock)

	history := []llm.Message{llm.UserMessage("hi"), llm.AssistantMessage("hello")}
	plan, err := p.PlanFor(context.Background(), planner.SalesCollection, planner.Request{
		Question: "Sales since 2017",
		History:  history,
	})
	require.NoError(t, err)

	assert.Equal(t, "sales", plan.Collection)
	require.Len(t, plan.Stages, 2)
	match := plan.Stages[0].Map()["$match"].(bson.D).Map()["saleDate"].(bson.D)
	assert.Equal(t, time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC), match.Map()["$gte"])

	require.Equal(t, 1, mock.CallCount())
	req := mock.LastCall()
	assert.Contains(t, req.SystemPrompt, "storeLocation")
	assert.Contains(t, req.SystemPrompt, "2024-05-01T12:00:00Z")
	assert.Contains(t, req.SystemPrompt, "Input1: Retrieve store locations")
	assert.NotContains(t, req.SystemPrompt, "base_collection")
	require.Len(t, req.Messages, 3)
	assert.Equal(t, "Sales since 2017", req.Messages[2].Content)
	assert.Equal(t, llm.RoleUser, req.Messages[2].Role)
}

func TestPlan_SelectsCollections(t *testing.T) {
	mock := llm.NewMockClient("").WithResponses(
		`["missions"]`,
		`{"base_collection": "missions", "pipeline": [{"$match": {"status": "Failed"}}, {"$count": "n"}]}`,
	)
	p := newPlanner(mock)

	plan, err := p.Plan(context.Background(), planner.Request{Question: "How many missions failed?"})
	require.NoError(t, err)

	assert.Equal(t, "missions", plan.Collection)
	assert.Len(t, plan.Stages, 2)

	require.Equal(t, 2, mock.CallCount())
	assert.Contains(t, mock.Calls[0].Messages[0].Content, "- assets:")
	assert.Contains(t, mock.Calls[0].Messages[0].Content, "How many missions failed?")
	assert.NotContains(t, mock.Calls[0].Messages[0].Content, "- sales:")

	system := mock.Calls[1].SystemPrompt
	assert.Contains(t, system, "missionPlanName")
	assert.NotContains(t, system, "batteryLevel")
	assert.Contains(t, system, `{"base_collection": "missions", "pipeline": [`)
}

func TestPlan_SelectionFallsBackToAll(t *testing.T) {
	tests := []struct {
		name      string
		selection string
	}{
		{"empty list", `[]`},
		{"not json", `missions and assets`},
		{"only unknown names", `["movies"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := llm.NewMockClient("").WithResponses(
				tt.selection,
				`{"base_collection": "assets", "pipeline": [{"$limit": 1}]}`,
			)
			p := newPlanner(mock)

			plan, err := p.Plan(context.Background(), planner.Request{Question: "robot battery"})
			require.NoError(t, err)
			assert.Equal(t, "assets", plan.Collection)

			system := mock.Calls[1].SystemPrompt
			for _, field := range []string{"missionPlanName", "batteryLevel", "reviewStatus"} {
				assert.Contains(t, system, field)
			}
			assert.NotContains(t, system, "purchaseMethod")
		})
	}
}

func TestPlan_RejectsUnselectedCollection(t *testing.T) {
	mock := llm.NewMockClient("").WithResponses(
		`["missions"]`,
		`{"base_collection": "assets", "pipeline": [{"$limit": 1}]}`,
	)
	p := newPlanner(mock)

	_, err := p.Plan(context.Background(), planner.Request{Question: "missions"})
	var planErr *fgerrors.PlanningError
	require.ErrorAs(t, err, &planErr)
	assert.ErrorIs(t, err, sanitize.ErrShape)
}

func TestPlan_MalformedOutputIsNotRetried(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{"prose", "I am not sure what you mean.", sanitize.ErrNotStructured},
		{"bad date", `[{"$match": {"d": ISODate("yesterday")}}]`, sanitize.ErrInvalidDate},
		{"write stage", `[{"$out": "copy"}]`, sanitize.ErrForbiddenOperator},
		{"unbalanced", `[{"$limit": 1}`, sanitize.ErrUnbalanced},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := llm.NewMockClient(tt.raw)
			p := newPlanner(mock)

			_, err := p.PlanFor(context.Background(), planner.SalesCollection, planner.Request{Question: "q"})

			var planErr *fgerrors.PlanningError
			require.ErrorAs(t, err, &planErr)
			assert.Equal(t, "q", planErr.Question)
			var sanErr *fgerrors.SanitizationError
			assert.ErrorAs(t, err, &sanErr)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 1, mock.CallCount())
			assert.Equal(t, fgerrors.MsgInvalidQuery, fgerrors.UserMessage(err))
		})
	}
}

func TestPlan_ProviderErrorPropagates(t *testing.T) {
	provErr := &fgerrors.ProviderError{Provider: "gemini", StatusCode: 503, Err: errors.New("unavailable")}
	p := newPlanner(llm.NewMockClient("").WithError(provErr))

	_, err := p.PlanFor(context.Background(), planner.SalesCollection, planner.Request{Question: "q"})
	require.ErrorIs(t, err, provErr)
	var planErr *fgerrors.PlanningError
	assert.False(t, errors.As(err, &planErr))

	_, err = p.Plan(context.Background(), planner.Request{Question: "q"})
	require.ErrorIs(t, err, provErr)
}

func TestPlan_ContentFiltered(t *testing.T) {
	mock := llm.NewMockClient("").WithCompleteFunc(func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return nil, llm.ErrContentFiltered
	})
	p := newPlanner(mock)

	_, err := p.Plan(context.Background(), planner.Request{Question: "q"})

	var planErr *fgerrors.PlanningError
	require.ErrorAs(t, err, &planErr)
	assert.ErrorIs(t, err, llm.ErrContentFiltered)
	assert.Equal(t, 2, mock.CallCount())
}

func TestPlan_InvalidRequests(t *testing.T) {
	mock := llm.NewMockClient("[]")
	p := newPlanner(mock)

	_, err := p.Plan(context.Background(), planner.Request{Question: "  "})
	assert.ErrorIs(t, err, planner.ErrEmptyQuestion)

	_, err = p.PlanFor(context.Background(), planner.SalesCollection, planner.Request{})
	assert.ErrorIs(t, err, planner.ErrEmptyQuestion)

	_, err = p.PlanFor(context.Background(), "movies", planner.Request{Question: "q"})
	assert.ErrorIs(t, err, planner.ErrUnknownCollection)

	assert.Zero(t, mock.CallCount())
}

func TestSelectCollections_SingleCandidateSkipsCall(t *testing.T) {
	catalog, err := planner.NewCatalog(planner.Collection{Name: "missions", Schema: "status"})
	require.NoError(t, err)
	mock := llm.NewMockClient("")
	p := planner.New(mock, catalog)

	cols, err := p.SelectCollections(context.Background(), planner.Request{Question: "q"})
	require.NoError(t, err)
	require.Len(t, cols, 1)
	assert.Equal(t, "missions", cols[0].Name)
	assert.Zero(t, mock.CallCount())
}

func TestSelectCollections_Deduplicates(t *testing.T) {
	mock := llm.NewMockClient(`["defects", " missions", "defects", "sales"]`)
	p := newPlanner(mock)

	cols, err := p.SelectCollections(context.Background(), planner.Request{Question: "q"})
	require.NoError(t, err)

	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"defects", "missions"}, names)
}
