package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/randalmurphal/insightgraph/pkg/agent"
	"github.com/randalmurphal/insightgraph/pkg/flowgraph/llm"
	"github.com/randalmurphal/insightgraph/pkg/flowgraph/query"
)

// maxBodyBytes bounds request bodies. Receipt images arrive inline.
const maxBodyBytes = 16 << 20

// QueryRequest is the body of POST /query and of each stream message.
type QueryRequest struct {
	Query  string    `json:"query"`
	Config RunConfig `json:"config"`

	// Images are data URLs ("data:image/png;base64,...").
	Images []string `json:"images,omitempty"`
}

// RunConfig selects the thread and bounds the turn.
type RunConfig struct {
	ThreadID       string `json:"thread_id"`
	RecursionLimit int    `json:"recursion_limit"`
}

// QueryResponse is the body of a successful POST /query. Chart holds the
// serialized figure as a JSON string, null when the turn produced none.
type QueryResponse struct {
	Answer        string  `json:"answer"`
	Chart         *string `json:"chart"`
	AwaitingInput bool    `json:"awaiting_input,omitempty"`
}

// errBadRequest marks client input errors.
var errBadRequest = errors.New("bad request")

// input validates a request and resolves its thread.
func (q QueryRequest) input() (string, agent.Input, error) {
	thread := strings.TrimSpace(q.Config.ThreadID)
	if thread == "" {
		thread = DefaultThreadID
	}
	if q.Config.RecursionLimit < 0 {
		return "", agent.Input{}, fmt.Errorf("%w: recursion_limit must not be negative", errBadRequest)
	}
	in := agent.Input{Question: q.Query, RecursionLimit: q.Config.RecursionLimit}
	for i, raw := range q.Images {
		img, err := llm.ParseDataURL(raw)
		if err != nil {
			return "", agent.Input{}, fmt.Errorf("%w: image %d: %w", errBadRequest, i, err)
		}
		in.Images = append(in.Images, img)
	}
	return thread, in, nil
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	thread, in, err := req.input()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := s.turnContext(r.Context())
	defer cancel()

	logger := s.logger.With(
		slog.String("thread_id", thread),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
	logger.Info("processing query", slog.String("query", in.Question), slog.Int("images", len(in.Images)))

	reply, err := s.assistant.Ask(ctx, thread, in)
	if err != nil {
		s.fail(w, r, logger, err)
		return
	}
	logger.Info("query processed",
		slog.String("question_type", string(reply.QuestionType)),
		slog.Bool("chart", len(reply.Chart) > 0),
		slog.Bool("awaiting_input", reply.AwaitingInput),
	)
	writeJSON(w, http.StatusOK, toResponse(reply))
}

func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	snap, err := s.assistant.Inspect(r.Context(), chi.URLParam(r, "threadID"))
	if err != nil {
		s.fail(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleThreadQuery(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "query")
	var args any
	if name == query.QueryMessages {
		if v := r.URL.Query().Get("limit"); v != "" {
			limit, err := strconv.Atoi(v)
			if err != nil || limit < 0 {
				writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
				return
			}
			args = limit
		}
	}
	res, err := s.assistant.Query(r.Context(), chi.URLParam(r, "threadID"), name, args)
	if err != nil {
		s.fail(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": name, "result": res})
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	if err := s.assistant.Purge(r.Context(), chi.URLParam(r, "threadID")); err != nil {
		s.fail(w, r, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.turnContext(r.Context())
	defer cancel()

	reply, err := s.assistant.Recover(ctx, chi.URLParam(r, "threadID"))
	if err != nil {
		s.fail(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(reply))
}

func toResponse(r *agent.Reply) QueryResponse {
	return QueryResponse{Answer: r.Answer, Chart: chartText(r.Chart), AwaitingInput: r.AwaitingInput}
}

// chartText returns the figure's JSON text, or nil for no chart.
func chartText(fig json.RawMessage) *string {
	if len(fig) == 0 {
		return nil
	}
	s := string(fig)
	return &s
}
