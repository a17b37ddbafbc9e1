package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/randalmurphal/insightgraph/pkg/agent"
)

// Stream event types.
const (
	EventDelta = "delta"
	EventDone  = "done"
	EventError = "error"
)

// StreamEvent is one server message on /query/stream. A turn yields one
// delta per executed node, then done or error.
type StreamEvent struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id"`

	Node          string  `json:"node,omitempty"`
	Step          int     `json:"step,omitempty"`
	QuestionType  string  `json:"question_type,omitempty"`
	Answer        string  `json:"answer,omitempty"`
	Chart         *string `json:"chart,omitempty"`
	AwaitingInput bool    `json:"awaiting_input,omitempty"`

	Status int    `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// handleStream upgrades to a websocket and runs one turn per QueryRequest
// the client sends, until the client closes the connection.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns(),
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", slog.String("error", err.Error()))
		return
	}
	ws.SetReadLimit(maxBodyBytes)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			s.logger.Debug("close websocket", slog.String("error", closeErr.Error()))
		}
	}()

	ctx := r.Context()
	for {
		var req QueryRequest
		if err := wsjson.Read(ctx, ws, &req); err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				s.logger.Warn("websocket read failed", slog.String("error", err.Error()))
			}
			return
		}
		if err := s.streamTurn(ctx, ws, req); err != nil {
			s.logger.Debug("websocket write failed", slog.String("error", err.Error()))
			return
		}
	}
}

// streamTurn runs one turn. Only write failures are returned; turn errors
// are sent to the client as error events.
func (s *Server) streamTurn(ctx context.Context, ws *websocket.Conn, req QueryRequest) error {
	thread, in, err := req.input()
	if err != nil {
		return s.sendError(ctx, ws, thread, err)
	}

	turnCtx, cancel := s.turnContext(ctx)
	defer cancel()

	var last StreamEvent
	for delta, err := range s.assistant.Stream(turnCtx, thread, in) {
		if err != nil {
			return s.sendError(ctx, ws, thread, err)
		}
		reply := agent.ReplyFrom(delta)
		ev := StreamEvent{
			Type:          EventDelta,
			ThreadID:      thread,
			Node:          delta.NodeID,
			Step:          delta.Step,
			QuestionType:  string(reply.QuestionType),
			AwaitingInput: reply.AwaitingInput,
		}
		if delta.Update.Answer != "" {
			ev.Answer = delta.Update.Answer
		}
		if len(delta.Update.Chart) > 0 {
			ev.Chart = chartText(delta.Update.Chart)
		}
		if err := wsjson.Write(ctx, ws, ev); err != nil {
			return err
		}
		last = StreamEvent{
			Type:          EventDone,
			ThreadID:      thread,
			QuestionType:  string(reply.QuestionType),
			Answer:        reply.Answer,
			Chart:         chartText(reply.Chart),
			AwaitingInput: reply.AwaitingInput,
		}
	}
	if last.Type == "" {
		return s.sendError(ctx, ws, thread, context.Cause(turnCtx))
	}
	return wsjson.Write(ctx, ws, last)
}

func (s *Server) sendError(ctx context.Context, ws *websocket.Conn, thread string, err error) error {
	if err == nil {
		err = errors.New("turn produced no result")
	}
	status, msg := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("stream turn failed", slog.String("thread_id", thread), slog.String("error", err.Error()))
	}
	return wsjson.Write(ctx, ws, StreamEvent{Type: EventError, ThreadID: thread, Status: status, Error: msg})
}
