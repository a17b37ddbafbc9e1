package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/getsentry/sentry-go"

	"github.com/randalmurphal/insightgraph/pkg/agent"
	"github.com/randalmurphal/insightgraph/pkg/flowgraph"
	fgerrors "github.com/randalmurphal/insightgraph/pkg/flowgraph/errors"
	"github.com/randalmurphal/insightgraph/pkg/flowgraph/query"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// classify maps a turn or inspection error to a status code and the text
// shown to the user.
func classify(err error) (int, string) {
	var (
		sanErr   *fgerrors.SanitizationError
		planErr  *fgerrors.PlanningError
		storeErr *fgerrors.StoreError
		provErr  *fgerrors.ProviderError
		httpErr  *fgerrors.HTTPError
	)
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, agent.ErrEmptyInput):
		return http.StatusBadRequest, "query must not be empty"
	case errors.Is(err, query.ErrThreadNotFound), errors.Is(err, flowgraph.ErrNoCheckpoint):
		return http.StatusNotFound, "thread not found"
	case errors.Is(err, query.ErrQueryNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, flowgraph.ErrNothingToRecover):
		return http.StatusConflict, "the thread has no interrupted turn to recover"
	case errors.Is(err, flowgraph.ErrRecursionLimit):
		return http.StatusLoopDetected, fgerrors.MsgRecursionLimit
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, fgerrors.MsgTimeout
	case errors.As(err, &sanErr), errors.As(err, &planErr):
		return http.StatusUnprocessableEntity, fgerrors.UserMessage(err)
	case errors.As(err, &storeErr):
		return http.StatusServiceUnavailable, fgerrors.UserMessage(err)
	case errors.As(err, &provErr), errors.As(err, &httpErr):
		return http.StatusBadGateway, fgerrors.UserMessage(err)
	default:
		return http.StatusInternalServerError, fgerrors.UserMessage(err)
	}
}

// fail writes the error response. Server-side failures are logged at
// error level and reported to Sentry when a hub is attached.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, msg := classify(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", slog.Int("status", status), slog.String("error", err.Error()))
		if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
			hub.CaptureException(err)
		}
	} else {
		logger.Info("request rejected", slog.Int("status", status), slog.String("error", err.Error()))
	}
	writeError(w, status, msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("encode response", slog.String("error", err.Error()))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
