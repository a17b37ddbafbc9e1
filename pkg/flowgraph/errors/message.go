package errors

import (
	"context"
	"errors"
)

// User-facing failure texts.
const (
	MsgInvalidQuery   = "I could not turn your question into a valid query. Please try rephrasing it."
	MsgStoreDown      = "System error: the data store is unavailable right now. Please try again later."
	MsgProviderDown   = "System error: the language model did not respond. Please try again."
	MsgUpstreamDown   = "System error: the inspection service did not respond. Please try again later."
	MsgTimeout        = "System error: the request took too long to process."
	MsgInternal       = "System error: something went wrong while processing your request."
	MsgChartFault     = "I found the data but could not generate a chart for it."
	MsgClassification = "I could not understand the question. Could you rephrase it?"
	MsgRecursionLimit = "System error: the request exceeded the processing step limit."
)

// UserMessage returns the text shown to a user for a failed turn.
// "No data" outcomes are normal answers and never reach this function.
func UserMessage(err error) string {
	var (
		sanErr   *SanitizationError
		planErr  *PlanningError
		storeErr *StoreError
		provErr  *ProviderError
		httpErr  *HTTPError
		chartErr *ChartGenerationFault
		classErr *ClassificationError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return MsgTimeout
	case errors.As(err, &sanErr), errors.As(err, &planErr):
		return MsgInvalidQuery
	case errors.As(err, &storeErr):
		return MsgStoreDown
	case errors.As(err, &provErr):
		return MsgProviderDown
	case errors.As(err, &httpErr):
		return MsgUpstreamDown
	case errors.As(err, &chartErr):
		return MsgChartFault
	case errors.As(err, &classErr):
		return MsgClassification
	default:
		return MsgInternal
	}
}
