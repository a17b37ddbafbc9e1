package sales

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/randalmurphal/insightgraph/pkg/flowgraph/llm"
	"github.com/randalmurphal/insightgraph/pkg/flowgraph/template"
)

// ErrUnreadable is returned when no valid sale could be read from the input.
var ErrUnreadable = errors.New("could not read a sale from the input")

var extractPrompt = template.MustParse("extract-sale", `You extract sales data from a receipt or bill image, or from the user's description of a sale.
Return only a JSON object with these fields:
- saleDate (string, ISO-8601): date and time of the sale.
- items (array): each with name (string), tags (array of strings such as "office" or "school"), price (number, USD for one unit) and quantity (integer).
- storeLocation (string): where the sale happened, for example "Denver".
- customer (object): gender ("M" or "F"), age (integer), email (string), satisfaction (integer 1 to 5).
- couponUsed (boolean).
- purchaseMethod (string): "Online", "In store" or "Phone".

Use null for a field the input does not show. Do not invent items.
Today's date is ${today}.`)

// Extractor reads a Sale from receipt images or text with a vision-capable
// model.
type Extractor struct {
	client llm.Client
	clock  clockwork.Clock
	logger *slog.Logger
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithClock sets the clock used for "today".
func WithClock(c clockwork.Clock) ExtractorOption {
	return func(e *Extractor) { e.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ExtractorOption {
	return func(e *Extractor) { e.logger = l }
}

// NewExtractor creates an Extractor.
func NewExtractor(client llm.Client, opts ...ExtractorOption) *Extractor {
	e := &Extractor{client: client}
	for _, opt := range opts {
		opt(e)
	}
	if e.clock == nil {
		e.clock = clockwork.NewRealClock()
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	return e
}

// Extract reads a sale from text and images. Output the model could not
// structure, a filtered completion, or a sale that fails Validate is
// reported as ErrUnreadable. Provider failures are returned as is.
func (e *Extractor) Extract(ctx context.Context, text string, images []llm.Image) (*Sale, error) {
	system, err := extractPrompt.Execute(map[string]any{
		"today": e.clock.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}
	sale, err := llm.CompleteStructured[Sale](ctx, e.client, llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     []llm.Message{llm.UserMessage(text, images...)},
	})
	if errors.Is(err, llm.ErrMalformedOutput) || errors.Is(err, llm.ErrContentFiltered) {
		e.logger.Info("sale extraction unusable", slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if err != nil {
		return nil, err
	}
	if err := sale.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return &sale, nil
}
