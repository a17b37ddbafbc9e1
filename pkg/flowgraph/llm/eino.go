package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/jonboulle/clockwork"
	"google.golang.org/genai"

	fgerrors "github.com/randalmurphal/insightgraph/pkg/flowgraph/errors"
)

// EinoClient adapts an eino chat model to Client.
type EinoClient struct {
	model    model.BaseChatModel
	provider string
	name     string
	clock    clockwork.Clock
}

// EinoOption configures an EinoClient.
type EinoOption func(*EinoClient)

// WithEinoClock sets the clock used to measure call duration.
func WithEinoClock(c clockwork.Clock) EinoOption {
	return func(e *EinoClient) { e.clock = c }
}

// NewEinoClient wraps m. provider names the backend in errors; name is the
// model name reported in responses.
func NewEinoClient(m model.BaseChatModel, provider, name string, opts ...EinoOption) *EinoClient {
	e := &EinoClient{model: m, provider: provider, name: name, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GeminiConfig configures NewGeminiClient.
type GeminiConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
}

// NewGeminiClient builds an EinoClient backed by the Gemini API.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*EinoClient, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	gcfg := &gemini.Config{Client: client, Model: cfg.Model}
	if cfg.Temperature > 0 {
		gcfg.Temperature = &cfg.Temperature
	}
	if cfg.MaxTokens > 0 {
		gcfg.MaxTokens = &cfg.MaxTokens
	}
	chat, err := gemini.NewChatModel(ctx, gcfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini chat model: %w", err)
	}
	return NewEinoClient(chat, "gemini", cfg.Model), nil
}

// Complete implements Client.
func (e *EinoClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := e.clock.Now()

	var opts []model.Option
	if req.Model != "" {
		opts = append(opts, model.WithModel(req.Model))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}
	if req.Temperature > 0 {
		opts = append(opts, model.WithTemperature(float32(req.Temperature)))
	}

	out, err := e.model.Generate(ctx, toSchemaMessages(req), opts...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &fgerrors.ProviderError{Provider: e.provider, Err: err}
	}
	if out == nil {
		return nil, &fgerrors.ProviderError{Provider: e.provider, Err: fmt.Errorf("empty response")}
	}

	resp := &CompletionResponse{
		Content:  out.Content,
		Model:    e.name,
		Duration: e.clock.Since(start),
	}
	if req.Model != "" {
		resp.Model = req.Model
	}
	if meta := out.ResponseMeta; meta != nil {
		resp.FinishReason = meta.FinishReason
		if meta.Usage != nil {
			resp.Usage = TokenUsage{
				InputTokens:  meta.Usage.PromptTokens,
				OutputTokens: meta.Usage.CompletionTokens,
				TotalTokens:  meta.Usage.TotalTokens,
			}
		}
	}
	if filtered(resp.FinishReason) {
		return resp, fmt.Errorf("%s: %w (%s)", e.provider, ErrContentFiltered, resp.FinishReason)
	}
	return resp, nil
}

// filtered reports whether a finish reason means the provider blocked the
// output.
func filtered(reason string) bool {
	switch strings.ToUpper(reason) {
	case "SAFETY", "PROHIBITED_CONTENT", "BLOCKLIST", "SPII", "RECITATION", "CONTENT_FILTER", "REFUSAL":
		return true
	}
	return false
}

func toSchemaMessages(req CompletionRequest) []*schema.Message {
	msgs := make([]*schema.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, schema.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		switch {
		case m.Role == RoleSystem:
			msgs = append(msgs, schema.SystemMessage(m.Content))
		case m.Role == RoleAssistant:
			msgs = append(msgs, schema.AssistantMessage(m.Content, nil))
		case len(m.Images) > 0:
			msgs = append(msgs, imageMessage(m))
		default:
			msgs = append(msgs, schema.UserMessage(m.Content))
		}
	}
	return msgs
}

func imageMessage(m Message) *schema.Message {
	parts := make([]schema.ChatMessagePart, 0, len(m.Images)+1)
	if m.Content != "" {
		parts = append(parts, schema.ChatMessagePart{Type: schema.ChatMessagePartTypeText, Text: m.Content})
	}
	for _, img := range m.Images {
		parts = append(parts, schema.ChatMessagePart{
			Type: schema.ChatMessagePartTypeImageURL,
			ImageURL: &schema.ChatMessageImageURL{
				URL:      img.DataURL(),
				MIMEType: img.MIMEType,
			},
		})
	}
	return &schema.Message{Role: schema.User, MultiContent: parts}
}
