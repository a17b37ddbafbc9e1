// Package llm defines the text-completion capability used by the workflow
// handlers and its provider implementations.
//
// Client has a single method, Complete. CompleteText and CompleteStructured
// build the two call shapes the handlers need on top of it:
//
//	label, err := llm.CompleteText(ctx, client, llm.CompletionRequest{
//	    SystemPrompt: routerPrompt,
//	    Messages:     history,
//	})
//
//	plan, err := llm.CompleteStructured[[]string](ctx, client, req)
//
// Providers:
//   - EinoClient wraps any eino chat model; NewGeminiClient builds one for
//     the Gemini API.
//   - AnthropicClient calls the Anthropic Messages API.
//   - MockClient returns scripted responses in tests.
//
// A provider that blocks output returns an error wrapping
// ErrContentFiltered. Other provider failures are *errors.ProviderError.
// WithRetry retries the transient ones.
package llm
