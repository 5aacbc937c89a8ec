// Package openai implements ports.LLMServicePort against the OpenAI chat
// completions API via sashabaranov/go-openai.
//
// Grounded on the teacher's OpenAICompletionExecutor
// (internal/application/executor/node_executors.go): client construction
// per call from a resolved API key, a single-message chat completion
// request, and latency/usage extraction from the response. Generalized from
// a single hardcoded user message to the port's full message array, and
// from the teacher's per-node default-API-key fallback to api-key
// resolution entirely by the caller (the scheduler resolves apiKeyID
// through services.APIKeyService before calling Complete).
package openai

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	openaisdk "github.com/sashabaranov/go-openai"

	domainerrors "github.com/dipeo/engine/internal/domain/errors"
	"github.com/dipeo/engine/internal/ports"
)

// APIKeyResolver resolves an api_key_id reference (as stored on a person's
// LLMConfig) to the literal credential string the SDK client needs.
type APIKeyResolver interface {
	Resolve(ctx context.Context, apiKeyID string) (string, error)
}

// Adapter implements ports.LLMServicePort.
type Adapter struct {
	keys   APIKeyResolver
	logger zerolog.Logger
}

// New constructs an Adapter that resolves api_key_id references through keys.
func New(keys APIKeyResolver, logger zerolog.Logger) *Adapter {
	return &Adapter{keys: keys, logger: logger}
}

// Complete sends messages as a chat completion request against model, using
// the credential apiKeyID resolves to. options may carry "temperature"
// (float64) and "max_tokens" (int); both are optional.
func (a *Adapter) Complete(ctx context.Context, messages []ports.LLMMessage, model, apiKeyID string, options map[string]any) (ports.LLMCompletion, error) {
	key, err := a.keys.Resolve(ctx, apiKeyID)
	if err != nil {
		return ports.LLMCompletion{}, domainerrors.NewConfigurationError("openai-adapter", "resolving api_key_id "+apiKeyID+": "+err.Error())
	}

	client := openaisdk.NewClient(key)

	req := openaisdk.ChatCompletionRequest{
		Model:    model,
		Messages: make([]openaisdk.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openaisdk.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	if temp, ok := options["temperature"].(float64); ok {
		req.Temperature = float32(temp)
	}
	if maxTokens, ok := options["max_tokens"].(int); ok {
		req.MaxCompletionTokens = maxTokens
	}

	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		a.logger.Warn().Err(err).Str("model", model).Msg("openai completion request failed")
		return ports.LLMCompletion{}, domainerrors.NewTransientError("", "openai completion request failed", err)
	}
	if len(resp.Choices) == 0 {
		return ports.LLMCompletion{}, domainerrors.NewHandlerError("", "openai", 1, "openai returned no choices", nil, false)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	return ports.LLMCompletion{
		Text: content,
		TokenUsage: ports.TokenUsage{
			Input:  resp.Usage.PromptTokens,
			Output: resp.Usage.CompletionTokens,
		},
	}, nil
}
