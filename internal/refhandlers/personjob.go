package refhandlers

import (
	"context"
	"fmt"

	"github.com/dipeo/engine/internal/convmem"
	"github.com/dipeo/engine/internal/diagram"
	"github.com/dipeo/engine/internal/domain"
	domainerrors "github.com/dipeo/engine/internal/domain/errors"
	"github.com/dipeo/engine/internal/ports"
	"github.com/dipeo/engine/internal/scheduler"
	"github.com/dipeo/engine/internal/services"
)

// PersonIndexKey is where main.go registers the compiled diagram's
// Metadata.PersonIndex so this handler can resolve a person_job node's
// "person" property to its LLM config. scheduler.ExecutionContext carries
// the service registry but not the compiled diagram itself, and the
// registry's Key type is explicitly open-ended (services.Key's doc:
// "Register/Require never special-case them"), so an engine-local key
// outside the spec's eight named services is the natural extension point.
const PersonIndexKey services.Key = "REFHANDLERS_PERSON_INDEX"

// personJobHandler builds a person's message array from its system prompt,
// conversation history, and this node's templated prompt property, calls
// the registered LLMServicePort, and appends both sides of the exchange to
// conversation memory. Grounded on the teacher's OpenAICompletionExecutor
// (variable-substituted prompt, ChatCompletionMessage array, usage
// extraction), adapted from a config-map argument to the node's compiled
// Props and the ExecutionContext's ConversationMemory.
func personJobHandler(ctx context.Context, n *diagram.ExecutableNode, execCtx *scheduler.ExecutionContext, inputs map[string]any) (scheduler.Output, error) {
	personID, _ := n.Props["person"].(string)
	if personID == "" {
		return scheduler.Output{}, domainerrors.NewConfigurationError(n.ID, "person_job node has no person reference")
	}

	indexSvc, err := execCtx.Services.Require(string(PersonIndexKey))
	if err != nil {
		return scheduler.Output{}, domainerrors.NewConfigurationError(n.ID, err.Error())
	}
	personIndex, ok := indexSvc.(map[string]domain.DomainPerson)
	if !ok {
		return scheduler.Output{}, domainerrors.NewConfigurationError(n.ID, "registered person index has the wrong type")
	}
	p, ok := personIndex[personID]
	if !ok {
		return scheduler.Output{}, domainerrors.NewConfigurationError(n.ID, fmt.Sprintf("unknown person %q", personID))
	}

	svc, err := execCtx.Services.Require(string(services.LLMService))
	if err != nil {
		return scheduler.Output{}, domainerrors.NewConfigurationError(n.ID, err.Error())
	}
	llm, ok := svc.(ports.LLMServicePort)
	if !ok {
		return scheduler.Output{}, domainerrors.NewConfigurationError(n.ID, "registered LLM service has the wrong type")
	}

	promptTemplate, _ := n.Props["prompt"].(string)
	prompt := substituteVariables(promptTemplate, mergedInputs(inputs))

	messages := buildMessages(p, execCtx.ConversationMemory, personID, prompt)

	options := map[string]any{}
	if p.LLMConfig.Temperature != nil {
		options["temperature"] = *p.LLMConfig.Temperature
	}
	if p.LLMConfig.MaxTokens != nil {
		options["max_tokens"] = *p.LLMConfig.MaxTokens
	}

	completion, err := llm.Complete(ctx, messages, p.LLMConfig.Model, p.LLMConfig.APIKeyID, options)
	if err != nil {
		return scheduler.Output{}, err
	}

	if execCtx.ConversationMemory != nil {
		execCtx.ConversationMemory.Append(personID, convmem.Message{Role: "user", Content: prompt, NodeID: n.ID, Sender: n.ID})
		execCtx.ConversationMemory.Append(personID, convmem.Message{
			Role: "assistant", Content: completion.Text, NodeID: n.ID, Sender: personID,
			TokenCount: completion.TokenUsage.Output,
		})
	}

	return scheduler.Output{
		Data:       map[string]any{"response": completion.Text},
		TokenUsage: &completion.TokenUsage,
	}, nil
}

// buildMessages assembles the chat array: the person's system prompt (if
// any), their prior conversation history, then this call's prompt.
func buildMessages(p domain.DomainPerson, memory *convmem.Memory, personID, prompt string) []ports.LLMMessage {
	var messages []ports.LLMMessage
	if p.LLMConfig.SystemPrompt != "" {
		messages = append(messages, ports.LLMMessage{Role: "system", Content: p.LLMConfig.SystemPrompt})
	}
	if memory != nil {
		for _, m := range memory.GetHistory(personID) {
			messages = append(messages, ports.LLMMessage{Role: m.Role, Content: m.Content})
		}
	}
	messages = append(messages, ports.LLMMessage{Role: "user", Content: prompt})
	return messages
}
