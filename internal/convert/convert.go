package convert

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/tidwall/sjson"

	"github.com/sdxdlgz/kiroproxy/internal/anthropic"
	"github.com/sdxdlgz/kiroproxy/internal/kerrors"
)

// Result is the outcome of converting an Anthropic request: the upstream
// request body and the conversation id assigned to it (callers may want the
// id for logging/tracing even though it's embedded in the body already).
type Result struct {
	Body           []byte
	ConversationID string
}

// Convert builds the upstream Kiro request envelope from an Anthropic
// Messages API request, per spec.md §4.5. profileArn comes from the
// selected account's credential.
func Convert(req anthropic.Request, profileArn string) (Result, error) {
	if req.Thinking != nil && req.Thinking.BudgetTokens > req.MaxTokens {
		return Result{}, kerrors.New(kerrors.KindInvalidRequest,
			fmt.Sprintf("thinking.budget_tokens (%d) exceeds max_tokens (%d)", req.Thinking.BudgetTokens, req.MaxTokens))
	}

	systemPrompt, err := BuildSystemPrompt(req.System)
	if err != nil {
		return Result{}, kerrors.Wrap(kerrors.KindInvalidRequest, "parsing system prompt", err)
	}

	flattened, err := FlattenMessages(req.Messages)
	if err != nil {
		return Result{}, kerrors.Wrap(kerrors.KindInvalidRequest, "flattening messages", err)
	}

	tools := ToUpstreamTools(FilterTools(req.Tools))
	conversationID := uuid.NewString()
	upstreamModel := MapModel(req.Model)

	body := []byte(`{}`)
	setters := []struct {
		path  string
		value any
	}{
		{"conversationState.chatTriggerType", "MANUAL"},
		{"conversationState.conversationId", conversationID},
		{"conversationState.currentMessage", flattened.CurrentMessage},
		{"conversationState.history", flattened.History},
		{"conversationState.systemPrompt", systemPrompt},
		{"modelId", upstreamModel},
		{"profileArn", profileArn},
	}
	if len(tools) > 0 {
		setters = append(setters, struct {
			path  string
			value any
		}{"conversationState.tools", tools})
	}
	if req.Thinking != nil {
		setters = append(setters, struct {
			path  string
			value any
		}{"conversationState.thinking", map[string]any{
			"type":         req.Thinking.Type,
			"budgetTokens": req.Thinking.BudgetTokens,
		}})
	}

	for _, s := range setters {
		body, err = sjson.SetBytes(body, s.path, s.value)
		if err != nil {
			return Result{}, kerrors.Wrap(kerrors.KindInvalidRequest, fmt.Sprintf("building upstream envelope at %q", s.path), err)
		}
	}

	return Result{Body: body, ConversationID: conversationID}, nil
}
