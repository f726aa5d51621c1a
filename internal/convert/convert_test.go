package convert

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/sdxdlgz/kiroproxy/internal/anthropic"
	"github.com/sdxdlgz/kiroproxy/internal/kerrors"
)

// Scenario 6 from spec.md §8: model mapping.
func TestMapModel(t *testing.T) {
	assert.Equal(t, "claude-opus-4.5", MapModel("claude-3-5-opus-20250101"))
	assert.Equal(t, "claude-haiku-4.5", MapModel("claude-haiku-test"))
	assert.Equal(t, "claude-sonnet-4.5", MapModel("claude-3-7-sonnet"))
	assert.Equal(t, "claude-sonnet-4.5", MapModel("some-other-model"))
}

// Scenario 7: unsupported tool filtering.
func TestFilterTools(t *testing.T) {
	tools := []anthropic.Tool{
		{Name: "web_search"},
		{Name: "calc"},
		{Name: "WebSearch"},
	}
	filtered := FilterTools(tools)
	require.Len(t, filtered, 1)
	assert.Equal(t, "calc", filtered[0].Name)
}

func TestBuildSystemPrompt_String(t *testing.T) {
	prompt, err := BuildSystemPrompt(json.RawMessage(`"be concise"`))
	require.NoError(t, err)
	assert.Equal(t, "be concise", prompt)
}

func TestBuildSystemPrompt_BlockArray(t *testing.T) {
	prompt, err := BuildSystemPrompt(json.RawMessage(`[{"type":"text","text":"a"},{"type":"text","text":"b"}]`))
	require.NoError(t, err)
	assert.Equal(t, "a\n\nb", prompt)
}

func TestBuildSystemPrompt_Empty(t *testing.T) {
	prompt, err := BuildSystemPrompt(nil)
	require.NoError(t, err)
	assert.Equal(t, "", prompt)
}

func TestFlattenMessages_LastUserIsCurrent(t *testing.T) {
	messages := []anthropic.Message{
		{Role: "user", RawContent: []byte(`"first"`)},
		{Role: "assistant", RawContent: []byte(`"reply"`)},
		{Role: "user", RawContent: []byte(`"second"`)},
	}
	flattened, err := FlattenMessages(messages)
	require.NoError(t, err)
	require.NotNil(t, flattened.CurrentMessage.UserInputMessage)
	assert.Equal(t, "second", flattened.CurrentMessage.UserInputMessage.Content)
	require.Len(t, flattened.History, 2)
	assert.Equal(t, "first", flattened.History[0].UserInputMessage.Content)
	assert.Equal(t, "reply", flattened.History[1].AssistantResponseMessage.Content)
}

func TestFlattenMessages_ToolResultBecomesUserToolResult(t *testing.T) {
	messages := []anthropic.Message{
		{Role: "user", RawContent: []byte(`"do the thing"`)},
		{Role: "assistant", RawContent: []byte(`[{"type":"tool_use","id":"t1","name":"calc","input":{}}]`)},
		{Role: "user", RawContent: []byte(`[{"type":"tool_result","tool_use_id":"t1","content":"42"}]`)},
	}
	flattened, err := FlattenMessages(messages)
	require.NoError(t, err)
	require.NotNil(t, flattened.CurrentMessage.UserInputMessage)
	require.Len(t, flattened.CurrentMessage.UserInputMessage.ToolResults, 1)
	assert.Equal(t, "t1", flattened.CurrentMessage.UserInputMessage.ToolResults[0].ToolUseID)
	assert.Equal(t, "42", flattened.CurrentMessage.UserInputMessage.ToolResults[0].Content)
}

func TestFlattenMessages_NoUserMessageErrors(t *testing.T) {
	_, err := FlattenMessages([]anthropic.Message{{Role: "assistant", RawContent: []byte(`"hi"`)}})
	assert.Error(t, err)
}

func TestConvert_BuildsEnvelope(t *testing.T) {
	req := anthropic.Request{
		Model:     "claude-3-5-opus",
		MaxTokens: 1024,
		Messages: []anthropic.Message{
			{Role: "user", RawContent: []byte(`"hello"`)},
		},
		System: json.RawMessage(`"be terse"`),
		Tools: []anthropic.Tool{
			{Name: "web_search"},
			{Name: "calc", InputSchema: json.RawMessage(`{"type":"object"}`)},
		},
	}

	result, err := Convert(req, "arn:aws:profile/1")
	require.NoError(t, err)

	parsed := gjson.ParseBytes(result.Body)
	assert.Equal(t, "MANUAL", parsed.Get("conversationState.chatTriggerType").String())
	assert.Equal(t, result.ConversationID, parsed.Get("conversationState.conversationId").String())
	assert.Equal(t, "hello", parsed.Get("conversationState.currentMessage.userInputMessage.content").String())
	assert.Equal(t, "be terse", parsed.Get("conversationState.systemPrompt").String())
	assert.Equal(t, "claude-opus-4.5", parsed.Get("modelId").String())
	assert.Equal(t, "arn:aws:profile/1", parsed.Get("profileArn").String())

	toolsArr := parsed.Get("conversationState.tools").Array()
	require.Len(t, toolsArr, 1)
	assert.Equal(t, "calc", toolsArr[0].Get("name").String())
}

func TestConvert_ThinkingBudgetExceedsMaxTokensIsInvalid(t *testing.T) {
	req := anthropic.Request{
		Model:     "claude-sonnet",
		MaxTokens: 100,
		Messages:  []anthropic.Message{{Role: "user", RawContent: []byte(`"hi"`)}},
		Thinking:  &anthropic.Thinking{Type: "enabled", BudgetTokens: 200},
	}
	_, err := Convert(req, "arn")
	require.Error(t, err)
	var appErr *kerrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, kerrors.KindInvalidRequest, appErr.Kind)
}
