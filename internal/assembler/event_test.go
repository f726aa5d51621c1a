package assembler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sdxdlgz/kiroproxy/internal/eventstream"
)

func eventTypeHeader(name string) eventstream.Headers {
	return eventstream.Headers{{Name: ":event-type", Value: eventstream.HeaderValue{Type: 7, Str: name}}}
}

func exceptionTypeHeader(name string) eventstream.Headers {
	return eventstream.Headers{{Name: ":exception-type", Value: eventstream.HeaderValue{Type: 7, Str: name}}}
}

func frameWithHeaders(headers eventstream.Headers, payload string) *eventstream.Frame {
	return &eventstream.Frame{Headers: headers, Payload: []byte(payload)}
}

func TestParseEvent_AssistantResponse(t *testing.T) {
	ev := ParseEvent(frameWithHeaders(eventTypeHeader("assistantResponseEvent"), `{"content":"hello"}`))
	assert.Equal(t, EventAssistantResponse, ev.Kind)
	assert.Equal(t, "hello", ev.Content)
}

func TestParseEvent_ToolUse(t *testing.T) {
	ev := ParseEvent(frameWithHeaders(eventTypeHeader("toolUseEvent"), `{"toolUseId":"t1","name":"calc","input":"{\"a\":1","stop":false}`))
	assert.Equal(t, EventToolUse, ev.Kind)
	assert.Equal(t, "t1", ev.ToolUseID)
	assert.Equal(t, "calc", ev.ToolName)
	assert.Equal(t, `{"a":1`, ev.ToolInputChunk)
	assert.False(t, ev.ToolStop)
}

func TestParseEvent_MessageMetadata_WithContextUsage(t *testing.T) {
	ev := ParseEvent(frameWithHeaders(eventTypeHeader("messageMetadataEvent"), `{"contextUsagePercentage":42.5}`))
	assert.Equal(t, EventMessageMetadata, ev.Kind)
	assert.True(t, ev.HasContextUsagePercentage)
	assert.Equal(t, 42.5, ev.ContextUsagePercentage)
	assert.False(t, ev.MaxTokensReached)
}

func TestParseEvent_MessageMetadata_NoContextUsage(t *testing.T) {
	ev := ParseEvent(frameWithHeaders(eventTypeHeader("messageMetadataEvent"), `{"stopReason":"max_tokens"}`))
	assert.False(t, ev.HasContextUsagePercentage)
	assert.True(t, ev.MaxTokensReached)
}

func TestParseEvent_Exception(t *testing.T) {
	ev := ParseEvent(frameWithHeaders(exceptionTypeHeader("ThrottlingException"), `{"message":"too fast"}`))
	assert.Equal(t, EventException, ev.Kind)
	assert.Equal(t, "ThrottlingException", ev.ExceptionType)
	assert.Equal(t, "too fast", ev.ExceptionMessage)
}

func TestParseEvent_Unknown(t *testing.T) {
	ev := ParseEvent(frameWithHeaders(eventTypeHeader("somethingNew"), `{"content":"ignored"}`))
	assert.Equal(t, EventUnknown, ev.Kind)
}
