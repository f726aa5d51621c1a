// Package assembler turns the lazy sequence of decoded upstream events into
// an Anthropic SSE event sequence (Streaming Assembler, spec.md §4.6) or a
// single aggregated Message (Non-stream Aggregator, spec.md §4.7).
package assembler

import (
	"github.com/tidwall/gjson"

	"github.com/sdxdlgz/kiroproxy/internal/eventstream"
)

// EventKind discriminates a parsed UpstreamEvent by its ":event-type"
// header, per spec.md §3.
type EventKind string

const (
	EventAssistantResponse EventKind = "assistantResponseEvent"
	EventToolUse           EventKind = "toolUseEvent"
	EventMessageMetadata   EventKind = "messageMetadataEvent"
	EventException         EventKind = "exception"
	EventUnknown           EventKind = "unknown"
)

// UpstreamEvent is the logical, payload-parsed form of a Frame.
type UpstreamEvent struct {
	Kind EventKind

	// assistantResponseEvent
	Content string

	// toolUseEvent
	ToolUseID      string
	ToolName       string
	ToolInputChunk string
	ToolStop       bool

	// messageMetadataEvent
	HasContextUsagePercentage bool
	ContextUsagePercentage    float64
	MaxTokensReached          bool

	// exception frames
	ExceptionType    string
	ExceptionMessage string
}

// ParseEvent extracts an UpstreamEvent from a decoded Frame's headers and
// JSON payload, per spec.md §3's UpstreamEvent discrimination by
// ":event-type" (or ":exception-type" for error frames).
func ParseEvent(frame *eventstream.Frame) UpstreamEvent {
	if excType, ok := frame.Headers.ExceptionType(); ok {
		return UpstreamEvent{
			Kind:             EventException,
			ExceptionType:    excType,
			ExceptionMessage: gjson.GetBytes(frame.Payload, "message").String(),
		}
	}

	switch frame.Headers.EventType() {
	case string(EventAssistantResponse):
		return UpstreamEvent{
			Kind:    EventAssistantResponse,
			Content: gjson.GetBytes(frame.Payload, "content").String(),
		}
	case string(EventToolUse):
		return UpstreamEvent{
			Kind:           EventToolUse,
			ToolUseID:      gjson.GetBytes(frame.Payload, "toolUseId").String(),
			ToolName:       gjson.GetBytes(frame.Payload, "name").String(),
			ToolInputChunk: gjson.GetBytes(frame.Payload, "input").String(),
			ToolStop:       gjson.GetBytes(frame.Payload, "stop").Bool(),
		}
	case string(EventMessageMetadata):
		pct := gjson.GetBytes(frame.Payload, "contextUsagePercentage")
		return UpstreamEvent{
			Kind:                      EventMessageMetadata,
			HasContextUsagePercentage: pct.Exists(),
			ContextUsagePercentage:    pct.Float(),
			MaxTokensReached:          gjson.GetBytes(frame.Payload, "stopReason").String() == "max_tokens",
		}
	default:
		return UpstreamEvent{Kind: EventUnknown, Content: gjson.GetBytes(frame.Payload, "content").String()}
	}
}
