package assembler

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sdxdlgz/kiroproxy/internal/anthropic"
	"github.com/sdxdlgz/kiroproxy/internal/kerrors"
)

type blockKind int

const (
	blockNone blockKind = iota
	blockText
	blockThinking
	blockToolUse
)

// Assembler is the per-request streaming state machine of spec.md §4.6: it
// consumes UpstreamEvents one at a time and returns the (possibly empty)
// list of SSE events each one produces. It never blocks and holds no
// concurrency of its own — step(event) is a pure function of accumulated
// state, per spec.md §9's design note.
type Assembler struct {
	messageID string
	model     string

	nextIndex     int
	openKind      blockKind
	openIndex     int
	openToolUseID string
	lastClosedKind blockKind

	toolInputs map[string]*strings.Builder
	seenToolUses map[string]bool

	textMode string // "text" or "thinking" routing for assistantResponseEvent content
	pending  string // unflushed raw text awaiting tag-boundary resolution

	sawToolUse       bool
	maxTokensReached bool
	contextUsagePct  float64
	hasContextUsage  bool

	usage anthropic.Usage
}

// New constructs an Assembler for one streamed response.
func New(messageID, model string) *Assembler {
	return &Assembler{
		messageID:    messageID,
		model:        model,
		textMode:     "text",
		toolInputs:   make(map[string]*strings.Builder),
		seenToolUses: make(map[string]bool),
	}
}

// Start returns the message_start event that must precede everything else.
func (a *Assembler) Start() anthropic.SSEEvent {
	return anthropic.SSEEvent{
		Type: "message_start",
		Data: anthropic.MessageStart{
			Type: "message_start",
			Message: anthropic.StreamMessage{
				ID:      a.messageID,
				Type:    "message",
				Role:    "assistant",
				Model:   a.model,
				Content: []anthropic.Block{},
			},
		},
	}
}

// Step processes one upstream event and returns the SSE events it produces.
// A non-nil *kerrors.AppError means the upstream sent a terminal exception
// frame; the caller owns emitting the terminal "error" SSE event for it and
// must stop reading further events.
func (a *Assembler) Step(ev UpstreamEvent) ([]anthropic.SSEEvent, *kerrors.AppError) {
	switch ev.Kind {
	case EventException:
		appErr := kerrors.New(kerrors.KindForExceptionType(ev.ExceptionType), ev.ExceptionMessage)
		return nil, appErr
	case EventMessageMetadata:
		if ev.HasContextUsagePercentage {
			a.contextUsagePct = ev.ContextUsagePercentage
			a.hasContextUsage = true
		}
		if ev.MaxTokensReached {
			a.maxTokensReached = true
		}
		return nil, nil
	case EventAssistantResponse:
		return a.consumeText(ev.Content), nil
	case EventToolUse:
		return a.consumeToolUse(ev), nil
	default:
		return nil, nil
	}
}

// FinalToolInput returns the repaired, parse-safe JSON accumulated for a
// tool use id, per the supplemented "tool-input JSON repair" feature:
// upstream toolUseEvent streams can terminate mid-object on stop=true
// without ever sending the closing braces.
func (a *Assembler) FinalToolInput(toolUseID string) json.RawMessage {
	b, ok := a.toolInputs[toolUseID]
	if !ok || b.Len() == 0 {
		return json.RawMessage("{}")
	}
	repaired := RepairJSON(b.String())
	if !json.Valid([]byte(repaired)) {
		return json.RawMessage("{}")
	}
	return json.RawMessage(repaired)
}

// ContextUsage returns the last observed contextUsagePercentage and whether
// one was ever seen, for the Token Estimator's correction (supplemented
// feature 5).
func (a *Assembler) ContextUsage() (float64, bool) {
	return a.contextUsagePct, a.hasContextUsage
}

// SetUsage records the cumulative usage to report in message_delta.
func (a *Assembler) SetUsage(u anthropic.Usage) {
	a.usage = u
}

// Finish closes any still-open block and returns the terminal
// message_delta + message_stop events plus the synthesized stop reason,
// per spec.md §4.6's stop-reason synthesis rule.
func (a *Assembler) Finish() ([]anthropic.SSEEvent, string) {
	var out []anthropic.SSEEvent
	if a.openKind != blockNone {
		out = append(out, a.closeOpen()...)
	}

	stopReason := anthropic.StopReasonEndTurn
	switch {
	case a.lastClosedKind == blockToolUse:
		stopReason = anthropic.StopReasonToolUse
	case a.maxTokensReached:
		stopReason = anthropic.StopReasonMaxTokens
	}

	out = append(out,
		anthropic.SSEEvent{Type: "message_delta", Data: anthropic.MessageDelta{
			Type:  "message_delta",
			Delta: anthropic.MessageDeltaInner{StopReason: stopReason},
			Usage: a.usage,
		}},
		anthropic.SSEEvent{Type: "message_stop", Data: anthropic.MessageStop{Type: "message_stop"}},
	)
	return out, stopReason
}

func (a *Assembler) consumeText(chunk string) []anthropic.SSEEvent {
	a.pending += chunk
	var out []anthropic.SSEEvent

	for {
		switch a.textMode {
		case "thinking":
			idx := strings.Index(a.pending, closeThinkingTag)
			if idx < 0 {
				holdback := longestTagPrefixSuffix(a.pending, closeThinkingTag)
				flush := a.pending[:len(a.pending)-holdback]
				a.pending = a.pending[len(a.pending)-holdback:]
				if flush != "" {
					out = append(out, a.ensureBlock(blockThinking)...)
					out = append(out, a.delta(blockThinking, flush))
				}
				return out
			}
			before := a.pending[:idx]
			if before != "" {
				out = append(out, a.ensureBlock(blockThinking)...)
				out = append(out, a.delta(blockThinking, before))
			}
			a.textMode = "text"
			a.pending = a.pending[idx+len(closeThinkingTag):]
		default:
			idx := strings.Index(a.pending, openThinkingTag)
			if idx < 0 {
				holdback := longestTagPrefixSuffix(a.pending, openThinkingTag)
				flush := a.pending[:len(a.pending)-holdback]
				a.pending = a.pending[len(a.pending)-holdback:]
				out = append(out, a.emitText(flush)...)
				return out
			}
			before := a.pending[:idx]
			out = append(out, a.emitText(before)...)
			a.textMode = "thinking"
			a.pending = a.pending[idx+len(openThinkingTag):]
		}
	}
}

// emitText routes a fully-resolved chunk of plain text, recovering any
// embedded tool-call markers (supplemented feature 1) along the way.
func (a *Assembler) emitText(s string) []anthropic.SSEEvent {
	if s == "" {
		return nil
	}
	calls := ParseEmbeddedToolCalls(s)
	if len(calls) == 0 {
		out := a.ensureBlock(blockText)
		return append(out, a.delta(blockText, s))
	}

	var out []anthropic.SSEEvent
	remaining := s
	for _, c := range calls {
		idx := strings.Index(remaining, c.MatchText)
		if idx < 0 {
			continue
		}
		before := remaining[:idx]
		if before != "" {
			out = append(out, a.ensureBlock(blockText)...)
			out = append(out, a.delta(blockText, before))
		}

		dedupKey := c.Name + "|" + c.ArgsJSON
		if !a.seenToolUses[dedupKey] {
			a.seenToolUses[dedupKey] = true
			a.sawToolUse = true
			out = append(out, a.closeOpen()...)
			idx2 := a.nextIndex
			a.nextIndex++
			a.openIndex = idx2
			a.openKind = blockToolUse
			syntheticID := fmt.Sprintf("embedded-%s-%d", c.Name, idx2)
			out = append(out, contentBlockStart(idx2, anthropic.Block{Type: "tool_use", ID: syntheticID, Name: c.Name, Input: json.RawMessage("{}")}))
			out = append(out, contentBlockDelta(idx2, anthropic.Delta{Type: "input_json_delta", PartialJSON: c.ArgsJSON}))
			out = append(out, contentBlockStop(idx2))
			a.lastClosedKind = blockToolUse
			a.openKind = blockNone
		}
		remaining = remaining[idx+len(c.MatchText):]
	}
	if remaining != "" {
		out = append(out, a.ensureBlock(blockText)...)
		out = append(out, a.delta(blockText, remaining))
	}
	return out
}

func (a *Assembler) consumeToolUse(ev UpstreamEvent) []anthropic.SSEEvent {
	var out []anthropic.SSEEvent

	isNewBlock := a.openKind != blockToolUse || a.openToolUseID != ev.ToolUseID
	if isNewBlock {
		out = append(out, a.closeOpen()...)
		idx := a.nextIndex
		a.nextIndex++
		a.openKind = blockToolUse
		a.openIndex = idx
		a.openToolUseID = ev.ToolUseID
		a.toolInputs[ev.ToolUseID] = &strings.Builder{}
		a.seenToolUses[ev.ToolUseID] = true
		a.sawToolUse = true
		out = append(out, contentBlockStart(idx, anthropic.Block{Type: "tool_use", ID: ev.ToolUseID, Name: ev.ToolName, Input: json.RawMessage("{}")}))
	}

	if ev.ToolInputChunk != "" {
		if b, ok := a.toolInputs[ev.ToolUseID]; ok {
			b.WriteString(ev.ToolInputChunk)
		}
		out = append(out, contentBlockDelta(a.openIndex, anthropic.Delta{Type: "input_json_delta", PartialJSON: ev.ToolInputChunk}))
	}

	if ev.ToolStop {
		// Close any brackets/strings a truncated stream left open, so the
		// streamed input_json_delta chunks concatenate to parseable JSON.
		if b, ok := a.toolInputs[ev.ToolUseID]; ok && b.Len() > 0 {
			if repaired := RepairJSON(b.String()); len(repaired) > b.Len() {
				suffix := repaired[b.Len():]
				b.WriteString(suffix)
				out = append(out, contentBlockDelta(a.openIndex, anthropic.Delta{Type: "input_json_delta", PartialJSON: suffix}))
			}
		}
		out = append(out, contentBlockStop(a.openIndex))
		a.lastClosedKind = blockToolUse
		a.openKind = blockNone
		a.openToolUseID = ""
	}
	return out
}

// ensureBlock opens a content block of kind if one of that kind isn't
// already open, closing whatever was open first — only one block may be
// open at a time, per spec.md §4.6's ordering guarantee.
func (a *Assembler) ensureBlock(kind blockKind) []anthropic.SSEEvent {
	if a.openKind == kind {
		return nil
	}
	out := a.closeOpen()
	idx := a.nextIndex
	a.nextIndex++
	a.openIndex = idx
	a.openKind = kind

	blockType := "text"
	if kind == blockThinking {
		blockType = "thinking"
	}
	out = append(out, contentBlockStart(idx, anthropic.Block{Type: blockType}))
	return out
}

func (a *Assembler) closeOpen() []anthropic.SSEEvent {
	if a.openKind == blockNone {
		return nil
	}
	ev := contentBlockStop(a.openIndex)
	a.lastClosedKind = a.openKind
	a.openKind = blockNone
	return []anthropic.SSEEvent{ev}
}

func (a *Assembler) delta(kind blockKind, text string) anthropic.SSEEvent {
	switch kind {
	case blockThinking:
		return contentBlockDelta(a.openIndex, anthropic.Delta{Type: "thinking_delta", Thinking: text})
	default:
		return contentBlockDelta(a.openIndex, anthropic.Delta{Type: "text_delta", Text: text})
	}
}

func contentBlockStart(index int, block anthropic.Block) anthropic.SSEEvent {
	return anthropic.SSEEvent{Type: "content_block_start", Data: anthropic.ContentBlockStart{
		Type: "content_block_start", Index: index, ContentBlock: block,
	}}
}

func contentBlockDelta(index int, delta anthropic.Delta) anthropic.SSEEvent {
	return anthropic.SSEEvent{Type: "content_block_delta", Data: anthropic.ContentBlockDelta{
		Type: "content_block_delta", Index: index, Delta: delta,
	}}
}

func contentBlockStop(index int) anthropic.SSEEvent {
	return anthropic.SSEEvent{Type: "content_block_stop", Data: anthropic.ContentBlockStop{
		Type: "content_block_stop", Index: index,
	}}
}
