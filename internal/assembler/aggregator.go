package assembler

import (
	"encoding/json"
	"strings"

	"github.com/sdxdlgz/kiroproxy/internal/anthropic"
	"github.com/sdxdlgz/kiroproxy/internal/kerrors"
)

// Aggregator runs the same event-consuming logic as Assembler but collects
// the result into a single Anthropic Message instead of an SSE stream, per
// spec.md §4.7. It drives an Assembler and interprets the SSE events it
// would have emitted, so the two paths never drift apart.
type Aggregator struct {
	asm *Assembler

	blocks map[int]*anthropic.Block
	order  []int

	textAccum     map[int]*strings.Builder
	thinkingAccum map[int]*strings.Builder
	toolJSONAccum map[int]*strings.Builder
}

// NewAggregator constructs an Aggregator for one non-streamed response.
func NewAggregator(messageID, model string) *Aggregator {
	return &Aggregator{
		asm:           New(messageID, model),
		blocks:        make(map[int]*anthropic.Block),
		textAccum:     make(map[int]*strings.Builder),
		thinkingAccum: make(map[int]*strings.Builder),
		toolJSONAccum: make(map[int]*strings.Builder),
	}
}

// Consume processes one upstream event. A non-nil *kerrors.AppError means
// the upstream sent a terminal exception frame.
func (g *Aggregator) Consume(ev UpstreamEvent) *kerrors.AppError {
	events, appErr := g.asm.Step(ev)
	g.apply(events)
	return appErr
}

// SetUsage records cumulative usage to report in the final Response.
func (g *Aggregator) SetUsage(u anthropic.Usage) {
	g.asm.SetUsage(u)
}

// Finish closes any open block and returns the complete Response, per
// spec.md §4.7's `{id, type:"message", role:"assistant", model,
// content:[...blocks], stop_reason, usage}` shape.
func (g *Aggregator) Finish() anthropic.Response {
	events, stopReason := g.asm.Finish()
	g.apply(events)

	blocks := make([]anthropic.Block, 0, len(g.order))
	for _, idx := range g.order {
		blocks = append(blocks, *g.blocks[idx])
	}

	return anthropic.Response{
		ID:         g.asm.messageID,
		Type:       "message",
		Role:       "assistant",
		Model:      g.asm.model,
		Content:    blocks,
		StopReason: stopReason,
		Usage:      g.asm.usage,
	}
}

func (g *Aggregator) apply(events []anthropic.SSEEvent) {
	for _, e := range events {
		switch d := e.Data.(type) {
		case anthropic.ContentBlockStart:
			block := d.ContentBlock
			g.blocks[d.Index] = &block
			g.order = append(g.order, d.Index)
			switch block.Type {
			case "text":
				g.textAccum[d.Index] = &strings.Builder{}
			case "thinking":
				g.thinkingAccum[d.Index] = &strings.Builder{}
			case "tool_use":
				g.toolJSONAccum[d.Index] = &strings.Builder{}
			}
		case anthropic.ContentBlockDelta:
			switch d.Delta.Type {
			case "text_delta":
				if b, ok := g.textAccum[d.Index]; ok {
					b.WriteString(d.Delta.Text)
				}
			case "thinking_delta":
				if b, ok := g.thinkingAccum[d.Index]; ok {
					b.WriteString(d.Delta.Thinking)
				}
			case "input_json_delta":
				if b, ok := g.toolJSONAccum[d.Index]; ok {
					b.WriteString(d.Delta.PartialJSON)
				}
			}
		case anthropic.ContentBlockStop:
			block, ok := g.blocks[d.Index]
			if !ok {
				continue
			}
			switch block.Type {
			case "text":
				block.Text = g.textAccum[d.Index].String()
			case "thinking":
				block.Thinking = g.thinkingAccum[d.Index].String()
			case "tool_use":
				raw := g.toolJSONAccum[d.Index].String()
				repaired := RepairJSON(raw)
				if !json.Valid([]byte(repaired)) {
					repaired = "{}"
				}
				block.Input = json.RawMessage(repaired)
			}
		}
	}
}
