package convert

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sdxdlgz/kiroproxy/internal/anthropic"
)

// upstreamImage is the upstream's inline-image part shape.
type upstreamImage struct {
	Format string              `json:"format"`
	Source upstreamImageSource `json:"source"`
}

type upstreamImageSource struct {
	Bytes string `json:"bytes"`
}

// upstreamToolUse is one tool invocation carried on an assistant history
// entry.
type upstreamToolUse struct {
	ToolUseID string          `json:"toolUseId"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
}

// upstreamToolResult is one tool-result entry carried on a user history
// entry, referencing the tool_use_id it answers.
type upstreamToolResult struct {
	ToolUseID string `json:"toolUseId"`
	Content   string `json:"content"`
	Status    string `json:"status"`
}

// userInputMessage is the upstream shape for a user-role turn.
type userInputMessage struct {
	Content     string               `json:"content"`
	Images      []upstreamImage      `json:"images,omitempty"`
	ToolResults []upstreamToolResult `json:"toolResults,omitempty"`
}

// assistantResponseMessage is the upstream shape for an assistant-role turn.
type assistantResponseMessage struct {
	Content  string             `json:"content"`
	ToolUses []upstreamToolUse  `json:"toolUses,omitempty"`
}

// historyEntry wraps exactly one of userInputMessage/assistantResponseMessage,
// matching the upstream's tagged-union-by-key-presence convention.
type historyEntry struct {
	UserInputMessage         *userInputMessage         `json:"userInputMessage,omitempty"`
	AssistantResponseMessage *assistantResponseMessage `json:"assistantResponseMessage,omitempty"`
}

// Flattened holds the converter's split of an Anthropic message list into
// the upstream's currentMessage + history shape.
type Flattened struct {
	CurrentMessage historyEntry
	History        []historyEntry
}

// FlattenMessages splits messages into the upstream's currentMessage
// (the last user message) and history (everything before it, in order),
// per spec.md §4.5.
func FlattenMessages(messages []anthropic.Message) (Flattened, error) {
	lastUserIdx := -1
	for i, m := range messages {
		if m.Role == "user" {
			lastUserIdx = i
		}
	}
	if lastUserIdx == -1 {
		return Flattened{}, fmt.Errorf("convert: no user message present")
	}

	entries := make([]historyEntry, len(messages))
	for i, m := range messages {
		entry, err := toHistoryEntry(m)
		if err != nil {
			return Flattened{}, err
		}
		entries[i] = entry
	}

	return Flattened{
		CurrentMessage: entries[lastUserIdx],
		History:        append([]historyEntry(nil), entries[:lastUserIdx]...),
	}, nil
}

func toHistoryEntry(m anthropic.Message) (historyEntry, error) {
	parts, err := m.Parts()
	if err != nil {
		return historyEntry{}, fmt.Errorf("convert: parsing message content: %w", err)
	}

	if m.Role == "assistant" {
		return historyEntry{AssistantResponseMessage: buildAssistantMessage(parts)}, nil
	}
	return historyEntry{UserInputMessage: buildUserMessage(parts)}, nil
}

func buildUserMessage(parts []anthropic.Part) *userInputMessage {
	var text []string
	var images []upstreamImage
	var toolResults []upstreamToolResult

	for _, p := range parts {
		switch p.Type {
		case "text":
			text = append(text, p.Text)
		case "image":
			if p.Source != nil {
				images = append(images, upstreamImage{
					Format: strings.TrimPrefix(p.Source.MediaType, "image/"),
					Source: upstreamImageSource{Bytes: p.Source.Data},
				})
			}
		case "tool_result":
			// Tool-result parts become part of a user-role turn referencing
			// the prior tool_use_id, per spec.md §4.5.
			toolResults = append(toolResults, upstreamToolResult{
				ToolUseID: p.ToolUseID,
				Content:   stringifyToolResultContent(p.Content),
				Status:    toolResultStatus(p.IsError),
			})
		}
	}

	return &userInputMessage{
		Content:     strings.Join(text, "\n"),
		Images:      images,
		ToolResults: toolResults,
	}
}

func buildAssistantMessage(parts []anthropic.Part) *assistantResponseMessage {
	var text []string
	var toolUses []upstreamToolUse

	for _, p := range parts {
		switch p.Type {
		case "text":
			text = append(text, p.Text)
		case "tool_use":
			toolUses = append(toolUses, upstreamToolUse{
				ToolUseID: p.ID,
				Name:      p.Name,
				Input:     p.Input,
			})
		}
	}

	return &assistantResponseMessage{
		Content:  strings.Join(text, "\n"),
		ToolUses: toolUses,
	}
}

func toolResultStatus(isError bool) string {
	if isError {
		return "error"
	}
	return "success"
}

// stringifyToolResultContent normalizes a tool_result part's content
// (either a bare string or an array of text/other blocks) into one string
// for the upstream's plain-text toolResults[].content field.
func stringifyToolResultContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}

	var blocks []anthropic.Part
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var parts []string
		for _, b := range blocks {
			if b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, "\n")
	}

	return string(raw)
}
