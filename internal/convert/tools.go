package convert

import (
	"encoding/json"
	"strings"

	"github.com/sdxdlgz/kiroproxy/internal/anthropic"
)

// unsupportedTools are dropped from the outbound request — the upstream has
// no web-search capability, per spec.md §4.5 / §8 Scenario 7.
var unsupportedTools = map[string]bool{
	"web_search": true,
	"websearch":  true,
}

// FilterTools removes unsupported tools from the Anthropic tools array.
func FilterTools(tools []anthropic.Tool) []anthropic.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]anthropic.Tool, 0, len(tools))
	for _, t := range tools {
		if unsupportedTools[strings.ToLower(t.Name)] {
			continue
		}
		out = append(out, t)
	}
	return out
}

// upstreamTool is the Kiro-side tool schema shape from spec.md §4.5.
type upstreamTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ToUpstreamTools maps a filtered Anthropic tools array to the upstream
// tools[] shape.
func ToUpstreamTools(tools []anthropic.Tool) []upstreamTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]upstreamTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, upstreamTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return out
}
