// Package convert translates an Anthropic Messages API request into the
// upstream Kiro request envelope, per spec.md §4.5.
package convert

import "strings"

// MapModel maps an Anthropic model identifier to an upstream model tag by
// substring, per spec.md §4.5 / §8 Scenario 6.
func MapModel(model string) string {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "opus"):
		return "claude-opus-4.5"
	case strings.Contains(lower, "haiku"):
		return "claude-haiku-4.5"
	default:
		return "claude-sonnet-4.5"
	}
}
