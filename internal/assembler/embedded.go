package assembler

import (
	"regexp"
	"strings"
)

// embeddedToolCallPattern matches the textual tool-call marker some upstream
// content carries instead of (or alongside) a dedicated toolUseEvent frame:
// "[Called tool_name with args: {...}]". The args capture is greedy: it runs
// to the last "}]" on the same line, so nested braces in the JSON body still
// match, but two markers on one line are captured as a single match.
var embeddedToolCallPattern = regexp.MustCompile(`\[Called (\w+) with args: (\{.*\})\]`)

// EmbeddedToolCall is one textual tool-call marker recovered from plain
// assistant text.
type EmbeddedToolCall struct {
	Name      string
	ArgsJSON  string
	MatchText string
}

// ParseEmbeddedToolCalls scans text for embedded tool-call markers, per the
// supplemented "embedded tool-call recovery" feature.
func ParseEmbeddedToolCalls(text string) []EmbeddedToolCall {
	matches := embeddedToolCallPattern.FindAllStringSubmatch(text, -1)
	if matches == nil {
		return nil
	}
	out := make([]EmbeddedToolCall, 0, len(matches))
	for _, m := range matches {
		out = append(out, EmbeddedToolCall{Name: m[1], ArgsJSON: m[2], MatchText: m[0]})
	}
	return out
}

// StripEmbeddedToolCalls removes every embedded tool-call marker from text,
// leaving the surrounding prose intact.
func StripEmbeddedToolCalls(text string) string {
	return embeddedToolCallPattern.ReplaceAllString(text, "")
}

const (
	openThinkingTag  = "<thinking>"
	closeThinkingTag = "</thinking>"
)

// longestTagPrefixSuffix returns the length of the longest suffix of buf
// that is also a prefix of tag — the portion that must be held back because
// it might be the start of tag split across a chunk boundary.
func longestTagPrefixSuffix(buf, tag string) int {
	max := len(tag) - 1
	if max > len(buf) {
		max = len(buf)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(buf, tag[:n]) {
			return n
		}
	}
	return 0
}
