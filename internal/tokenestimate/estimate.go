// Package tokenestimate approximates Anthropic Messages API token counts
// over the request shape, per spec.md §4.8 (Token Estimator), with optional
// delegation to an external counting service.
package tokenestimate

import (
	"encoding/json"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/sdxdlgz/kiroproxy/internal/anthropic"
)

// fallbackCharsPerToken is used when the BPE codec itself fails to load or
// encode, mirroring the teacher's `len/4` emergency fallback.
const fallbackCharsPerToken = 4

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
	codecErr  error
)

func getCodec() (tokenizer.Codec, error) {
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return codec, codecErr
}

// CountText returns the estimated BPE token count of a string, falling back
// to a chars-per-token heuristic if the codec is unavailable.
func CountText(s string) int {
	if s == "" {
		return 0
	}
	c, err := getCodec()
	if err != nil {
		return charHeuristic(s)
	}
	ids, _, err := c.Encode(s)
	if err != nil {
		return charHeuristic(s)
	}
	return len(ids)
}

func charHeuristic(s string) int {
	n := len(s) / fallbackCharsPerToken
	if n == 0 && s != "" {
		n = 1
	}
	return n
}

// EstimateRequest walks an Anthropic Messages request's system prompt,
// message content parts, and tool schemas, summing their estimated token
// counts. This is the fallback used when no external counting service is
// configured (see Estimator in service.go).
func EstimateRequest(req anthropic.Request) (int, error) {
	total := 0

	if len(req.System) > 0 {
		var asString string
		if err := json.Unmarshal(req.System, &asString); err == nil {
			total += CountText(asString)
		} else {
			total += CountText(string(req.System))
		}
	}

	for _, msg := range req.Messages {
		parts, err := msg.Parts()
		if err != nil {
			return 0, err
		}
		for _, p := range parts {
			total += countPart(p)
		}
	}

	for _, tool := range req.Tools {
		total += CountText(tool.Name)
		total += CountText(tool.Description)
		total += CountText(string(tool.InputSchema))
	}

	return total, nil
}

func countPart(p anthropic.Part) int {
	switch p.Type {
	case "text":
		return CountText(p.Text)
	case "thinking":
		return CountText(p.Thinking)
	case "tool_use":
		return CountText(p.Name) + CountText(string(p.Input))
	case "tool_result":
		return CountText(string(p.Content))
	case "image":
		// Anthropic bills images at a roughly fixed token cost independent
		// of byte size; width/height are not reliably available here, so
		// use a flat approximation rather than counting base64 bytes as BPE.
		return 1600
	default:
		return 0
	}
}
