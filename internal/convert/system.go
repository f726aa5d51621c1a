package convert

import (
	"encoding/json"
	"strings"
)

type systemBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// BuildSystemPrompt concatenates the request's system field into one
// string, supporting both the bare-string and [{type:"text", text}] shapes
// per spec.md §4.5.
func BuildSystemPrompt(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString, nil
	}

	var blocks []systemBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", err
	}

	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}
