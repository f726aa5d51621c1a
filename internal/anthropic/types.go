// Package anthropic defines the wire types for the Anthropic Messages API
// request/response/SSE shapes that the proxy speaks to clients.
package anthropic

import "encoding/json"

// Request is the inbound Messages API request body.
type Request struct {
	Model     string     `json:"model"`
	Messages  []Message  `json:"messages"`
	System    json.RawMessage `json:"system,omitempty"`
	MaxTokens int        `json:"max_tokens"`
	Stream    bool       `json:"stream,omitempty"`
	Tools     []Tool     `json:"tools,omitempty"`
	Thinking  *Thinking  `json:"thinking,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	StopSequences []string `json:"stop_sequences,omitempty"`
}

// Thinking enables upstream reasoning with a bounded token budget.
type Thinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

// Message is one turn in the conversation. Content is either a plain string
// or an array of typed Part values — callers should inspect RawContent.
type Message struct {
	Role       string          `json:"role"`
	RawContent json.RawMessage `json:"content"`
}

// Parts decodes RawContent into a slice of Part, normalizing a bare string
// into a single Text part.
func (m Message) Parts() ([]Part, error) {
	var asString string
	if err := json.Unmarshal(m.RawContent, &asString); err == nil {
		return []Part{{Type: "text", Text: asString}}, nil
	}
	var parts []Part
	if err := json.Unmarshal(m.RawContent, &parts); err != nil {
		return nil, err
	}
	return parts, nil
}

// Part is a single content-array element. Which fields are populated depends
// on Type: "text", "image", "tool_use", "tool_result", "thinking".
type Part struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// image
	Source *ImageSource `json:"source,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`

	// thinking
	Thinking string `json:"thinking,omitempty"`
}

// ImageSource is the base64 data-URI shape of an inline image part.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// Tool is one entry of the request's tools array.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Usage carries cumulative token counts.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
}

// Response is the non-streaming response body (named "Response" rather than
// "Message" to avoid clashing with the inbound Message type above).
type Response struct {
	ID           string  `json:"id"`
	Type         string  `json:"type"`
	Role         string  `json:"role"`
	Model        string  `json:"model"`
	Content      []Block `json:"content"`
	StopReason   string  `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
	Usage        Usage   `json:"usage"`
}

// Block is one element of a Response's content array, or the payload of a
// content_block_start SSE event.
type Block struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	Thinking string `json:"thinking,omitempty"`
}

// CountTokensResponse is the body returned by /v1/messages/count_tokens.
type CountTokensResponse struct {
	InputTokens int `json:"input_tokens"`
}

// ErrorBody is the Anthropic-shaped error envelope used both for HTTP error
// responses and for the terminal SSE "error" event.
type ErrorBody struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the error's type tag and human-readable message.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Model identifiers exposed by GET /v1/models.
const (
	ModelOpus   = "claude-opus-4.5"
	ModelSonnet = "claude-sonnet-4.5"
	ModelHaiku  = "claude-haiku-4.5"
)

// Stop reasons.
const (
	StopReasonEndTurn      = "end_turn"
	StopReasonToolUse      = "tool_use"
	StopReasonMaxTokens    = "max_tokens"
	StopReasonStopSequence = "stop_sequence"
)
