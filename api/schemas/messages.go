// api/schemas/messages.go
package schemas

import "encoding/json"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// StopReason is the normalized outcome of one model turn. Every provider
// backend maps its own finish-reason vocabulary onto exactly these four values.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopError     StopReason = "error"
	StopMaxTokens StopReason = "max_tokens"
)

// ToolCall is one tool invocation requested by the model. Input is the decoded
// structured argument object; providers that deliver arguments as a JSON string
// must decode them before constructing a ToolCall.
type ToolCall struct {
	// ID correlates the call with its ToolResult. Unique within one step.
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult reports the outcome of one executed tool call.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// ChatMessage is one turn in the conversation sent to a provider. A message
// carries either plain text, an assistant turn with tool calls, or a tool
// results turn; the provider adapters translate this shape into their own
// wire formats.
type ChatMessage struct {
	Role        Role         `json:"role"`
	Text        string       `json:"text,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// TokenUsage reports provider-side token accounting when available.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// ModelTurn is the uniform result of one provider call. Created once per call
// and never mutated afterwards.
type ModelTurn struct {
	StopReason StopReason `json:"stop_reason"`
	// Text holds the response text for end_turn results, or the error message
	// when StopReason is error.
	Text string `json:"text,omitempty"`
	// Thinking collects all free text fragments from a tool_use turn.
	Thinking  string     `json:"thinking,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     TokenUsage `json:"usage"`
}

// ErrorTurn constructs the ModelTurn for a failed provider call.
func ErrorTurn(msg string) ModelTurn {
	return ModelTurn{StopReason: StopError, Text: msg}
}

// ToolDef describes one tool exposed to the model: its name, a human readable
// description, and a JSON Schema object for its parameters.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}
