// api/schemas/interfaces.go
package schemas

import "context"

// -- Provider Interface --

// LLMClient sends a system prompt plus conversation to a chat-with-tools
// backend and returns a normalized turn. Implementations fail closed: any
// transport or decode error is converted into a turn with StopReason error;
// Call itself only returns an error for programmer mistakes (nil context and
// the like), never for provider failures.
type LLMClient interface {
	Call(ctx context.Context, systemPrompt string, messages []ChatMessage, tools []ToolDef) ModelTurn
}

// -- Persistence Interfaces --

// TaskStore persists tasks, their UI message feeds, and their conversation
// snapshots. The step loop only calls Save/Load/AddUIMessage; listing and
// deletion belong to the operator-facing layer.
type TaskStore interface {
	SaveTask(ctx context.Context, task Task) error
	LoadTask(ctx context.Context, id string) (Task, error)
	SaveState(ctx context.Context, taskID string, snap ConversationSnapshot) error
	LoadState(ctx context.Context, taskID string) (ConversationSnapshot, error)
	AddUIMessage(ctx context.Context, msg UIMessage) error
	ListTasks(ctx context.Context) ([]Task, error)
	DeleteTask(ctx context.Context, id string) error
	ClearAll(ctx context.Context) error
}

// -- Operator Channel --

// OperatorChannel is the duplex, message-oriented channel the loop uses to
// report progress. Exactly one Done or Error terminates every task; the loop
// never leaves the channel silent on termination. Closed reports operator
// disconnection, which cancels the loop between actions.
type OperatorChannel interface {
	EmitUIMessage(msg UIMessage)
	// EmitPromptDebug publishes the exact outgoing message list for inspection.
	EmitPromptDebug(taskID string, messages []ChatMessage)
	EmitError(taskID string, errMsg string)
	EmitDone(taskID string, success bool, finalMessage string)
	Closed() <-chan struct{}
}
