// api/schemas/tasks.go
package schemas

import "time"

// TaskStatus tracks a task through its lifecycle.
type TaskStatus string

const (
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Task is one user-issued objective and the root of its conversation state.
type Task struct {
	ID        string     `json:"id"`
	Objective string     `json:"objective"`
	StartURL  string     `json:"start_url,omitempty"`
	Status    TaskStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// HistoryItem summarizes one step for operator-visible progress tracking.
// It is redundant with the raw persistent history and kept for observability,
// not for prompt reconstruction.
type HistoryItem struct {
	Step       int    `json:"step"`
	Evaluation string `json:"evaluation"`
	Memory     string `json:"memory"`
	NextGoal   string `json:"next_goal"`
	// Results joins this step's action outcomes into one string.
	Results string `json:"results"`
}

// ConversationSnapshotVersion is bumped whenever the snapshot layout changes
// incompatibly. Restore rejects snapshots from a different version.
const ConversationSnapshotVersion = 1

// ConversationSnapshot is the full serialized conversation state used for
// task resumption. The transient state message is deliberately absent: it is
// rebuilt from fresh grounding on the first step after restore.
type ConversationSnapshot struct {
	SchemaVersion   int           `json:"schema_version"`
	SystemMessage   string        `json:"system_message"`
	Turns           []ChatMessage `json:"turns"`
	History         []HistoryItem `json:"history"`
	EstimatedTokens int           `json:"estimated_tokens"`
}

// UIMessageKind enumerates the structured progress events emitted on the
// operator channel.
type UIMessageKind string

const (
	UIThinking   UIMessageKind = "thinking"
	UIToolCall   UIMessageKind = "tool_call"
	UIToolResult UIMessageKind = "tool_result"
	UINotice     UIMessageKind = "notice"
	UIDone       UIMessageKind = "done"
)

// UIMessage is one operator-visible progress event, persisted per task.
type UIMessage struct {
	TaskID    string        `json:"task_id"`
	Kind      UIMessageKind `json:"kind"`
	Content   string        `json:"content"`
	CreatedAt time.Time     `json:"created_at"`
}

// TabSummary describes one open browsing target for the transient state
// message and for switch_tab targeting.
type TabSummary struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Title  string `json:"title"`
	Active bool   `json:"active"`
}
