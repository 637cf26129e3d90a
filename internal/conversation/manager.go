// internal/conversation/manager.go
package conversation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

const (
	// truncationMarker is appended when trimming has to cut into a turn's text.
	truncationMarker = "\n...[trimmed]"
	// extractionRingCap bounds how many past extraction results are re-shown
	// in the state message.
	extractionRingCap = 5
)

// extractionRecord is one remembered extract_content outcome, re-displayed in
// the state message so the model does not re-extract what it already has.
type extractionRecord struct {
	Query   string
	Content string
}

// Manager owns one task's conversation: the system message, the append-only
// persistent history, the transient state message, ephemeral notices, and the
// running token estimate. It has a single owner (the step loop) and is never
// accessed concurrently, so it carries no lock.
type Manager struct {
	budget int
	logger *zap.Logger

	systemMessage string
	systemTokens  int

	turns      []schemas.ChatMessage
	turnTokens int

	transient *schemas.ChatMessage
	notices   []string

	history []schemas.HistoryItem

	readState   string
	extractions []extractionRecord

	exact exactCounter
}

// NewManager creates a manager with the given conversation token budget.
// The budget covers everything except the system message.
func NewManager(budget int, logger *zap.Logger) *Manager {
	return &Manager{
		budget: budget,
		logger: logger.Named("conversation"),
	}
}

// SetSystemMessage installs the system message and seeds the token estimate.
// It is set once per task; later calls are ignored.
func (m *Manager) SetSystemMessage(text string) {
	if m.systemMessage != "" {
		m.logger.Warn("System message already set; ignoring replacement.")
		return
	}
	m.systemMessage = text
	m.systemTokens = estimateText(text)
}

// SystemMessage returns the installed system message.
func (m *Manager) SystemMessage() string { return m.systemMessage }

// AddInitialTaskMessage appends the user turn that states the objective.
func (m *Manager) AddInitialTaskMessage(task schemas.Task) {
	text := "Your task: " + task.Objective
	if task.StartURL != "" {
		text += "\nStart at: " + task.StartURL
	}
	m.appendTurn(schemas.ChatMessage{Role: schemas.RoleUser, Text: text})
}

// AddUserFollowUpMessage appends a mid-task user instruction.
func (m *Manager) AddUserFollowUpMessage(text string) {
	m.appendTurn(schemas.ChatMessage{Role: schemas.RoleUser, Text: text})
}

// AddAssistantMessage appends a persistent assistant turn combining free text
// and the step's tool calls.
func (m *Manager) AddAssistantMessage(thinking string, calls []schemas.ToolCall) {
	m.appendTurn(schemas.ChatMessage{
		Role:      schemas.RoleAssistant,
		Text:      thinking,
		ToolCalls: calls,
	})
}

// AddToolResultsMessage appends the turn correlating each tool call id to its
// outcome.
func (m *Manager) AddToolResultsMessage(results []schemas.ToolResult) {
	m.appendTurn(schemas.ChatMessage{
		Role:        schemas.RoleTool,
		ToolResults: results,
	})
}

// AddContextMessage records an ephemeral notice shown in the next state
// message only; CreateStateMessage clears it.
func (m *Manager) AddContextMessage(text string) {
	m.notices = append(m.notices, text)
}

// AddHistoryItem appends one step summary to the observability history.
func (m *Manager) AddHistoryItem(item schemas.HistoryItem) {
	m.history = append(m.history, item)
}

// History returns the accumulated step summaries.
func (m *Manager) History() []schemas.HistoryItem { return m.history }

// SetReadState records page text the model explicitly read (find_text),
// re-shown in state messages until cleared.
func (m *Manager) SetReadState(text string) { m.readState = text }

// ClearReadState drops the remembered read state.
func (m *Manager) ClearReadState() { m.readState = "" }

// AddExtractionResult remembers an extract_content outcome in a capped ring.
func (m *Manager) AddExtractionResult(query, content string) {
	m.extractions = append(m.extractions, extractionRecord{Query: query, Content: content})
	if len(m.extractions) > extractionRingCap {
		m.extractions = m.extractions[len(m.extractions)-extractionRingCap:]
	}
}

// RepeatedExtractionCount reports how many remembered extractions share the
// given query. The loop uses this for its re-extraction nudge.
func (m *Manager) RepeatedExtractionCount(query string) int {
	n := 0
	for _, rec := range m.extractions {
		if rec.Query == query {
			n++
		}
	}
	return n
}

// CreateStateMessage replaces the transient state message from fresh
// grounding, consumes the pending ephemeral notices, and enforces the token
// budget. This is the only path by which page state enters the conversation.
func (m *Manager) CreateStateMessage(snap *schemas.GroundingSnapshot, step int, tabs []schemas.TabSummary) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "== Current state (step %d) ==\n", step)
	fmt.Fprintf(&sb, "URL: %s\n", snap.URL)
	fmt.Fprintf(&sb, "Title: %s\n", snap.Title)

	if len(tabs) > 0 {
		sb.WriteString("Open tabs:\n")
		for _, tab := range tabs {
			marker := " "
			if tab.Active {
				marker = "*"
			}
			fmt.Fprintf(&sb, " %s [%s] %s (%s)\n", marker, tab.ID, tab.Title, tab.URL)
		}
	}

	fmt.Fprintf(&sb, "Interactive elements (%d):\n", snap.InteractiveCount)
	if snap.SerializedText != "" {
		sb.WriteString(snap.SerializedText)
		sb.WriteByte('\n')
	} else {
		sb.WriteString("(page is empty)\n")
	}

	for _, rec := range m.extractions {
		fmt.Fprintf(&sb, "\nPrevious extraction for %q:\n%s\n", rec.Query, rec.Content)
	}
	if m.readState != "" {
		fmt.Fprintf(&sb, "\nText you found:\n%s\n", m.readState)
	}
	for _, notice := range m.notices {
		fmt.Fprintf(&sb, "\nNote: %s\n", notice)
	}
	m.notices = nil

	m.transient = &schemas.ChatMessage{Role: schemas.RoleUser, Text: sb.String()}
	m.trim()
}

// Messages returns the exact ordered list to send: system, every persistent
// turn, then the transient state message last. The transient message is never
// copied into persistent history.
func (m *Manager) Messages() []schemas.ChatMessage {
	out := make([]schemas.ChatMessage, 0, len(m.turns)+2)
	if m.systemMessage != "" {
		out = append(out, schemas.ChatMessage{Role: schemas.RoleSystem, Text: m.systemMessage})
	}
	out = append(out, m.turns...)
	if m.transient != nil {
		out = append(out, *m.transient)
	}
	return out
}

// ConversationMessages is Messages without the leading system entry, for
// providers that carry the system prompt out of band.
func (m *Manager) ConversationMessages() []schemas.ChatMessage {
	out := make([]schemas.ChatMessage, 0, len(m.turns)+1)
	out = append(out, m.turns...)
	if m.transient != nil {
		out = append(out, *m.transient)
	}
	return out
}

// EstimatedTokens is the running estimate over system message, persistent
// turns, and the current transient message.
func (m *Manager) EstimatedTokens() int {
	total := m.systemTokens + m.turnTokens
	if m.transient != nil {
		total += estimateText(m.transient.Text)
	}
	return total
}

// ExactTokens counts the current message list with a real tokenizer, for
// telemetry only. Budget decisions never depend on it.
func (m *Manager) ExactTokens() int {
	total := 0
	for _, msg := range m.Messages() {
		total += m.exact.count(msg.Text)
		for _, call := range msg.ToolCalls {
			total += m.exact.count(string(call.Input))
		}
		for _, res := range msg.ToolResults {
			total += m.exact.count(res.Content)
		}
	}
	return total
}

// Serialize captures the restorable conversation state. The transient state
// message is deliberately excluded: it is rebuilt from fresh grounding on the
// first step after restore.
func (m *Manager) Serialize() schemas.ConversationSnapshot {
	turns := make([]schemas.ChatMessage, len(m.turns))
	copy(turns, m.turns)
	history := make([]schemas.HistoryItem, len(m.history))
	copy(history, m.history)
	return schemas.ConversationSnapshot{
		SchemaVersion:   schemas.ConversationSnapshotVersion,
		SystemMessage:   m.systemMessage,
		Turns:           turns,
		History:         history,
		EstimatedTokens: m.EstimatedTokens(),
	}
}

// Restore replaces the manager's state from a snapshot.
func (m *Manager) Restore(snap schemas.ConversationSnapshot) error {
	if snap.SchemaVersion != schemas.ConversationSnapshotVersion {
		return fmt.Errorf("unsupported conversation snapshot version %d", snap.SchemaVersion)
	}
	m.systemMessage = snap.SystemMessage
	m.systemTokens = estimateText(snap.SystemMessage)
	m.turns = make([]schemas.ChatMessage, len(snap.Turns))
	copy(m.turns, snap.Turns)
	m.turnTokens = 0
	for _, turn := range m.turns {
		m.turnTokens += estimateMessage(turn)
	}
	m.history = make([]schemas.HistoryItem, len(snap.History))
	copy(m.history, snap.History)
	m.transient = nil
	m.notices = nil
	m.readState = ""
	m.extractions = nil
	return nil
}

func (m *Manager) appendTurn(msg schemas.ChatMessage) {
	m.turns = append(m.turns, msg)
	m.turnTokens += estimateMessage(msg)
}

// trim enforces the budget over conversation tokens (everything but the
// system message). Oldest persistent turns are dropped first; if that is not
// enough, the newest turn's text is cut, down to the bare marker when the
// overage swallows it whole, and finally the transient state message itself
// is cut. Trimming is lossy and irreversible.
func (m *Manager) trim() {
	conversationTokens := func() int {
		total := m.turnTokens
		if m.transient != nil {
			total += estimateText(m.transient.Text)
		}
		return total
	}

	dropped := 0
	for conversationTokens() > m.budget && len(m.turns) > 1 {
		m.turnTokens -= estimateMessage(m.turns[0])
		m.turns = m.turns[1:]
		dropped++
	}

	if over := conversationTokens() - m.budget; over > 0 && len(m.turns) > 0 {
		last := &m.turns[len(m.turns)-1]
		m.turnTokens -= estimateMessage(*last)
		last.Text = cutText(last.Text, over)
		m.turnTokens += estimateMessage(*last)
	}

	if over := conversationTokens() - m.budget; over > 0 && m.transient != nil {
		m.transient.Text = cutText(m.transient.Text, over)
		m.logger.Warn("State message alone exceeded the token budget; its tail was cut.",
			zap.Int("budget", m.budget),
		)
	}

	if dropped > 0 {
		m.logger.Debug("Trimmed conversation history.",
			zap.Int("dropped_turns", dropped),
			zap.Int("estimated_tokens", m.EstimatedTokens()),
			zap.Int("budget", m.budget),
		)
	}
}

// cutText removes at least over tokens' worth of tail from text and appends
// the truncation marker. When the overage consumes the whole text, only the
// marker remains. The cut never splits a multi-byte rune.
func cutText(text string, over int) string {
	// The marker itself costs tokens; cut enough to cover it too.
	cut := over*charsPerToken + len(truncationMarker)
	if cut >= len(text) {
		return truncationMarker
	}
	keep := len(text) - cut
	for keep > 0 && !utf8.RuneStart(text[keep]) {
		keep--
	}
	return text[:keep] + truncationMarker
}
