// internal/operator/terminal.go
package operator

import (
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// TerminalChannel renders operator events as plain lines on a writer. It backs
// the run command, where the operator is the person watching the terminal.
// Close signals operator disconnection (ctrl-c handling lives in the command).
type TerminalChannel struct {
	mu      sync.Mutex
	out     io.Writer
	log     *zap.Logger
	verbose bool

	closeOnce sync.Once
	closed    chan struct{}
}

var _ schemas.OperatorChannel = (*TerminalChannel)(nil)

// NewTerminal creates a terminal channel. With verbose set, prompt debug
// dumps are printed too; otherwise they are dropped.
func NewTerminal(out io.Writer, verbose bool, logger *zap.Logger) *TerminalChannel {
	return &TerminalChannel{
		out:     out,
		log:     logger.Named("terminal"),
		verbose: verbose,
		closed:  make(chan struct{}),
	}
}

func (t *TerminalChannel) EmitUIMessage(msg schemas.UIMessage) {
	switch msg.Kind {
	case schemas.UIThinking:
		t.printf("\n%s\n", msg.Content)
	case schemas.UIToolCall:
		t.printf("  -> %s\n", msg.Content)
	case schemas.UIToolResult:
		t.printf("  <- %s\n", msg.Content)
	default:
		t.printf("  %s\n", msg.Content)
	}
}

func (t *TerminalChannel) EmitPromptDebug(taskID string, messages []schemas.ChatMessage) {
	if !t.verbose {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, "--- prompt (%d messages) ---\n", len(messages))
	for _, msg := range messages {
		fmt.Fprintf(t.out, "[%s] %s\n", msg.Role, msg.Text)
	}
	fmt.Fprintln(t.out, "--- end prompt ---")
}

func (t *TerminalChannel) EmitError(taskID string, errMsg string) {
	t.printf("\nTask failed: %s\n", errMsg)
}

func (t *TerminalChannel) EmitDone(taskID string, success bool, finalMessage string) {
	status := "succeeded"
	if !success {
		status = "did not succeed"
	}
	t.printf("\nTask %s.\n%s\n", status, finalMessage)
}

func (t *TerminalChannel) Closed() <-chan struct{} { return t.closed }

// Close marks the operator gone. Safe to call more than once.
func (t *TerminalChannel) Close() {
	t.closeOnce.Do(func() { close(t.closed) })
}

func (t *TerminalChannel) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := fmt.Fprintf(t.out, format, args...); err != nil {
		t.log.Warn("Failed to write to terminal.", zap.Error(err))
	}
}
