// internal/loop/runner_test.go
package loop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// -- Fakes --

type fakeExtractor struct {
	calls int
	err   error
}

func (f *fakeExtractor) Extract(context.Context) (*schemas.GroundingSnapshot, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &schemas.GroundingSnapshot{
		PassID:         fmt.Sprintf("pass-%d", f.calls),
		URL:            "https://example.com",
		Title:          "Example",
		SerializedText: "[1]<button>Go</button>",
		IndexMap:       map[int]schemas.ElementRef{1: {Ref: 1, Pass: fmt.Sprintf("pass-%d", f.calls)}},
	}, nil
}

type executedAction struct {
	req  schemas.ActionRequest
	pass string
}

type fakeExecutor struct {
	executed []executedAction
	results  map[schemas.ActionKind]schemas.ActionResult
}

func (f *fakeExecutor) Execute(_ context.Context, req schemas.ActionRequest, snap *schemas.GroundingSnapshot) schemas.ActionResult {
	pass := ""
	if snap != nil {
		pass = snap.PassID
	}
	f.executed = append(f.executed, executedAction{req: req, pass: pass})
	if res, ok := f.results[req.Kind]; ok {
		return res
	}
	return schemas.Successf(string(req.Kind) + " ok")
}

// scriptedLLM returns turns in order; further calls repeat the last turn.
type scriptedLLM struct {
	turns   []schemas.ModelTurn
	prompts [][]schemas.ChatMessage
}

func (s *scriptedLLM) Call(_ context.Context, _ string, messages []schemas.ChatMessage, _ []schemas.ToolDef) schemas.ModelTurn {
	s.prompts = append(s.prompts, messages)
	i := len(s.prompts) - 1
	if i >= len(s.turns) {
		i = len(s.turns) - 1
	}
	return s.turns[i]
}

type memStore struct {
	mu     sync.Mutex
	tasks  map[string]schemas.Task
	states map[string]schemas.ConversationSnapshot
	ui     []schemas.UIMessage
}

func newMemStore() *memStore {
	return &memStore{
		tasks:  make(map[string]schemas.Task),
		states: make(map[string]schemas.ConversationSnapshot),
	}
}

func (s *memStore) SaveTask(_ context.Context, task schemas.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
	return nil
}

func (s *memStore) LoadTask(_ context.Context, id string) (schemas.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return schemas.Task{}, errors.New("not found")
	}
	return task, nil
}

func (s *memStore) SaveState(_ context.Context, taskID string, snap schemas.ConversationSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[taskID] = snap
	return nil
}

func (s *memStore) LoadState(_ context.Context, taskID string) (schemas.ConversationSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.states[taskID]
	if !ok {
		return schemas.ConversationSnapshot{}, errors.New("no state")
	}
	return snap, nil
}

func (s *memStore) AddUIMessage(_ context.Context, msg schemas.UIMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ui = append(s.ui, msg)
	return nil
}

func (s *memStore) ListTasks(context.Context) ([]schemas.Task, error) { return nil, nil }
func (s *memStore) DeleteTask(context.Context, string) error          { return nil }
func (s *memStore) ClearAll(context.Context) error                    { return nil }

type doneEvent struct {
	success bool
	message string
}

type fakeChannel struct {
	closed  chan struct{}
	ui      []schemas.UIMessage
	prompts [][]schemas.ChatMessage
	errors  []string
	dones   []doneEvent
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{closed: make(chan struct{})}
}

func (c *fakeChannel) EmitUIMessage(msg schemas.UIMessage) { c.ui = append(c.ui, msg) }
func (c *fakeChannel) EmitPromptDebug(_ string, messages []schemas.ChatMessage) {
	c.prompts = append(c.prompts, messages)
}
func (c *fakeChannel) EmitError(_ string, errMsg string) { c.errors = append(c.errors, errMsg) }
func (c *fakeChannel) EmitDone(_ string, success bool, finalMessage string) {
	c.dones = append(c.dones, doneEvent{success: success, message: finalMessage})
}
func (c *fakeChannel) Closed() <-chan struct{} { return c.closed }

// -- Harness --

type harness struct {
	runner    *Runner
	extractor *fakeExtractor
	executor  *fakeExecutor
	llm       *scriptedLLM
	store     *memStore
	channel   *fakeChannel
}

func newHarness(turns ...schemas.ModelTurn) *harness {
	h := &harness{
		extractor: &fakeExtractor{},
		executor:  &fakeExecutor{results: map[schemas.ActionKind]schemas.ActionResult{}},
		llm:       &scriptedLLM{turns: turns},
		store:     newMemStore(),
		channel:   newFakeChannel(),
	}
	cfg := config.AgentConfig{
		MaxIterations: 5,
		TokenBudget:   100000,
	}
	h.runner = NewRunner(cfg, h.llm, h.extractor, h.executor, nil, h.store, h.channel, zap.NewNop())
	h.runner.sleep = func(context.Context, time.Duration) {}
	return h
}

func toolUseTurn(thinking string, calls ...schemas.ToolCall) schemas.ModelTurn {
	return schemas.ModelTurn{StopReason: schemas.StopToolUse, Thinking: thinking, ToolCalls: calls}
}

func call(id, name, input string) schemas.ToolCall {
	return schemas.ToolCall{ID: id, Name: name, Input: []byte(input)}
}

func doneCall(id string, success bool, msg string) schemas.ToolCall {
	return call(id, "done", fmt.Sprintf(`{"success":%t,"text":%q}`, success, msg))
}

func testTask() schemas.Task {
	return schemas.Task{ID: "task-1", Objective: "find the price"}
}

// -- Tests --

func TestEndTurnTerminatesNormally(t *testing.T) {
	h := newHarness(schemas.ModelTurn{StopReason: schemas.StopEndTurn, Text: "all done"})

	require.NoError(t, h.runner.Run(context.Background(), testTask(), false))

	require.Len(t, h.channel.dones, 1)
	assert.True(t, h.channel.dones[0].success)
	assert.Equal(t, "all done", h.channel.dones[0].message)
	assert.Empty(t, h.channel.errors)
	assert.Equal(t, schemas.TaskCompleted, h.store.tasks["task-1"].Status)
}

func TestProviderErrorTerminatesWithError(t *testing.T) {
	h := newHarness(schemas.ErrorTurn("backend unreachable"))

	err := h.runner.Run(context.Background(), testTask(), false)
	require.Error(t, err)

	require.Len(t, h.channel.errors, 1)
	assert.Contains(t, h.channel.errors[0], "backend unreachable")
	assert.Empty(t, h.channel.dones, "error and done are mutually exclusive")
	assert.Equal(t, schemas.TaskFailed, h.store.tasks["task-1"].Status)
}

func TestExtractionFailureTerminatesWithError(t *testing.T) {
	h := newHarness(schemas.ModelTurn{StopReason: schemas.StopEndTurn})
	h.extractor.err = errors.New("page gone")

	err := h.runner.Run(context.Background(), testTask(), false)
	require.Error(t, err)
	require.Len(t, h.channel.errors, 1)
	assert.Contains(t, h.channel.errors[0], "page gone")
}

func TestClickThenDone(t *testing.T) {
	h := newHarness(
		toolUseTurn("Evaluation: starting.\nMemory: nothing yet.\nNext goal: click the button.",
			call("c1", "click", `{"index":1}`)),
		toolUseTurn("Next goal: finish.", doneCall("c2", true, "price is $5")),
	)

	require.NoError(t, h.runner.Run(context.Background(), testTask(), false))

	require.Len(t, h.executor.executed, 1)
	assert.Equal(t, schemas.ActionClick, h.executor.executed[0].req.Kind)
	require.Len(t, h.channel.dones, 1)
	assert.True(t, h.channel.dones[0].success)
	assert.Equal(t, "price is $5", h.channel.dones[0].message)

	// History records each step's parsed reasoning and outcomes.
	state := h.store.states["task-1"]
	require.Len(t, state.History, 2)
	assert.Equal(t, "click the button.", state.History[0].NextGoal)
	assert.Equal(t, "N/A", state.History[1].Evaluation, "missing fields default, never abort")
	assert.Contains(t, state.History[0].Results, "click ok")
}

func TestDoneShortCircuitsRemainingCalls(t *testing.T) {
	h := newHarness(
		toolUseTurn("finishing",
			doneCall("c1", false, "could not find it"),
			call("c2", "click", `{"index":1}`),
		),
	)

	require.NoError(t, h.runner.Run(context.Background(), testTask(), false))

	assert.Empty(t, h.executor.executed, "calls after done are never dispatched")
	require.Len(t, h.channel.dones, 1)
	assert.False(t, h.channel.dones[0].success)
	assert.Equal(t, schemas.TaskFailed, h.store.tasks["task-1"].Status)
}

func TestSequentialDispatchSeesFreshGrounding(t *testing.T) {
	h := newHarness(
		toolUseTurn("two actions",
			call("c1", "click", `{"index":1}`),
			call("c2", "click", `{"index":1}`)),
		toolUseTurn("done", doneCall("c3", true, "ok")),
	)

	require.NoError(t, h.runner.Run(context.Background(), testTask(), false))

	require.Len(t, h.executor.executed, 2)
	// The second call in the batch runs against a newer pass than the first.
	assert.NotEqual(t, h.executor.executed[0].pass, h.executor.executed[1].pass)
}

func TestActionFailureContinuesBatch(t *testing.T) {
	h := newHarness(
		toolUseTurn("try things",
			call("c1", "click", `{"index":99}`),
			call("c2", "find_text", `{"text":"price"}`)),
		toolUseTurn("done", doneCall("c3", true, "ok")),
	)
	h.executor.results[schemas.ActionClick] = schemas.Failure("element not found: index 99 is not in the current view")

	require.NoError(t, h.runner.Run(context.Background(), testTask(), false))

	require.Len(t, h.executor.executed, 2, "a failed action does not stop the batch")
	state := h.store.states["task-1"]
	assert.Contains(t, state.History[0].Results, "element not found")
}

func TestUnknownToolRecordedAsError(t *testing.T) {
	h := newHarness(
		toolUseTurn("confused", call("c1", "teleport", `{}`)),
		toolUseTurn("done", doneCall("c2", true, "ok")),
	)

	require.NoError(t, h.runner.Run(context.Background(), testTask(), false))

	assert.Empty(t, h.executor.executed)
	state := h.store.states["task-1"]
	assert.Contains(t, state.History[0].Results, "unknown action")
}

func TestBudgetExhaustion(t *testing.T) {
	h := newHarness(toolUseTurn("clicking forever", call("c1", "click", `{"index":1}`)))

	require.NoError(t, h.runner.Run(context.Background(), testTask(), false))

	require.Len(t, h.channel.dones, 1)
	assert.False(t, h.channel.dones[0].success)
	assert.Contains(t, h.channel.dones[0].message, "maximum of 5 steps")
	assert.Len(t, h.executor.executed, 5)
	assert.Equal(t, schemas.TaskFailed, h.store.tasks["task-1"].Status)
}

func TestRepeatedExtractionNudge(t *testing.T) {
	h := newHarness(
		toolUseTurn("extract once", call("c1", "extract_content", `{"query":"the price"}`)),
		toolUseTurn("extract again", call("c2", "extract_content", `{"query":"the price"}`)),
		toolUseTurn("done", doneCall("c3", true, "ok")),
	)
	h.executor.results[schemas.ActionExtract] = schemas.Successf("price: $5")

	require.NoError(t, h.runner.Run(context.Background(), testTask(), false))

	// The third prompt carries the advisory nudge in its state message.
	require.Len(t, h.llm.prompts, 3)
	last := h.llm.prompts[2][len(h.llm.prompts[2])-1]
	assert.Contains(t, last.Text, reExtractNudge)
	// Advisory only: the extractions themselves still ran.
	assert.Len(t, h.executor.executed, 2)
}

func TestOperatorDisconnectAbortsBetweenSteps(t *testing.T) {
	h := newHarness(toolUseTurn("clicking", call("c1", "click", `{"index":1}`)))
	close(h.channel.closed)

	err := h.runner.Run(context.Background(), testTask(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "operator disconnected")
	assert.Empty(t, h.executor.executed)
}

func TestResumeRestoresConversation(t *testing.T) {
	first := newHarness(
		toolUseTurn("Memory: found the widgets page.\nNext goal: click.", call("c1", "click", `{"index":1}`)),
		toolUseTurn("done", doneCall("c2", true, "ok")),
	)
	require.NoError(t, first.runner.Run(context.Background(), testTask(), false))

	second := newHarness(schemas.ModelTurn{StopReason: schemas.StopEndTurn, Text: "resumed"})
	second.store = first.store
	second.runner.store = first.store

	require.NoError(t, second.runner.Run(context.Background(), testTask(), true))

	// The resumed prompt contains the earlier assistant turn, and only one
	// initial task message across both runs.
	require.Len(t, second.llm.prompts, 1)
	var sawMemory bool
	var taskMessages int
	for _, msg := range second.llm.prompts[0] {
		if strings.Contains(msg.Text, "found the widgets page") {
			sawMemory = true
		}
		if strings.Contains(msg.Text, "Your task:") {
			taskMessages++
		}
	}
	assert.True(t, sawMemory)
	assert.Equal(t, 1, taskMessages)
}

func TestStartURLOpenedBeforeFirstStep(t *testing.T) {
	h := newHarness(schemas.ModelTurn{StopReason: schemas.StopEndTurn, Text: "done"})
	task := testTask()
	task.StartURL = "https://start.example"

	require.NoError(t, h.runner.Run(context.Background(), task, false))

	require.Len(t, h.executor.executed, 1)
	assert.Equal(t, schemas.ActionNavigate, h.executor.executed[0].req.Kind)
	assert.Equal(t, "https://start.example", h.executor.executed[0].req.URL)
	// Grounding for step one is extracted after the navigation, so the model
	// never sees the blank pre-navigation page.
	require.Len(t, h.llm.prompts, 1)
}

func TestStartURLFailureSurfacedToModel(t *testing.T) {
	h := newHarness(schemas.ModelTurn{StopReason: schemas.StopEndTurn, Text: "done"})
	h.executor.results[schemas.ActionNavigate] = schemas.Failure("net::ERR_NAME_NOT_RESOLVED")
	task := testTask()
	task.StartURL = "https://nope.invalid"

	require.NoError(t, h.runner.Run(context.Background(), task, false))

	require.Len(t, h.llm.prompts, 1)
	state := h.llm.prompts[0][len(h.llm.prompts[0])-1]
	assert.Contains(t, state.Text, "Could not open the start page https://nope.invalid")
	assert.Contains(t, state.Text, "ERR_NAME_NOT_RESOLVED")
}

func TestStartURLNotReopenedOnResume(t *testing.T) {
	task := testTask()
	task.StartURL = "https://start.example"

	first := newHarness(toolUseTurn("done", doneCall("c1", true, "ok")))
	require.NoError(t, first.runner.Run(context.Background(), task, false))

	second := newHarness(schemas.ModelTurn{StopReason: schemas.StopEndTurn, Text: "resumed"})
	second.store = first.store
	second.runner.store = first.store

	require.NoError(t, second.runner.Run(context.Background(), task, true))
	assert.Empty(t, second.executor.executed, "a resumed task keeps its page; no start navigation")
}

func TestPromptDebugCarriesSystemMessage(t *testing.T) {
	h := newHarness(schemas.ModelTurn{StopReason: schemas.StopEndTurn, Text: "done"})

	require.NoError(t, h.runner.Run(context.Background(), testTask(), false))

	// The operator sees the full outgoing list, system message first; the
	// provider call carries the system prompt out of band.
	require.Len(t, h.channel.prompts, 1)
	debug := h.channel.prompts[0]
	require.NotEmpty(t, debug)
	assert.Equal(t, schemas.RoleSystem, debug[0].Role)
	assert.Len(t, debug, len(h.llm.prompts[0])+1)
	for _, msg := range h.llm.prompts[0] {
		assert.NotEqual(t, schemas.RoleSystem, msg.Role)
	}
}

func TestPerStepTokenTelemetryLogged(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	h := newHarness(schemas.ModelTurn{StopReason: schemas.StopEndTurn, Text: "done"})
	h.runner.logger = zap.New(core).Named("loop")

	require.NoError(t, h.runner.Run(context.Background(), testTask(), false))

	entries := logs.FilterMessage("Prompt assembled.").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Contains(t, fields, "estimated_tokens")
	require.Contains(t, fields, "exact_tokens")
	assert.Positive(t, fields["exact_tokens"])
}

func TestEveryTerminalPathEmitsExactlyOneSignal(t *testing.T) {
	cases := []struct {
		name  string
		turns []schemas.ModelTurn
	}{
		{"end turn", []schemas.ModelTurn{{StopReason: schemas.StopEndTurn, Text: "x"}}},
		{"error", []schemas.ModelTurn{schemas.ErrorTurn("boom")}},
		{"done action", []schemas.ModelTurn{toolUseTurn("", doneCall("c1", true, "x"))}},
		{"budget", []schemas.ModelTurn{toolUseTurn("", call("c1", "click", `{"index":1}`))}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(tc.turns...)
			_ = h.runner.Run(context.Background(), testTask(), false)
			assert.Equal(t, 1, len(h.channel.dones)+len(h.channel.errors),
				"exactly one done or error per task")
		})
	}
}
