// internal/loop/runner.go
package loop

import (
	"context"
	"fmt"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/conversation"
)

// Extractor produces a fresh grounding snapshot of the current page.
type Extractor interface {
	Extract(ctx context.Context) (*schemas.GroundingSnapshot, error)
}

// ActionExecutor performs one action against the page or host.
type ActionExecutor interface {
	Execute(ctx context.Context, req schemas.ActionRequest, snap *schemas.GroundingSnapshot) schemas.ActionResult
}

// TabLister reports the open tabs for the state message.
type TabLister interface {
	TabSummaries(ctx context.Context) []schemas.TabSummary
}

// reExtractNudge is injected when the model keeps extracting the same thing.
const reExtractNudge = "You have already extracted this information; it is shown above. " +
	"Use it instead of extracting again."

// Runner drives one task through the step state machine: extract grounding,
// build the prompt, call the model, dispatch its actions, persist, repeat.
// One Runner runs one task at a time; nothing here is called concurrently.
type Runner struct {
	cfg       config.AgentConfig
	llm       schemas.LLMClient
	extractor Extractor
	executor  ActionExecutor
	tabs      TabLister
	store     schemas.TaskStore
	channel   schemas.OperatorChannel
	logger    *zap.Logger

	// sleep is indirection for the settle delays so tests run instantly.
	sleep func(ctx context.Context, d time.Duration)
}

func NewRunner(
	cfg config.AgentConfig,
	llm schemas.LLMClient,
	extractor Extractor,
	executor ActionExecutor,
	tabs TabLister,
	store schemas.TaskStore,
	channel schemas.OperatorChannel,
	logger *zap.Logger,
) *Runner {
	return &Runner{
		cfg:       cfg,
		llm:       llm,
		extractor: extractor,
		executor:  executor,
		tabs:      tabs,
		store:     store,
		channel:   channel,
		logger:    logger.Named("loop"),
		sleep: func(ctx context.Context, d time.Duration) {
			if d <= 0 {
				return
			}
			select {
			case <-time.After(d):
			case <-ctx.Done():
			}
		},
	}
}

// doneOutcome carries the model's declared result from the done action.
type doneOutcome struct {
	success bool
	message string
}

// Run executes the task to a terminal state. Every termination path emits
// exactly one done or error event on the operator channel. The returned error
// reports loop-internal failures; a task the model declares unsuccessful is
// not a Go error.
func (r *Runner) Run(ctx context.Context, task schemas.Task, resume bool) error {
	log := r.logger.With(zap.String("task_id", task.ID))
	conv := conversation.NewManager(r.cfg.TokenBudget, r.logger)

	if resume {
		if snap, err := r.store.LoadState(ctx, task.ID); err != nil {
			log.Warn("Could not load saved state; starting fresh.", zap.Error(err))
		} else if err := conv.Restore(snap); err != nil {
			log.Warn("Saved state rejected; starting fresh.", zap.Error(err))
		}
	}
	fresh := conv.SystemMessage() == ""
	if fresh {
		conv.SetSystemMessage(systemPrompt(r.cfg.MaxIterations))
		conv.AddInitialTaskMessage(task)
	}

	task.Status = schemas.TaskRunning
	task.UpdatedAt = time.Now().UTC()
	if err := r.store.SaveTask(ctx, task); err != nil {
		return r.finishError(ctx, task, conv, fmt.Sprintf("failed to persist task: %v", err))
	}

	// A fresh task starts on its start page, not about:blank; the first
	// extraction must ground against it. Failure is not fatal, the model is
	// told and can navigate itself.
	if fresh && task.StartURL != "" {
		res := r.executor.Execute(ctx, schemas.ActionRequest{Kind: schemas.ActionNavigate, URL: task.StartURL}, nil)
		if !res.Success {
			log.Warn("Start page navigation failed.", zap.String("url", task.StartURL), zap.String("error", res.Error))
			conv.AddContextMessage(fmt.Sprintf("Could not open the start page %s: %s", task.StartURL, res.Error))
		} else {
			r.sleep(ctx, r.cfg.NavSettleDelay)
		}
	}

	tools := toolCatalogue()

	for step := 1; step <= r.cfg.MaxIterations; step++ {
		if r.operatorClosed() {
			return r.finishError(ctx, task, conv, "operator disconnected")
		}

		// Grounding is re-extracted every step; a prior snapshot is never
		// trusted because the page can change outside the loop's control.
		snap, err := r.extractor.Extract(ctx)
		if err != nil {
			return r.finishError(ctx, task, conv, fmt.Sprintf("grounding extraction failed: %v", err))
		}

		var tabs []schemas.TabSummary
		if r.tabs != nil {
			tabs = r.tabs.TabSummaries(ctx)
		}
		conv.CreateStateMessage(snap, step, tabs)

		// prompt_debug carries the exact outgoing list, system message included.
		r.channel.EmitPromptDebug(task.ID, conv.Messages())
		log.Debug("Prompt assembled.",
			zap.Int("step", step),
			zap.Int("estimated_tokens", conv.EstimatedTokens()),
			zap.Int("exact_tokens", conv.ExactTokens()),
		)

		turn := r.llm.Call(ctx, conv.SystemMessage(), conv.ConversationMessages(), tools)

		switch turn.StopReason {
		case schemas.StopError:
			return r.finishError(ctx, task, conv, turn.Text)
		case schemas.StopEndTurn:
			// No actions requested; surface the text and finish.
			return r.finishDone(ctx, task, conv, true, turn.Text)
		case schemas.StopMaxTokens:
			return r.finishDone(ctx, task, conv, false,
				turn.Text+"\n(response was cut off by the model's output limit)")
		}

		rsn := parseReasoning(turn.Thinking)
		if turn.Thinking != "" {
			r.emitUI(ctx, task.ID, schemas.UIThinking, turn.Thinking)
		}

		results, done := r.dispatchActions(ctx, task, conv, snap, turn)

		conv.AddAssistantMessage(turn.Thinking, turn.ToolCalls)
		if len(results) > 0 {
			conv.AddToolResultsMessage(results)
		}
		conv.AddHistoryItem(schemas.HistoryItem{
			Step:       step,
			Evaluation: rsn.Evaluation,
			Memory:     rsn.Memory,
			NextGoal:   rsn.NextGoal,
			Results:    joinResults(results),
		})
		if err := r.store.SaveState(ctx, task.ID, conv.Serialize()); err != nil {
			log.Warn("Failed to persist conversation state.", zap.Error(err))
		}

		if done != nil {
			return r.finishDone(ctx, task, conv, done.success, done.message)
		}
		if len(turn.ToolCalls) == 0 {
			conv.AddContextMessage("Your last response requested no action. " +
				"Call a tool, or call done if the task is finished.")
		}
	}

	return r.finishDone(ctx, task, conv, false,
		fmt.Sprintf("Stopped: reached the maximum of %d steps without finishing the task.", r.cfg.MaxIterations))
}

// dispatchActions executes the turn's tool calls strictly in order. done
// short-circuits the remaining calls before generic dispatch. After each
// successful action the grounding is refreshed so the next call in the same
// batch sees current state.
func (r *Runner) dispatchActions(
	ctx context.Context,
	task schemas.Task,
	conv *conversation.Manager,
	snap *schemas.GroundingSnapshot,
	turn schemas.ModelTurn,
) ([]schemas.ToolResult, *doneOutcome) {
	var results []schemas.ToolResult

	for _, call := range turn.ToolCalls {
		if r.operatorClosed() {
			results = append(results, schemas.ToolResult{
				ToolCallID: call.ID, Content: "aborted: operator disconnected", IsError: true,
			})
			break
		}

		req, err := decodeAction(call)
		if err != nil {
			r.logger.Warn("Undecodable action request.", zap.String("tool", call.Name), zap.Error(err))
			results = append(results, schemas.ToolResult{
				ToolCallID: call.ID, Content: err.Error(), IsError: true,
			})
			continue
		}

		if req.Kind == schemas.ActionDone {
			return results, &doneOutcome{success: req.Success, message: req.Text}
		}

		r.emitUI(ctx, task.ID, schemas.UIToolCall, describeAction(req))
		res := r.executor.Execute(ctx, req, snap)
		r.emitUI(ctx, task.ID, schemas.UIToolResult, describeResult(req, res))

		content := res.Content
		if !res.Success {
			content = res.Error
		}
		results = append(results, schemas.ToolResult{
			ToolCallID: call.ID, Content: content, IsError: !res.Success,
		})

		if !res.Success {
			// Failure is recorded and the batch continues; the next step's
			// mandatory re-extraction is the recovery path.
			continue
		}

		switch req.Kind {
		case schemas.ActionFindText:
			conv.SetReadState(res.Content)
		case schemas.ActionExtract:
			conv.AddExtractionResult(req.Query, res.Content)
			if conv.RepeatedExtractionCount(req.Query) >= 2 {
				conv.AddContextMessage(reExtractNudge)
			}
		}

		settle := r.cfg.SettleDelay
		if req.Kind.IsNavigation() {
			settle = r.cfg.NavSettleDelay
		}
		r.sleep(ctx, settle)

		fresh, err := r.extractor.Extract(ctx)
		if err != nil {
			// Without fresh grounding, stale indices must fail rather than
			// resolve silently against old state.
			r.logger.Warn("Mid-batch re-extraction failed.", zap.Error(err))
			snap = nil
		} else {
			snap = fresh
		}
	}
	return results, nil
}

// decodeAction turns a normalized tool call into an action request.
func decodeAction(call schemas.ToolCall) (schemas.ActionRequest, error) {
	kind := schemas.ActionKind(call.Name)
	if _, ok := catalogue[kind]; !ok {
		return schemas.ActionRequest{}, fmt.Errorf("unknown action %q", call.Name)
	}
	var req schemas.ActionRequest
	if len(call.Input) > 0 {
		if err := json.Unmarshal(call.Input, &req); err != nil {
			return schemas.ActionRequest{}, fmt.Errorf("invalid arguments for %s: %v", call.Name, err)
		}
	}
	req.Kind = kind
	return req, nil
}

func describeAction(req schemas.ActionRequest) string {
	switch req.Kind {
	case schemas.ActionNavigate, schemas.ActionOpenTab:
		return fmt.Sprintf("%s %s", req.Kind, req.URL)
	case schemas.ActionSearch:
		return fmt.Sprintf("search %q", req.Query)
	case schemas.ActionExtract:
		return fmt.Sprintf("extract_content %q", req.Query)
	case schemas.ActionInputText, schemas.ActionDropdownSelect:
		return fmt.Sprintf("%s [%d] %q", req.Kind, req.Index, req.Text)
	case schemas.ActionFindText, schemas.ActionSendKeys:
		return fmt.Sprintf("%s %q", req.Kind, req.Text)
	case schemas.ActionSwitchTab, schemas.ActionCloseTab:
		return fmt.Sprintf("%s %s", req.Kind, req.TabID)
	default:
		if req.Index > 0 {
			return fmt.Sprintf("%s [%d]", req.Kind, req.Index)
		}
		return string(req.Kind)
	}
}

func describeResult(req schemas.ActionRequest, res schemas.ActionResult) string {
	if !res.Success {
		return fmt.Sprintf("%s failed: %s", req.Kind, res.Error)
	}
	if res.Content != "" {
		return res.Content
	}
	return string(req.Kind) + " ok"
}

func joinResults(results []schemas.ToolResult) string {
	parts := make([]string, 0, len(results))
	for _, res := range results {
		if res.IsError {
			parts = append(parts, "error: "+res.Content)
		} else {
			parts = append(parts, res.Content)
		}
	}
	return strings.Join(parts, "; ")
}

func (r *Runner) operatorClosed() bool {
	select {
	case <-r.channel.Closed():
		return true
	default:
		return false
	}
}

func (r *Runner) emitUI(ctx context.Context, taskID string, kind schemas.UIMessageKind, content string) {
	msg := schemas.UIMessage{
		TaskID:    taskID,
		Kind:      kind,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	r.channel.EmitUIMessage(msg)
	if err := r.store.AddUIMessage(ctx, msg); err != nil {
		r.logger.Warn("Failed to persist UI message.", zap.Error(err))
	}
}

func (r *Runner) finishDone(ctx context.Context, task schemas.Task, conv *conversation.Manager, success bool, message string) error {
	r.persistTerminal(ctx, task, conv, success)
	r.emitUI(ctx, task.ID, schemas.UIDone, message)
	r.channel.EmitDone(task.ID, success, message)
	r.logger.Info("Task finished.",
		zap.String("task_id", task.ID),
		zap.Bool("success", success),
	)
	return nil
}

func (r *Runner) finishError(ctx context.Context, task schemas.Task, conv *conversation.Manager, errMsg string) error {
	r.persistTerminal(ctx, task, conv, false)
	r.channel.EmitError(task.ID, errMsg)
	r.logger.Error("Task failed.",
		zap.String("task_id", task.ID),
		zap.String("error", errMsg),
	)
	return fmt.Errorf("task %s failed: %s", task.ID, errMsg)
}

func (r *Runner) persistTerminal(ctx context.Context, task schemas.Task, conv *conversation.Manager, success bool) {
	if err := r.store.SaveState(ctx, task.ID, conv.Serialize()); err != nil {
		r.logger.Warn("Failed to persist final state.", zap.Error(err))
	}
	task.Status = schemas.TaskFailed
	if success {
		task.Status = schemas.TaskCompleted
	}
	task.UpdatedAt = time.Now().UTC()
	if err := r.store.SaveTask(ctx, task); err != nil {
		r.logger.Warn("Failed to persist task status.", zap.Error(err))
	}
}
