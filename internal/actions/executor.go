// internal/actions/executor.go
package actions

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/grounding"
)

// PageDriver is what the executor needs from the browser session.
type PageDriver interface {
	Navigate(ctx context.Context, url string) error
	GoBack(ctx context.Context) error
	OpenTab(ctx context.Context, url string) (string, error)
	SwitchTab(id string) error
	CloseTab(id string) error
	Evaluate(ctx context.Context, expression string) ([]byte, error)
	Ping(ctx context.Context) error
	PageHTML(ctx context.Context) (string, error)
	CurrentURL(ctx context.Context) (string, error)
}

// transientSignatures are dispatch failures that mean the page went away
// mid-call (navigation, tab churn, dropped devtools channel). These get the
// readiness-poll-and-retry treatment; everything else is terminal for the
// action.
var transientSignatures = []string{
	"could not establish connection",
	"receiving end does not exist",
	"execution context was destroyed",
	"cannot find context with specified id",
	"target closed",
	"websocket: close",
	"content script unavailable",
}

var searchEngines = map[string]string{
	"google":     "https://www.google.com/search?q=%s",
	"bing":       "https://www.bing.com/search?q=%s",
	"duckduckgo": "https://duckduckgo.com/?q=%s",
}

// maxWaitSeconds caps the model-requested wait so a confused model cannot
// stall a step indefinitely.
const maxWaitSeconds = 30

// Executor performs one action request at a time against the page or the
// surrounding host. It holds no per-step state; the grounding snapshot for
// index resolution is passed per call.
type Executor struct {
	driver PageDriver
	cfg    config.AgentConfig
	llm    schemas.LLMClient
	logger *zap.Logger
}

// NewExecutor builds an executor. llm is only used by extract_content and may
// be nil when that action is not exposed.
func NewExecutor(driver PageDriver, cfg config.AgentConfig, llm schemas.LLMClient, logger *zap.Logger) *Executor {
	return &Executor{
		driver: driver,
		cfg:    cfg,
		llm:    llm,
		logger: logger.Named("actions"),
	}
}

// Execute performs exactly one action and returns exactly one result. It
// never returns a Go error: every failure is folded into the result so the
// loop can record it and move on. A hard per-action timeout always applies.
func (e *Executor) Execute(ctx context.Context, req schemas.ActionRequest, snap *schemas.GroundingSnapshot) schemas.ActionResult {
	timeout := e.cfg.ActionTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	e.logger.Debug("Executing action.",
		zap.String("kind", string(req.Kind)),
		zap.Int("index", req.Index),
	)

	if req.Kind.IsHostLevel() {
		return e.executeHost(ctx, req)
	}

	switch req.Kind {
	case schemas.ActionClick, schemas.ActionInputText, schemas.ActionScroll,
		schemas.ActionSendKeys, schemas.ActionDropdownOpts,
		schemas.ActionDropdownSelect, schemas.ActionFindText:
		return e.executePage(ctx, req, snap)
	case schemas.ActionExtract:
		return e.executeExtract(ctx, req)
	case schemas.ActionDone:
		// done is terminal and handled by the loop before dispatch.
		return schemas.Failure("done is not dispatchable")
	default:
		return schemas.Failure(fmt.Sprintf("unknown action kind %q", req.Kind))
	}
}

// -- Host-Level Actions --

func (e *Executor) executeHost(ctx context.Context, req schemas.ActionRequest) schemas.ActionResult {
	switch req.Kind {
	case schemas.ActionNavigate:
		if req.URL == "" {
			return schemas.Failure("navigate requires a url")
		}
		if err := e.driver.Navigate(ctx, req.URL); err != nil {
			return schemas.Failure(fmt.Sprintf("navigation failed: %v", err))
		}
		return schemas.Successf("Navigated to " + req.URL)

	case schemas.ActionOpenTab:
		tabID, err := e.driver.OpenTab(ctx, req.URL)
		if err != nil {
			return schemas.Failure(fmt.Sprintf("failed to open tab: %v", err))
		}
		res := schemas.Successf("Opened new tab " + tabID)
		res.NewTabID = tabID
		return res

	case schemas.ActionSearch:
		if req.Query == "" {
			return schemas.Failure("search requires a query")
		}
		pattern, ok := searchEngines[strings.ToLower(e.cfg.SearchEngine)]
		if !ok {
			pattern = searchEngines["google"]
		}
		target := fmt.Sprintf(pattern, url.QueryEscape(req.Query))
		if err := e.driver.Navigate(ctx, target); err != nil {
			return schemas.Failure(fmt.Sprintf("search navigation failed: %v", err))
		}
		return schemas.Successf(fmt.Sprintf("Searched for %q", req.Query))

	case schemas.ActionGoBack:
		if err := e.driver.GoBack(ctx); err != nil {
			return schemas.Failure(fmt.Sprintf("go back failed: %v", err))
		}
		return schemas.Successf("Went back")

	case schemas.ActionWait:
		seconds := req.Seconds
		if seconds <= 0 {
			seconds = 1
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		select {
		case <-time.After(time.Duration(seconds) * time.Second):
		case <-ctx.Done():
			return schemas.Failure("wait aborted: " + ctx.Err().Error())
		}
		return schemas.Successf(fmt.Sprintf("Waited %d seconds", seconds))

	case schemas.ActionSwitchTab:
		if req.TabID == "" {
			return schemas.Failure("switch_tab requires a tab_id")
		}
		if err := e.driver.SwitchTab(req.TabID); err != nil {
			return schemas.Failure(fmt.Sprintf("switch tab failed: %v", err))
		}
		return schemas.Successf("Switched to tab " + req.TabID)

	case schemas.ActionCloseTab:
		if req.TabID == "" {
			return schemas.Failure("close_tab requires a tab_id")
		}
		if err := e.driver.CloseTab(req.TabID); err != nil {
			return schemas.Failure(fmt.Sprintf("close tab failed: %v", err))
		}
		return schemas.Successf("Closed tab " + req.TabID)
	}
	return schemas.Failure(fmt.Sprintf("unhandled host action %q", req.Kind))
}

// -- Page-Level Dispatch --

// pageOutcome is the uniform JSON shape every page-side snippet returns.
type pageOutcome struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Content string `json:"content"`
}

func (e *Executor) executePage(ctx context.Context, req schemas.ActionRequest, snap *schemas.GroundingSnapshot) schemas.ActionResult {
	selector, result := e.resolveSelector(req, snap)
	if result != nil {
		return *result
	}

	script, err := buildPageScript(req, selector)
	if err != nil {
		return schemas.Failure(err.Error())
	}

	outcome, err := e.dispatch(ctx, script)
	if err != nil {
		return schemas.Failure(err.Error())
	}
	if !outcome.OK {
		msg := outcome.Error
		if msg == "" {
			msg = "action failed"
		}
		return schemas.Failure(msg)
	}
	return schemas.Successf(outcome.Content)
}

// resolveSelector maps the request's index to a pass-scoped selector. Actions
// that can address the page itself (scroll, send_keys, find_text) tolerate a
// zero index.
func (e *Executor) resolveSelector(req schemas.ActionRequest, snap *schemas.GroundingSnapshot) (string, *schemas.ActionResult) {
	indexOptional := req.Kind == schemas.ActionScroll ||
		req.Kind == schemas.ActionSendKeys ||
		req.Kind == schemas.ActionFindText

	if req.Index == 0 {
		if indexOptional {
			return "", nil
		}
		fail := schemas.Failure(fmt.Sprintf("%s requires an element index", req.Kind))
		return "", &fail
	}

	if snap == nil {
		fail := schemas.Failure("element not found: no grounding snapshot available")
		return "", &fail
	}
	ref, ok := snap.IndexMap[req.Index]
	if !ok {
		fail := schemas.Failure(fmt.Sprintf("element not found: index %d is not in the current view", req.Index))
		return "", &fail
	}
	return grounding.SelectorFor(ref), nil
}

// dispatch evaluates a page script with the transient-failure retry policy:
// failures matching the transient signatures trigger bounded readiness
// polling and a retry of the same script, up to the configured ceiling.
func (e *Executor) dispatch(ctx context.Context, script string) (pageOutcome, error) {
	var outcome pageOutcome

	operation := func() error {
		raw, err := e.driver.Evaluate(ctx, script)
		if err != nil {
			if !isTransient(err) {
				return backoff.Permanent(err)
			}
			e.logger.Debug("Transient dispatch failure; polling for readiness.", zap.Error(err))
			if pollErr := e.awaitReady(ctx); pollErr != nil {
				return backoff.Permanent(fmt.Errorf("%v (page never became ready: %v)", err, pollErr))
			}
			return err
		}
		if err := json.Unmarshal(raw, &outcome); err != nil {
			return backoff.Permanent(fmt.Errorf("undecodable page response: %w", err))
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(e.cfg.MaxActionRetries)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return pageOutcome{}, fmt.Errorf("action dispatch failed: %w", err)
	}
	return outcome, nil
}

// awaitReady polls the page until it answers, bounded by the configured
// attempt count and interval.
func (e *Executor) awaitReady(ctx context.Context) error {
	attempts := e.cfg.ReadyPollAttempts
	if attempts <= 0 {
		attempts = 10
	}
	interval := e.cfg.ReadyPollInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := e.driver.Ping(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("readiness polling exhausted: %w", lastErr)
}

func isTransient(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, sig := range transientSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
