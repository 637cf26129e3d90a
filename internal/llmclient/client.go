// internal/llmclient/client.go
package llmclient

import (
	"context"
	stdjson "encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
)

// providerAdapter is the per-backend mapping table: request shaping on the
// way out, finish-reason and tool-call normalization on the way back. Adapters
// hold no state and carry no policy beyond the mapping itself.
type providerAdapter interface {
	buildRequest(ctx context.Context, cfg config.ModelConfig, systemPrompt string, messages []schemas.ChatMessage, tools []schemas.ToolDef) (*http.Request, error)
	parseResponse(logger *zap.Logger, body []byte) (schemas.ModelTurn, error)
}

// Client implements schemas.LLMClient over raw HTTP for all supported
// providers. It fails closed: every transport, status, or decode failure
// becomes a turn with StopReason error. Retry policy deliberately does not
// live here; the step loop owns what happens after an error turn.
type Client struct {
	cfg     config.ModelConfig
	adapter providerAdapter
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// HasValidCredentials reports whether a model is callable as configured.
// Local backends need an endpoint rather than a key.
func HasValidCredentials(m config.ModelConfig) bool {
	switch m.Provider {
	case config.ProviderOllama:
		return m.Model != ""
	case config.ProviderOpenAI, config.ProviderAnthropic, config.ProviderGemini:
		return m.Model != "" && m.APIKey != ""
	default:
		return false
	}
}

// New builds a client for the active model in cfg. It fails fast on
// configuration problems so a task never starts against an uncallable model.
func New(cfg config.LLMConfig, logger *zap.Logger) (*Client, error) {
	model, ok := cfg.Active()
	if !ok {
		return nil, fmt.Errorf("no active model configured")
	}
	if !HasValidCredentials(model) {
		return nil, fmt.Errorf("model %q is missing credentials", cfg.ActiveModel)
	}

	var adapter providerAdapter
	switch model.Provider {
	case config.ProviderOpenAI:
		adapter = &openAIAdapter{}
	case config.ProviderAnthropic:
		adapter = &anthropicAdapter{}
	case config.ProviderGemini:
		adapter = &geminiAdapter{}
	case config.ProviderOllama:
		adapter = &ollamaAdapter{}
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", model.Provider)
	}

	timeout := model.APITimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 30
	}

	return &Client{
		cfg:     model,
		adapter: adapter,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
		logger:  logger.Named("llm_client").With(zap.String("provider", string(model.Provider))),
	}, nil
}

// Call sends one conversation to the configured backend and returns the
// normalized turn. It never returns a Go error for provider failures.
func (c *Client) Call(ctx context.Context, systemPrompt string, messages []schemas.ChatMessage, tools []schemas.ToolDef) schemas.ModelTurn {
	if err := c.limiter.Wait(ctx); err != nil {
		return schemas.ErrorTurn(fmt.Sprintf("rate limit wait aborted: %v", err))
	}

	req, err := c.adapter.buildRequest(ctx, c.cfg, systemPrompt, messages, tools)
	if err != nil {
		return schemas.ErrorTurn(fmt.Sprintf("failed to build provider request: %v", err))
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("Provider request failed.", zap.Error(err))
		return schemas.ErrorTurn(fmt.Sprintf("provider request failed: %v", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return schemas.ErrorTurn(fmt.Sprintf("failed to read provider response: %v", err))
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("Provider returned error status.",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", truncateBody(body)),
		)
		return schemas.ErrorTurn(fmt.Sprintf("provider error: status %d: %s", resp.StatusCode, truncateBody(body)))
	}

	turn, err := c.adapter.parseResponse(c.logger, body)
	if err != nil {
		return schemas.ErrorTurn(fmt.Sprintf("failed to decode provider response: %v", err))
	}

	c.logger.Info("Model turn complete.",
		zap.Duration("duration", time.Since(start)),
		zap.String("stop_reason", string(turn.StopReason)),
		zap.Int("tool_calls", len(turn.ToolCalls)),
		zap.Int("total_tokens", turn.Usage.Total),
	)
	return turn
}

// decodeToolArguments validates string-encoded tool arguments and returns
// them as structured input. A decode failure drops that single call, logged,
// without failing the turn.
func decodeToolArguments(logger *zap.Logger, name, raw string) (stdjson.RawMessage, bool) {
	if raw == "" {
		return stdjson.RawMessage("{}"), true
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		logger.Warn("Dropping tool call with undecodable arguments.",
			zap.String("tool", name),
			zap.Error(err),
		)
		return nil, false
	}
	return stdjson.RawMessage(raw), true
}

// syntheticCallID builds a correlation id for backends that do not issue
// their own (Gemini, Ollama). The function name is embedded so the paired
// result message can be attributed without extra bookkeeping.
func syntheticCallID(name string, n int) string {
	return fmt.Sprintf("call_%s_%d", name, n)
}

func functionNameFromCallID(id string) string {
	trimmed := strings.TrimPrefix(id, "call_")
	if i := strings.LastIndex(trimmed, "_"); i > 0 {
		return trimmed[:i]
	}
	return trimmed
}

func truncateBody(body []byte) []byte {
	const max = 2048
	if len(body) > max {
		return body[:max]
	}
	return body
}
