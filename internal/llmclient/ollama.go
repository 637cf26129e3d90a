// internal/llmclient/ollama.go
package llmclient

import (
	"bytes"
	"context"
	stdjson "encoding/json"
	"fmt"
	"net/http"
	"strings"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
)

// -- Ollama /api/chat Request/Response Structures --

type ollamaFunctionCall struct {
	Name string `json:"name"`
	// Arguments arrive as a structured object, unlike the OpenAI string form.
	Arguments stdjson.RawMessage `json:"arguments"`
}

type ollamaToolCall struct {
	Function ollamaFunctionCall `json:"function"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaOptions struct {
	Temperature float32 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaRequestPayload struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Tools    []openAITool    `json:"tools,omitempty"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options,omitempty"`
}

type ollamaResponsePayload struct {
	Message         ollamaMessage `json:"message"`
	DoneReason      string        `json:"done_reason"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

type ollamaAdapter struct{}

func (a *ollamaAdapter) buildRequest(ctx context.Context, cfg config.ModelConfig, systemPrompt string, messages []schemas.ChatMessage, tools []schemas.ToolDef) (*http.Request, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "http://127.0.0.1:11434"
	}
	endpoint = strings.TrimSuffix(endpoint, "/") + "/api/chat"

	wire := []ollamaMessage{{Role: "system", Content: systemPrompt}}
	for _, msg := range messages {
		switch {
		case len(msg.ToolResults) > 0:
			for _, res := range msg.ToolResults {
				wire = append(wire, ollamaMessage{Role: "tool", Content: res.Content})
			}
		case len(msg.ToolCalls) > 0:
			m := ollamaMessage{Role: "assistant", Content: msg.Text}
			for _, call := range msg.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, ollamaToolCall{
					Function: ollamaFunctionCall{Name: call.Name, Arguments: call.Input},
				})
			}
			wire = append(wire, m)
		default:
			wire = append(wire, ollamaMessage{Role: string(msg.Role), Content: msg.Text})
		}
	}

	payload := ollamaRequestPayload{
		Model:    cfg.Model,
		Messages: wire,
		Stream:   false,
		Options: ollamaOptions{
			Temperature: cfg.Temperature,
			NumPredict:  cfg.MaxTokens,
		},
	}
	// Ollama consumes the OpenAI tool declaration shape unchanged.
	for _, tool := range tools {
		payload.Tools = append(payload.Tools, openAITool{
			Type: "function",
			Function: openAIFunctionDef{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (a *ollamaAdapter) parseResponse(logger *zap.Logger, body []byte) (schemas.ModelTurn, error) {
	var payload ollamaResponsePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return schemas.ModelTurn{}, err
	}

	turn := schemas.ModelTurn{
		Usage: schemas.TokenUsage{
			Prompt:     payload.PromptEvalCount,
			Completion: payload.EvalCount,
			Total:      payload.PromptEvalCount + payload.EvalCount,
		},
	}

	switch {
	case len(payload.Message.ToolCalls) > 0:
		// Tool use is signaled by the calls themselves; done_reason stays
		// "stop" on most Ollama versions.
		turn.StopReason = schemas.StopToolUse
		turn.Thinking = payload.Message.Content
		for i, call := range payload.Message.ToolCalls {
			input := call.Function.Arguments
			if len(input) == 0 {
				input = stdjson.RawMessage("{}")
			}
			turn.ToolCalls = append(turn.ToolCalls, schemas.ToolCall{
				ID:    syntheticCallID(call.Function.Name, i),
				Name:  call.Function.Name,
				Input: input,
			})
		}
	case payload.DoneReason == "length":
		turn.StopReason = schemas.StopMaxTokens
		turn.Text = payload.Message.Content
	default:
		turn.StopReason = schemas.StopEndTurn
		turn.Text = payload.Message.Content
	}
	return turn, nil
}
