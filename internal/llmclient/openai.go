// internal/llmclient/openai.go
package llmclient

import (
	"bytes"
	"context"
	stdjson "encoding/json"
	"fmt"
	"net/http"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
)

// -- OpenAI Chat Completions Request/Response Structures --

type openAIFunctionCall struct {
	Name string `json:"name"`
	// Arguments arrive as a JSON-encoded string, not an object.
	Arguments string `json:"arguments"`
}

type openAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIFunctionCall `json:"function"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content,omitempty"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAIFunctionDef struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  stdjson.RawMessage `json:"parameters"`
}

type openAITool struct {
	Type     string            `json:"type"`
	Function openAIFunctionDef `json:"function"`
}

type openAIRequestPayload struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Tools       []openAITool    `json:"tools,omitempty"`
	Temperature float32         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openAIResponsePayload struct {
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIAdapter struct{}

func (a *openAIAdapter) buildRequest(ctx context.Context, cfg config.ModelConfig, systemPrompt string, messages []schemas.ChatMessage, tools []schemas.ToolDef) (*http.Request, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1/chat/completions"
	}

	wire := []openAIMessage{{Role: "system", Content: systemPrompt}}
	for _, msg := range messages {
		switch {
		case len(msg.ToolResults) > 0:
			// One tool-role message per result, correlated by call id.
			for _, res := range msg.ToolResults {
				wire = append(wire, openAIMessage{
					Role:       "tool",
					ToolCallID: res.ToolCallID,
					Content:    res.Content,
				})
			}
		case len(msg.ToolCalls) > 0:
			m := openAIMessage{Role: string(msg.Role), Content: msg.Text}
			for _, call := range msg.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, openAIToolCall{
					ID:   call.ID,
					Type: "function",
					Function: openAIFunctionCall{
						Name:      call.Name,
						Arguments: string(call.Input),
					},
				})
			}
			wire = append(wire, m)
		default:
			wire = append(wire, openAIMessage{Role: string(msg.Role), Content: msg.Text})
		}
	}

	payload := openAIRequestPayload{
		Model:       cfg.Model,
		Messages:    wire,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}
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
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	return req, nil
}

func (a *openAIAdapter) parseResponse(logger *zap.Logger, body []byte) (schemas.ModelTurn, error) {
	var payload openAIResponsePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return schemas.ModelTurn{}, err
	}
	if len(payload.Choices) == 0 {
		return schemas.ModelTurn{}, fmt.Errorf("response contained no choices")
	}

	choice := payload.Choices[0]
	turn := schemas.ModelTurn{
		Usage: schemas.TokenUsage{
			Prompt:     payload.Usage.PromptTokens,
			Completion: payload.Usage.CompletionTokens,
			Total:      payload.Usage.TotalTokens,
		},
	}

	switch choice.FinishReason {
	case "tool_calls":
		turn.StopReason = schemas.StopToolUse
		turn.Thinking = choice.Message.Content
		for _, call := range choice.Message.ToolCalls {
			input, ok := decodeToolArguments(logger, call.Function.Name, call.Function.Arguments)
			if !ok {
				continue
			}
			turn.ToolCalls = append(turn.ToolCalls, schemas.ToolCall{
				ID:    call.ID,
				Name:  call.Function.Name,
				Input: input,
			})
		}
	case "length":
		turn.StopReason = schemas.StopMaxTokens
		turn.Text = choice.Message.Content
	default:
		turn.StopReason = schemas.StopEndTurn
		turn.Text = choice.Message.Content
	}
	return turn, nil
}
