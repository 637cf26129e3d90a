// internal/llmclient/anthropic.go
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

const anthropicVersion = "2023-06-01"

// -- Anthropic Messages API Request/Response Structures --

// anthropicBlock is a content block in either direction. Which fields are set
// depends on Type: "text", "tool_use", or "tool_result".
type anthropicBlock struct {
	Type      string             `json:"type"`
	Text      string             `json:"text,omitempty"`
	ID        string             `json:"id,omitempty"`
	Name      string             `json:"name,omitempty"`
	Input     stdjson.RawMessage `json:"input,omitempty"`
	ToolUseID string             `json:"tool_use_id,omitempty"`
	Content   string             `json:"content,omitempty"`
	IsError   bool               `json:"is_error,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicTool struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	InputSchema stdjson.RawMessage `json:"input_schema"`
}

type anthropicRequestPayload struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float32            `json:"temperature,omitempty"`
}

type anthropicResponsePayload struct {
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicAdapter struct{}

func (a *anthropicAdapter) buildRequest(ctx context.Context, cfg config.ModelConfig, systemPrompt string, messages []schemas.ChatMessage, tools []schemas.ToolDef) (*http.Request, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://api.anthropic.com/v1/messages"
	}

	var wire []anthropicMessage
	for _, msg := range messages {
		switch {
		case len(msg.ToolResults) > 0:
			// Tool results ride in a user-role message as tool_result blocks.
			m := anthropicMessage{Role: "user"}
			for _, res := range msg.ToolResults {
				m.Content = append(m.Content, anthropicBlock{
					Type:      "tool_result",
					ToolUseID: res.ToolCallID,
					Content:   res.Content,
					IsError:   res.IsError,
				})
			}
			wire = append(wire, m)
		case len(msg.ToolCalls) > 0:
			m := anthropicMessage{Role: "assistant"}
			if msg.Text != "" {
				m.Content = append(m.Content, anthropicBlock{Type: "text", Text: msg.Text})
			}
			for _, call := range msg.ToolCalls {
				m.Content = append(m.Content, anthropicBlock{
					Type:  "tool_use",
					ID:    call.ID,
					Name:  call.Name,
					Input: call.Input,
				})
			}
			wire = append(wire, m)
		default:
			wire = append(wire, anthropicMessage{
				Role:    string(msg.Role),
				Content: []anthropicBlock{{Type: "text", Text: msg.Text}},
			})
		}
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	payload := anthropicRequestPayload{
		Model:       cfg.Model,
		System:      systemPrompt,
		Messages:    wire,
		MaxTokens:   maxTokens,
		Temperature: cfg.Temperature,
	}
	for _, tool := range tools {
		payload.Tools = append(payload.Tools, anthropicTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.Parameters,
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
	req.Header.Set("x-api-key", cfg.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	return req, nil
}

func (a *anthropicAdapter) parseResponse(logger *zap.Logger, body []byte) (schemas.ModelTurn, error) {
	var payload anthropicResponsePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return schemas.ModelTurn{}, err
	}

	turn := schemas.ModelTurn{
		Usage: schemas.TokenUsage{
			Prompt:     payload.Usage.InputTokens,
			Completion: payload.Usage.OutputTokens,
			Total:      payload.Usage.InputTokens + payload.Usage.OutputTokens,
		},
	}

	var firstText string
	var allText string
	for _, block := range payload.Content {
		if block.Type != "text" {
			continue
		}
		if firstText == "" {
			firstText = block.Text
		}
		if allText != "" {
			allText += "\n"
		}
		allText += block.Text
	}

	switch payload.StopReason {
	case "tool_use":
		turn.StopReason = schemas.StopToolUse
		turn.Thinking = allText
		for _, block := range payload.Content {
			if block.Type != "tool_use" {
				continue
			}
			input := block.Input
			if len(input) == 0 {
				input = stdjson.RawMessage("{}")
			}
			turn.ToolCalls = append(turn.ToolCalls, schemas.ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: input,
			})
		}
	case "max_tokens":
		turn.StopReason = schemas.StopMaxTokens
		turn.Text = firstText
	default:
		turn.StopReason = schemas.StopEndTurn
		turn.Text = firstText
	}

	if turn.StopReason == schemas.StopToolUse && len(turn.ToolCalls) == 0 {
		logger.Warn("Tool-use stop reason with no decodable tool calls.")
	}
	return turn, nil
}
