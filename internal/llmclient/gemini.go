// internal/llmclient/gemini.go
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

// -- Gemini generateContent Request/Response Structures --

type geminiFunctionCall struct {
	Name string             `json:"name"`
	Args stdjson.RawMessage `json:"args"`
}

type geminiFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiFunctionDecl struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  stdjson.RawMessage `json:"parameters"`
}

type geminiToolSet struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations"`
}

type geminiGenerationConfig struct {
	Temperature     float32 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequestPayload struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"system_instruction,omitempty"`
	Tools             []geminiToolSet        `json:"tools,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponsePayload struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

type geminiAdapter struct{}

func (a *geminiAdapter) buildRequest(ctx context.Context, cfg config.ModelConfig, systemPrompt string, messages []schemas.ChatMessage, tools []schemas.ToolDef) (*http.Request, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent", cfg.Model)
	}

	var contents []geminiContent
	for _, msg := range messages {
		switch {
		case len(msg.ToolResults) > 0:
			// Gemini correlates results by function name, not call id; the id
			// encodes the name (see parseResponse).
			c := geminiContent{Role: "user"}
			for _, res := range msg.ToolResults {
				c.Parts = append(c.Parts, geminiPart{
					FunctionResponse: &geminiFunctionResponse{
						Name: functionNameFromCallID(res.ToolCallID),
						Response: map[string]any{
							"result":   res.Content,
							"is_error": res.IsError,
						},
					},
				})
			}
			contents = append(contents, c)
		case len(msg.ToolCalls) > 0:
			c := geminiContent{Role: "model"}
			if msg.Text != "" {
				c.Parts = append(c.Parts, geminiPart{Text: msg.Text})
			}
			for _, call := range msg.ToolCalls {
				c.Parts = append(c.Parts, geminiPart{
					FunctionCall: &geminiFunctionCall{Name: call.Name, Args: call.Input},
				})
			}
			contents = append(contents, c)
		default:
			role := "user"
			if msg.Role == schemas.RoleAssistant {
				role = "model"
			}
			contents = append(contents, geminiContent{
				Role:  role,
				Parts: []geminiPart{{Text: msg.Text}},
			})
		}
	}

	payload := geminiRequestPayload{
		Contents: contents,
		SystemInstruction: &geminiContent{
			Parts: []geminiPart{{Text: systemPrompt}},
		},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     cfg.Temperature,
			MaxOutputTokens: cfg.MaxTokens,
		},
	}
	if len(tools) > 0 {
		set := geminiToolSet{}
		for _, tool := range tools {
			set.FunctionDeclarations = append(set.FunctionDeclarations, geminiFunctionDecl{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			})
		}
		payload.Tools = []geminiToolSet{set}
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
	req.Header.Set("x-goog-api-key", cfg.APIKey)
	return req, nil
}

func (a *geminiAdapter) parseResponse(logger *zap.Logger, body []byte) (schemas.ModelTurn, error) {
	var payload geminiResponsePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return schemas.ModelTurn{}, err
	}
	if len(payload.Candidates) == 0 {
		return schemas.ModelTurn{}, fmt.Errorf("response contained no candidates")
	}

	candidate := payload.Candidates[0]
	turn := schemas.ModelTurn{
		Usage: schemas.TokenUsage{
			Prompt:     payload.UsageMetadata.PromptTokenCount,
			Completion: payload.UsageMetadata.CandidatesTokenCount,
			Total:      payload.UsageMetadata.TotalTokenCount,
		},
	}

	var calls []schemas.ToolCall
	var firstText, allText string
	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			if firstText == "" {
				firstText = part.Text
			}
			if allText != "" {
				allText += "\n"
			}
			allText += part.Text
		}
		if part.FunctionCall != nil {
			input := part.FunctionCall.Args
			if len(input) == 0 {
				input = stdjson.RawMessage("{}")
			}
			// Gemini has no call ids; synthesize one that round-trips the
			// function name for the result message.
			calls = append(calls, schemas.ToolCall{
				ID:    syntheticCallID(part.FunctionCall.Name, len(calls)),
				Name:  part.FunctionCall.Name,
				Input: input,
			})
		}
	}

	switch {
	case len(calls) > 0:
		// Gemini reports STOP even for function-call turns; the presence of
		// function calls is the tool-use signal.
		turn.StopReason = schemas.StopToolUse
		turn.Thinking = allText
		turn.ToolCalls = calls
	case candidate.FinishReason == "MAX_TOKENS":
		turn.StopReason = schemas.StopMaxTokens
		turn.Text = firstText
	default:
		turn.StopReason = schemas.StopEndTurn
		turn.Text = firstText
	}
	return turn, nil
}
