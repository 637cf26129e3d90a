// internal/conversation/tokens.go
package conversation

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// charsPerToken is the deterministic estimator ratio. Trimming decisions use
// this estimate exclusively so behavior never depends on tokenizer
// availability or version.
const charsPerToken = 4

// estimateText is the token cost estimate used for all budget accounting.
func estimateText(text string) int {
	return len(text) / charsPerToken
}

// estimateMessage sums the estimate over every text-bearing field of a turn.
func estimateMessage(msg schemas.ChatMessage) int {
	total := estimateText(msg.Text)
	for _, call := range msg.ToolCalls {
		total += estimateText(call.Name) + estimateText(string(call.Input))
	}
	for _, res := range msg.ToolResults {
		total += estimateText(res.Content)
	}
	return total
}

// exactCounter wraps a real tokenizer for telemetry. The encoder loads
// lazily and may fail (offline environments); counting then falls back to
// the estimate so telemetry degrades instead of erroring.
type exactCounter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

func (c *exactCounter) count(text string) int {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			c.enc = enc
		}
	})
	if c.enc == nil {
		return estimateText(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}
