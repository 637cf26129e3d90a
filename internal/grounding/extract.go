// internal/grounding/extract.go
package grounding

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// ScriptRunner evaluates a JavaScript expression in the current page and
// returns the JSON-encoded result. The browser session implements this.
type ScriptRunner interface {
	Evaluate(ctx context.Context, expression string) ([]byte, error)
}

// Extractor produces grounding snapshots of the page driven by its runner.
// Each Extract call is a fresh pass: a new pass id, a wholesale rebuilt index
// map, and re-tagged elements. Snapshots from earlier passes stay usable as
// values but their indices no longer resolve.
type Extractor struct {
	runner ScriptRunner
	logger *zap.Logger
}

func NewExtractor(runner ScriptRunner, logger *zap.Logger) *Extractor {
	return &Extractor{
		runner: runner,
		logger: logger.Named("grounding"),
	}
}

// Extract walks the live page and returns its indexed textual representation.
// It is best effort over page content: elements that vanish mid-walk are
// simply absent. It returns an error only when the page itself is unreachable
// or returns an undecodable payload.
func (e *Extractor) Extract(ctx context.Context) (*schemas.GroundingSnapshot, error) {
	passID := uuid.NewString()

	raw, err := e.runner.Evaluate(ctx, fmt.Sprintf(walkerJS, strconv.Quote(passID)))
	if err != nil {
		return nil, fmt.Errorf("grounding walker failed: %w", err)
	}

	var payload rawPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode grounding payload: %w", err)
	}

	root, indexMap, interactiveCount := build(passID, &payload)
	snap := &schemas.GroundingSnapshot{
		PassID:           passID,
		URL:              payload.URL,
		Title:            payload.Title,
		SerializedText:   serialize(root),
		IndexMap:         indexMap,
		InteractiveCount: interactiveCount,
	}

	e.logger.Debug("Extraction pass complete.",
		zap.String("pass_id", passID),
		zap.String("url", snap.URL),
		zap.Int("indexed", len(indexMap)),
		zap.Int("interactive", interactiveCount),
	)
	return snap, nil
}

// SelectorFor builds the CSS selector that resolves a grounding index to its
// live element. The pass scoping makes resolution of an index from an earlier
// pass fail with no match, which callers must report as element-not-found.
func SelectorFor(ref schemas.ElementRef) string {
	return fmt.Sprintf(`[data-wp-ref=%q][data-wp-pass=%q]`, strconv.Itoa(ref.Ref), ref.Pass)
}
