// internal/grounding/extract_test.go
package grounding

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

type fakeRunner struct {
	payload string
	err     error
	lastJS  string
}

func (f *fakeRunner) Evaluate(_ context.Context, expression string) ([]byte, error) {
	f.lastJS = expression
	if f.err != nil {
		return nil, f.err
	}
	return []byte(f.payload), nil
}

const samplePayload = `{
	"url": "https://example.com/login",
	"title": "Login",
	"viewport": {"w": 1280, "h": 800},
	"root": {
		"tag": "body",
		"attrs": {},
		"rect": {"x": 0, "y": 0, "w": 1280, "h": 800},
		"style": {"display": "block", "visibility": "visible", "opacity": 1},
		"scroll": {"sw": 1280, "sh": 800, "cw": 1280, "ch": 800},
		"ref": 1,
		"children": [
			{
				"tag": "input",
				"attrs": {"name": "user"},
				"rect": {"x": 10, "y": 10, "w": 200, "h": 30},
				"style": {"display": "block", "visibility": "visible", "opacity": 1},
				"scroll": {},
				"ref": 2,
				"children": []
			},
			{
				"tag": "button",
				"text": "Sign in",
				"attrs": {},
				"rect": {"x": 10, "y": 50, "w": 100, "h": 30},
				"style": {"display": "block", "visibility": "visible", "opacity": 1},
				"scroll": {},
				"ref": 3,
				"children": []
			}
		]
	}
}`

func TestExtractBuildsSnapshot(t *testing.T) {
	runner := &fakeRunner{payload: samplePayload}
	ex := NewExtractor(runner, zap.NewNop())

	snap, err := ex.Extract(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/login", snap.URL)
	assert.Equal(t, "Login", snap.Title)
	assert.NotEmpty(t, snap.PassID)
	assert.Equal(t, 2, snap.InteractiveCount)
	require.Len(t, snap.IndexMap, 2)
	assert.Equal(t, 2, snap.IndexMap[1].Ref)
	assert.Equal(t, 3, snap.IndexMap[2].Ref)
	assert.Equal(t, snap.PassID, snap.IndexMap[1].Pass)

	lines := strings.Split(snap.SerializedText, "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "[1]<input name=user/>", lines[0])
	assert.Equal(t, "[2]<button>Sign in</button>", lines[1])

	// The pass id must be embedded into the injected script so tagging is
	// scoped to this pass.
	assert.Contains(t, runner.lastJS, snap.PassID)
}

func TestExtractFreshPassIDsPerCall(t *testing.T) {
	runner := &fakeRunner{payload: samplePayload}
	ex := NewExtractor(runner, zap.NewNop())

	first, err := ex.Extract(context.Background())
	require.NoError(t, err)
	second, err := ex.Extract(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, first.PassID, second.PassID)
	// Same page, same indices and text: extraction is a pure function of
	// page state, pass identity aside.
	assert.Equal(t, first.SerializedText, second.SerializedText)
	assert.Equal(t, len(first.IndexMap), len(second.IndexMap))
}

func TestExtractRunnerErrorPropagates(t *testing.T) {
	runner := &fakeRunner{err: errors.New("target crashed")}
	ex := NewExtractor(runner, zap.NewNop())

	_, err := ex.Extract(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target crashed")
}

func TestExtractUndecodablePayload(t *testing.T) {
	runner := &fakeRunner{payload: "{not json"}
	ex := NewExtractor(runner, zap.NewNop())

	_, err := ex.Extract(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}

func TestSelectorForScopesToPass(t *testing.T) {
	sel := SelectorFor(schemas.ElementRef{Ref: 7, Pass: "pass-abc"})
	assert.Equal(t, `[data-wp-ref="7"][data-wp-pass="pass-abc"]`, sel)
}
