// internal/grounding/build_test.go
package grounding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// visibleRaw returns a plainly visible raw node centered in a 1280x800
// viewport; tests mutate it from there.
func visibleRaw(tag string, ref int) *rawNode {
	return &rawNode{
		Tag:   tag,
		Attrs: map[string]string{},
		Rect:  rawRect{X: 100, Y: 100, W: 200, H: 40},
		Style: rawStyle{Display: "block", Visibility: "visible", Opacity: 1, Cursor: "auto"},
		Ref:   ref,
	}
}

func payloadWith(root *rawNode) *rawPayload {
	p := &rawPayload{Root: root}
	p.Viewport.W = 1280
	p.Viewport.H = 800
	return p
}

func collectIndexed(root *schemas.GroundingNode) []*schemas.GroundingNode {
	var out []*schemas.GroundingNode
	var walk func(n *schemas.GroundingNode)
	walk = func(n *schemas.GroundingNode) {
		if n == nil {
			return
		}
		if n.Index > 0 {
			out = append(out, n)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(root)
	return out
}

func TestBuildIndicesContiguousFromOne(t *testing.T) {
	body := visibleRaw("body", 1)
	for i := 0; i < 5; i++ {
		btn := visibleRaw("button", 10+i)
		body.Children = append(body.Children, btn)
	}
	// Interleave non-actionable structure.
	body.Children = append(body.Children, visibleRaw("div", 99))

	root, indexMap, interactive := build("pass-1", payloadWith(body))
	require.NotNil(t, root)

	indexed := collectIndexed(root)
	require.Len(t, indexed, 5)
	assert.Equal(t, 5, interactive)
	for i, n := range indexed {
		assert.Equal(t, i+1, n.Index, "indices must be contiguous from 1 in document order")
		assert.True(t, n.IsVisible, "every indexed node must be visible")
	}
	assert.Len(t, indexMap, 5)
	for idx, ref := range indexMap {
		assert.Positive(t, idx)
		assert.Equal(t, "pass-1", ref.Pass)
		assert.Positive(t, ref.Ref)
	}
}

func TestBuildParentIndexedBeforeChild(t *testing.T) {
	form := visibleRaw("form", 1)
	form.Attrs["role"] = "searchbox"
	input := visibleRaw("input", 2)
	form.Children = append(form.Children, input)

	root, _, _ := build("p", payloadWith(form))
	require.NotNil(t, root)
	assert.Equal(t, 1, root.Index)
	require.Len(t, root.Children, 1)
	assert.Equal(t, 2, root.Children[0].Index)
}

func TestVisibilityPolicy(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*rawNode)
		visible bool
	}{
		{"plain visible", func(n *rawNode) {}, true},
		{"display none", func(n *rawNode) { n.Style.Display = "none" }, false},
		{"visibility hidden", func(n *rawNode) { n.Style.Visibility = "hidden" }, false},
		{"zero opacity", func(n *rawNode) { n.Style.Opacity = 0 }, false},
		{"zero box", func(n *rawNode) { n.Rect.W, n.Rect.H = 0, 0 }, false},
		{"zero box file input", func(n *rawNode) {
			n.Tag = "input"
			n.Attrs["type"] = "file"
			n.Rect.W, n.Rect.H = 0, 0
		}, true},
		{"just below fold", func(n *rawNode) { n.Rect.Y = 1100 }, true},
		{"far below fold", func(n *rawNode) { n.Rect.Y = 2000 }, false},
		{"just left of viewport", func(n *rawNode) { n.Rect.X = -500 }, true},
		{"far left of viewport", func(n *rawNode) { n.Rect.X = -900 }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n := visibleRaw("button", 1)
			tc.mutate(n)

			root, indexMap, _ := build("p", payloadWith(n))
			if tc.visible {
				require.NotNil(t, root)
				assert.True(t, root.IsVisible)
				assert.Len(t, indexMap, 1)
			} else if root != nil {
				assert.False(t, root.IsVisible)
				assert.Empty(t, indexMap, "invisible nodes must not be indexed")
			}
		})
	}
}

func TestInteractivityPolicy(t *testing.T) {
	cases := []struct {
		name        string
		mutate      func(*rawNode)
		interactive bool
	}{
		{"anchor tag", func(n *rawNode) { n.Tag = "a" }, true},
		{"plain div", func(n *rawNode) {}, false},
		{"aria role", func(n *rawNode) { n.Attrs["role"] = "Button" }, true},
		{"widget role", func(n *rawNode) { n.Attrs["role"] = "searchbox" }, true},
		{"landmark role", func(n *rawNode) { n.Attrs["role"] = "search" }, false},
		{"onclick attr", func(n *rawNode) { n.Attrs["onclick"] = "go()" }, true},
		{"pointer cursor", func(n *rawNode) { n.Style.Cursor = "pointer" }, true},
		{"contenteditable", func(n *rawNode) { n.Attrs["contenteditable"] = "true" }, true},
		{"contenteditable empty", func(n *rawNode) { n.Attrs["contenteditable"] = "" }, true},
		{"tabindex zero", func(n *rawNode) { n.Attrs["tabindex"] = "0" }, true},
		{"negative tabindex", func(n *rawNode) { n.Attrs["tabindex"] = "-1" }, false},
		{"hidden input", func(n *rawNode) {
			n.Tag = "input"
			n.Attrs["type"] = "hidden"
		}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n := visibleRaw("div", 1)
			tc.mutate(n)
			assert.Equal(t, tc.interactive, isInteractive(n))
		})
	}
}

func TestScrollabilityPolicy(t *testing.T) {
	n := visibleRaw("div", 1)
	n.Style.OverflowY = "auto"
	n.Scroll = rawScroll{ScrollHeight: 1200, ClientHeight: 300, ScrollWidth: 200, ClientWidth: 200}
	assert.True(t, isScrollable(n))

	// Overflow visible never scrolls regardless of extent.
	n.Style.OverflowY = "visible"
	assert.False(t, isScrollable(n))

	// Sub-slack difference is rounding noise, not scrollability.
	n.Style.OverflowY = "scroll"
	n.Scroll.ScrollHeight = n.Scroll.ClientHeight + 1
	assert.False(t, isScrollable(n))
}

func TestKeepRulePrunesInertSubtrees(t *testing.T) {
	body := visibleRaw("body", 1)

	hiddenWrap := visibleRaw("div", 2)
	hiddenWrap.Style.Display = "none"
	hiddenChild := visibleRaw("span", 3)
	hiddenChild.Style.Display = "none"
	hiddenWrap.Children = append(hiddenWrap.Children, hiddenChild)

	keptWrap := visibleRaw("div", 4)
	keptWrap.Style.Display = "none"
	keptWrap.Children = append(keptWrap.Children, visibleRaw("button", 5))

	body.Children = append(body.Children, hiddenWrap, keptWrap)

	root, indexMap, _ := build("p", payloadWith(body))
	require.NotNil(t, root)
	// The fully hidden subtree is gone; the hidden wrapper with a visible
	// button survives as a holder.
	require.Len(t, root.Children, 1)
	assert.False(t, root.Children[0].IsVisible)
	require.Len(t, root.Children[0].Children, 1)
	assert.Equal(t, "button", root.Children[0].Children[0].Tag)
	assert.Len(t, indexMap, 1)
}

func TestSelectHintsFoldedIntoAttrs(t *testing.T) {
	sel := visibleRaw("select", 1)
	sel.Options = []string{"Alpha", "Beta", "Gamma", "Delta", "Epsilon", "Zeta"}
	sel.SelectedText = "Beta"

	root, _, _ := build("p", payloadWith(sel))
	require.NotNil(t, root)
	assert.Equal(t, "Beta", root.Attrs["data-wp-selected"])
	assert.Equal(t, "Alpha|Beta|Gamma|Delta(+2 more)", root.Attrs["data-wp-options"])
}
