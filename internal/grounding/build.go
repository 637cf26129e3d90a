// internal/grounding/build.go
package grounding

import (
	"strconv"
	"strings"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// viewportMargin extends the visibility check beyond the literal viewport so
// elements just off-screen (one scroll away) are still exposed to the model.
const viewportMargin = 500.0

var interactiveTags = map[string]bool{
	"a":        true,
	"button":   true,
	"input":    true,
	"select":   true,
	"textarea": true,
	"option":   true,
	"summary":  true,
	"label":    true,
	"embed":    true,
}

var interactiveRoles = map[string]bool{
	"button":           true,
	"link":             true,
	"checkbox":         true,
	"radio":            true,
	"menuitem":         true,
	"menuitemcheckbox": true,
	"menuitemradio":    true,
	"tab":              true,
	"switch":           true,
	"option":           true,
	"combobox":         true,
	"listbox":          true,
	"searchbox":        true,
	"textbox":          true,
	"slider":           true,
	"spinbutton":       true,
	"treeitem":         true,
}

// clickHandlerAttrs are inline-handler attributes that mark an element as
// interactive even when its tag and role do not.
var clickHandlerAttrs = []string{
	"onclick", "onmousedown", "onmouseup", "ontouchstart", "ontouchend",
}

// builder turns one walker payload into the policy-applied grounding tree.
// Indices are assigned during the build in document order, starting at 1.
type builder struct {
	passID    string
	viewportW float64
	viewportH float64

	nextIndex        int
	indexMap         map[int]schemas.ElementRef
	interactiveCount int
}

// build applies the full keep/visibility/interactivity policy to a raw
// payload. The returned tree contains only kept nodes.
func build(passID string, payload *rawPayload) (*schemas.GroundingNode, map[int]schemas.ElementRef, int) {
	b := &builder{
		passID:    passID,
		viewportW: payload.Viewport.W,
		viewportH: payload.Viewport.H,
		nextIndex: 1,
		indexMap:  make(map[int]schemas.ElementRef),
	}
	root := b.visit(payload.Root)
	return root, b.indexMap, b.interactiveCount
}

// visit returns the policy-applied node, or nil when neither the node nor any
// descendant is worth keeping.
func (b *builder) visit(raw *rawNode) *schemas.GroundingNode {
	if raw == nil {
		return nil
	}

	node := &schemas.GroundingNode{
		Tag:           raw.Tag,
		Attrs:         attrsWithHints(raw),
		Text:          raw.Text,
		IsVisible:     b.isVisible(raw),
		IsInteractive: isInteractive(raw),
		IsScrollable:  isScrollable(raw),
		Bounds: &schemas.Rect{
			X: raw.Rect.X, Y: raw.Rect.Y,
			Width: raw.Rect.W, Height: raw.Rect.H,
		},
	}

	// Indices follow document order, so the parent is numbered before its
	// children are visited. Only visible nodes the model can act on qualify.
	if node.IsVisible && (node.IsInteractive || node.IsScrollable) {
		node.Index = b.nextIndex
		b.indexMap[node.Index] = schemas.ElementRef{Ref: raw.Ref, Pass: b.passID}
		b.nextIndex++
		if node.IsInteractive {
			b.interactiveCount++
		}
	}

	// Children of an invisible subtree root are still visited: overflow and
	// position tricks can make a child visible inside a zero-box parent.
	for _, rawChild := range raw.Children {
		if child := b.visit(rawChild); child != nil {
			node.Children = append(node.Children, child)
		}
	}

	// Indexed nodes are visible and therefore always kept; the keep rule only
	// prunes inert structure.
	keep := node.IsVisible || node.IsInteractive || node.IsScrollable ||
		len(node.Children) > 0
	if !keep {
		return nil
	}
	return node
}

// optionPreviewLimit caps how many select options are surfaced inline.
const optionPreviewLimit = 4

// attrsWithHints passes the walker's attributes through, folding the select
// option state (which is live DOM state, not attributes) into synthesized
// data-wp-* entries the serializer knows how to render.
func attrsWithHints(raw *rawNode) map[string]string {
	if raw.Tag != "select" || (len(raw.Options) == 0 && raw.SelectedText == "") {
		return raw.Attrs
	}
	attrs := make(map[string]string, len(raw.Attrs)+2)
	for k, v := range raw.Attrs {
		attrs[k] = v
	}
	if raw.SelectedText != "" {
		attrs["data-wp-selected"] = raw.SelectedText
	}
	if len(raw.Options) > 0 {
		preview := raw.Options
		more := 0
		if len(preview) > optionPreviewLimit {
			more = len(preview) - optionPreviewLimit
			preview = preview[:optionPreviewLimit]
		}
		joined := strings.Join(preview, "|")
		if more > 0 {
			joined += "(+" + strconv.Itoa(more) + " more)"
		}
		attrs["data-wp-options"] = joined
	}
	return attrs
}

func (b *builder) isVisible(raw *rawNode) bool {
	s := raw.Style
	if s.Display == "none" || s.Visibility == "hidden" || s.Visibility == "collapse" {
		return false
	}
	if s.Opacity == 0 {
		return false
	}

	r := raw.Rect
	if r.W <= 0 || r.H <= 0 {
		// File pickers are routinely styled to 0x0 behind a label and remain
		// the only way to upload, so they stay visible.
		return isFileInput(raw)
	}

	// Proximity check against the expanded viewport.
	if r.X+r.W < -viewportMargin || r.Y+r.H < -viewportMargin {
		return false
	}
	if r.X > b.viewportW+viewportMargin || r.Y > b.viewportH+viewportMargin {
		return false
	}
	return true
}

func isFileInput(raw *rawNode) bool {
	return raw.Tag == "input" && strings.EqualFold(raw.Attrs["type"], "file")
}

func isInteractive(raw *rawNode) bool {
	if interactiveTags[raw.Tag] {
		// Hidden inputs are never actionable.
		if raw.Tag == "input" && strings.EqualFold(raw.Attrs["type"], "hidden") {
			return false
		}
		return true
	}
	if interactiveRoles[strings.ToLower(raw.Attrs["role"])] {
		return true
	}
	for _, a := range clickHandlerAttrs {
		if _, ok := raw.Attrs[a]; ok {
			return true
		}
	}
	if raw.Style.Cursor == "pointer" {
		return true
	}
	if ce, ok := raw.Attrs["contenteditable"]; ok && (ce == "" || strings.EqualFold(ce, "true")) {
		return true
	}
	if ti, ok := raw.Attrs["tabindex"]; ok {
		if n, err := strconv.Atoi(strings.TrimSpace(ti)); err == nil && n >= 0 {
			return true
		}
	}
	return false
}

// scrollSlack absorbs sub-pixel rounding between scroll and client extents.
const scrollSlack = 2

func isScrollable(raw *rawNode) bool {
	overflowScrolls := func(v string) bool { return v == "auto" || v == "scroll" }
	sc := raw.Scroll
	if overflowScrolls(raw.Style.OverflowY) && sc.ScrollHeight > sc.ClientHeight+scrollSlack {
		return true
	}
	if overflowScrolls(raw.Style.OverflowX) && sc.ScrollWidth > sc.ClientWidth+scrollSlack {
		return true
	}
	return false
}
