// internal/grounding/serialize.go
package grounding

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

const (
	maxAttrValueLen = 64
	maxTextLineLen  = 160
)

// allowedAttrs is the fixed serialization allow-list, in output order.
// Identity first, then state, accessibility, link/src, form constraints.
// data-* attributes pass separately and sort after these.
var allowedAttrs = []string{
	"id", "name", "type", "role", "value", "placeholder",
	"checked", "selected", "disabled", "readonly", "required",
	"aria-label", "aria-expanded", "aria-checked", "aria-selected",
	"alt", "title", "href", "src", "for",
	"maxlength", "min", "max", "pattern",
}

var dateInputTypes = map[string]string{
	"date":           "YYYY-MM-DD",
	"month":          "YYYY-MM",
	"week":           "YYYY-Www",
	"time":           "HH:MM",
	"datetime-local": "YYYY-MM-DDTHH:MM",
}

// serialize renders the policy-applied tree as the indented indexed text
// block fed to the model. Output is deterministic for a fixed tree.
func serialize(root *schemas.GroundingNode) string {
	var sb strings.Builder
	serializeNode(&sb, root, 0)
	return strings.TrimRight(sb.String(), "\n")
}

func serializeNode(sb *strings.Builder, node *schemas.GroundingNode, depth int) {
	if node == nil {
		return
	}

	childDepth := depth
	if node.Index > 0 {
		writeIndexedLine(sb, node, depth)
		// One extra indent level per indexed ancestor.
		childDepth++
	} else if node.Text != "" && node.IsVisible {
		writeTextLine(sb, node.Text, depth)
	}

	for _, child := range node.Children {
		serializeNode(sb, child, childDepth)
	}
}

func writeIndexedLine(sb *strings.Builder, node *schemas.GroundingNode, depth int) {
	sb.WriteString(strings.Repeat("\t", depth))
	fmt.Fprintf(sb, "[%d]", node.Index)
	if node.IsScrollable {
		sb.WriteString("|SCROLL|")
	}
	sb.WriteByte('<')
	sb.WriteString(node.Tag)
	for _, kv := range serializableAttrs(node) {
		fmt.Fprintf(sb, " %s=%s", kv[0], kv[1])
	}

	text := truncate(node.Text, maxTextLineLen)
	if hint := elementHint(node); hint != "" {
		if text != "" {
			text += " "
		}
		text += hint
	}
	if text == "" {
		sb.WriteString("/>\n")
		return
	}
	fmt.Fprintf(sb, ">%s</%s>\n", text, node.Tag)
}

func writeTextLine(sb *strings.Builder, text string, depth int) {
	sb.WriteString(strings.Repeat("\t", depth))
	sb.WriteString(truncate(text, maxTextLineLen))
	sb.WriteByte('\n')
}

// serializableAttrs returns the node's attributes filtered to the allow-list,
// in a stable order: fixed list order first, then sorted data-* keys. The
// walker's own tagging attributes are excluded.
func serializableAttrs(node *schemas.GroundingNode) [][2]string {
	var out [][2]string
	for _, key := range allowedAttrs {
		if v, ok := node.Attrs[key]; ok {
			out = append(out, [2]string{key, truncate(v, maxAttrValueLen)})
		}
	}
	var dataKeys []string
	for key := range node.Attrs {
		if strings.HasPrefix(key, "data-") && !strings.HasPrefix(key, "data-wp-") {
			dataKeys = append(dataKeys, key)
		}
	}
	sort.Strings(dataKeys)
	for _, key := range dataKeys {
		out = append(out, [2]string{key, truncate(node.Attrs[key], maxAttrValueLen)})
	}
	return out
}

// elementHint synthesizes extra guidance for form controls: the current
// selection and an option preview for selects, the expected value format for
// date-like inputs.
func elementHint(node *schemas.GroundingNode) string {
	switch node.Tag {
	case "select":
		var parts []string
		if cur := node.Attrs["data-wp-selected"]; cur != "" {
			parts = append(parts, "current:"+truncate(cur, maxAttrValueLen))
		}
		if opts := node.Attrs["data-wp-options"]; opts != "" {
			parts = append(parts, "options:"+opts)
		}
		return strings.Join(parts, " ")
	case "input":
		if format, ok := dateInputTypes[strings.ToLower(node.Attrs["type"])]; ok {
			return "format:" + format
		}
	}
	return ""
}

func truncate(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= max {
		return s
	}
	// Back off to a rune boundary so the cut never emits invalid UTF-8.
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max] + "..."
}
