// internal/grounding/serialize_test.go
package grounding

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

func TestSerializeIndexedLineFormat(t *testing.T) {
	root := &schemas.GroundingNode{
		Tag:       "body",
		IsVisible: true,
		Children: []*schemas.GroundingNode{
			{
				Tag:           "button",
				Index:         1,
				IsVisible:     true,
				IsInteractive: true,
				Attrs:         map[string]string{"id": "go", "type": "submit"},
				Text:          "Submit order",
			},
			{
				Tag:           "input",
				Index:         2,
				IsVisible:     true,
				IsInteractive: true,
				Attrs:         map[string]string{"name": "q", "placeholder": "Search"},
			},
		},
	}

	out := serialize(root)
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `[1]<button id=go type=submit>Submit order</button>`, lines[0])
	assert.Equal(t, `[2]<input name=q placeholder=Search/>`, lines[1])
}

func TestSerializeScrollMarkers(t *testing.T) {
	scrollOnly := &schemas.GroundingNode{
		Tag: "div", Index: 1, IsVisible: true, IsScrollable: true,
	}
	assert.Equal(t, "[1]|SCROLL|<div/>", serialize(scrollOnly))

	both := &schemas.GroundingNode{
		Tag: "ul", Index: 3, IsVisible: true, IsInteractive: true, IsScrollable: true,
		Attrs: map[string]string{"role": "listbox"},
	}
	assert.Equal(t, "[3]|SCROLL|<ul role=listbox/>", serialize(both))
}

func TestSerializeIndentFollowsIndexedAncestors(t *testing.T) {
	root := &schemas.GroundingNode{
		Tag: "form", Index: 1, IsVisible: true, IsInteractive: true,
		Children: []*schemas.GroundingNode{
			{
				// Non-indexed holder: contributes no indent level.
				Tag: "div", IsVisible: true,
				Children: []*schemas.GroundingNode{
					{Tag: "input", Index: 2, IsVisible: true, IsInteractive: true},
				},
			},
		},
	}

	lines := strings.Split(serialize(root), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "[1]<form/>", lines[0])
	assert.Equal(t, "\t[2]<input/>", lines[1])
}

func TestSerializeStandaloneTextLines(t *testing.T) {
	root := &schemas.GroundingNode{
		Tag: "body", IsVisible: true,
		Children: []*schemas.GroundingNode{
			{Tag: "p", IsVisible: true, Text: "Welcome   back,\n  operator"},
			{Tag: "p", IsVisible: false, Text: "hidden text"},
		},
	}

	out := serialize(root)
	assert.Equal(t, "Welcome back, operator", out)
	assert.NotContains(t, out, "hidden text")
}

func TestSerializeTruncatesLongValues(t *testing.T) {
	long := strings.Repeat("x", 300)
	root := &schemas.GroundingNode{
		Tag: "a", Index: 1, IsVisible: true, IsInteractive: true,
		Attrs: map[string]string{"href": long},
		Text:  long,
	}

	out := serialize(root)
	assert.Contains(t, out, "href="+strings.Repeat("x", maxAttrValueLen)+"...")
	assert.Contains(t, out, ">"+strings.Repeat("x", maxTextLineLen)+"...")
}

func TestTruncateNeverSplitsRunes(t *testing.T) {
	// The leading ASCII byte puts every two-byte rune off the even cut
	// offsets, so a naive byte slice would split one.
	long := "a" + strings.Repeat("ø", maxTextLineLen)
	got := truncate(long, maxTextLineLen)
	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.LessOrEqual(t, len(got), maxTextLineLen+3)

	// Four-byte runes too.
	got = truncate("ab"+strings.Repeat("\U0001F600", 60), maxAttrValueLen)
	assert.True(t, utf8.ValidString(got))

	// Short strings pass through whole.
	assert.Equal(t, "héllo", truncate("héllo", maxAttrValueLen))
}

func TestSerializeAttrOrderDeterministic(t *testing.T) {
	node := &schemas.GroundingNode{
		Tag: "input", Index: 1, IsVisible: true, IsInteractive: true,
		Attrs: map[string]string{
			"data-z":       "1",
			"data-a":       "2",
			"placeholder":  "p",
			"id":           "field",
			"data-wp-ref":  "9",
			"data-wp-pass": "abc",
		},
	}

	first := serialize(node)
	assert.Equal(t, `[1]<input id=field placeholder=p data-a=2 data-z=1/>`, first)

	// Same tree, many runs: map iteration order must never leak through.
	for i := 0; i < 50; i++ {
		if diff := cmp.Diff(first, serialize(node)); diff != "" {
			t.Fatalf("serialization not deterministic (-first +again):\n%s", diff)
		}
	}
}

func TestSerializeFormControlHints(t *testing.T) {
	sel := &schemas.GroundingNode{
		Tag: "select", Index: 1, IsVisible: true, IsInteractive: true,
		Attrs: map[string]string{
			"name":             "country",
			"data-wp-selected": "Norway",
			"data-wp-options":  "Norway|Sweden|Finland",
		},
	}
	out := serialize(sel)
	assert.Equal(t, `[1]<select name=country>current:Norway options:Norway|Sweden|Finland</select>`, out)

	date := &schemas.GroundingNode{
		Tag: "input", Index: 1, IsVisible: true, IsInteractive: true,
		Attrs: map[string]string{"type": "date"},
	}
	assert.Equal(t, `[1]<input type=date>format:YYYY-MM-DD</input>`, serialize(date))
}
