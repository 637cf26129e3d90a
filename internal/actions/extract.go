// internal/actions/extract.go
package actions

import (
	"context"
	"fmt"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// extractionSystemPrompt keeps the extraction call grounded in the supplied
// page text only.
const extractionSystemPrompt = `You are a precise extraction assistant. ` +
	`Answer the question using ONLY the page text provided by the user. ` +
	`Quote values exactly as they appear. If the answer is not present in ` +
	`the text, say so explicitly instead of guessing.`

// executeExtract is the composite extract_content action: snapshot the page
// text, truncate it, and issue a separate extraction-only model call. The
// result is wrapped with the original query and source URL so it stays
// meaningful in history after trimming.
func (e *Executor) executeExtract(ctx context.Context, req schemas.ActionRequest) schemas.ActionResult {
	if req.Query == "" {
		return schemas.Failure("extract_content requires a query")
	}
	if e.llm == nil {
		return schemas.Failure("no model available for extraction")
	}

	markup, err := e.driver.PageHTML(ctx)
	if err != nil {
		return schemas.Failure(fmt.Sprintf("failed to read page: %v", err))
	}
	pageURL, err := e.driver.CurrentURL(ctx)
	if err != nil {
		pageURL = "(unknown)"
	}

	text, err := pageText(markup)
	if err != nil {
		return schemas.Failure(fmt.Sprintf("failed to parse page: %v", err))
	}

	maxChars := e.cfg.ExtractMaxChars
	if maxChars <= 0 {
		maxChars = 24000
	}
	text = truncateAtParagraph(text, maxChars)

	prompt := fmt.Sprintf("Question: %s\n\nPage text:\n%s", req.Query, text)
	turn := e.llm.Call(ctx, extractionSystemPrompt,
		[]schemas.ChatMessage{{Role: schemas.RoleUser, Text: prompt}}, nil)
	if turn.StopReason == schemas.StopError {
		return schemas.Failure("extraction model call failed: " + turn.Text)
	}

	answer := turn.Text
	if answer == "" {
		answer = turn.Thinking
	}
	return schemas.Successf(fmt.Sprintf("Extracted from %s for %q:\n%s", pageURL, req.Query, answer))
}

// skippedTextTags hold no reader-visible text.
var skippedTextTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true, "head": true,
}

// blockTags force a line break in the collected text.
var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true, "section": true,
	"article": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

// pageText flattens document markup into readable text, one line per block
// element, script and style content dropped.
func pageText(markup string) (string, error) {
	doc, err := htmlquery.Parse(strings.NewReader(markup))
	if err != nil {
		return "", err
	}
	body := htmlquery.FindOne(doc, "//body")
	if body == nil {
		body = doc
	}

	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			if skippedTextTags[n.Data] {
				return
			}
			if blockTags[n.Data] {
				sb.WriteByte('\n')
			}
		case html.TextNode:
			if trimmed := strings.TrimSpace(n.Data); trimmed != "" {
				sb.WriteString(trimmed)
				sb.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(body)

	// Collapse runs of blank lines.
	lines := strings.Split(sb.String(), "\n")
	var out []string
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return strings.Join(out, "\n"), nil
}

// truncateAtParagraph cuts text to max characters, preferring the last line
// break in the second half of the window so paragraphs survive intact.
func truncateAtParagraph(text string, max int) string {
	if len(text) <= max {
		return text
	}
	window := text[:max]
	if cut := strings.LastIndex(window, "\n"); cut > max/2 {
		window = window[:cut]
	}
	return window + "\n...[page text truncated]"
}
