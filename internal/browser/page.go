// internal/browser/page.go
package browser

import (
	"context"
	stdjson "encoding/json"
	"fmt"

	"github.com/chromedp/chromedp"
)

// Evaluate runs a JavaScript expression in the active tab and returns the
// JSON-encoded result. This satisfies the grounding extractor's runner
// contract.
func (s *Session) Evaluate(ctx context.Context, expression string) ([]byte, error) {
	var raw stdjson.RawMessage
	if err := s.Run(ctx, chromedp.Evaluate(expression, &raw)); err != nil {
		return nil, err
	}
	return raw, nil
}

// Ping verifies the active tab's script context answers. Used by the action
// executor's readiness polling after transient dispatch failures.
func (s *Session) Ping(ctx context.Context) error {
	var one int
	if err := s.Run(ctx, chromedp.Evaluate("1", &one)); err != nil {
		return err
	}
	if one != 1 {
		return fmt.Errorf("page answered ping with %d", one)
	}
	return nil
}

// Navigate drives the active tab to the given URL and waits for load.
func (s *Session) Navigate(ctx context.Context, url string) error {
	return s.Run(ctx, chromedp.Navigate(url))
}

// GoBack steps the active tab's history back one entry.
func (s *Session) GoBack(ctx context.Context) error {
	return s.Run(ctx, chromedp.NavigateBack())
}

// PageHTML returns the active tab's full document markup.
func (s *Session) PageHTML(ctx context.Context) (string, error) {
	var html string
	if err := s.Run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

// CurrentURL returns the active tab's location.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := s.Run(ctx, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}
