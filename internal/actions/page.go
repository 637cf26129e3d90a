// internal/actions/page.go
package actions

import (
	"fmt"
	"strconv"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// buildPageScript produces the page-side snippet for one page-level action.
// Every snippet resolves its element fresh and returns the pageOutcome shape;
// a missing element is reported inside the outcome, never thrown.
func buildPageScript(req schemas.ActionRequest, selector string) (string, error) {
	switch req.Kind {
	case schemas.ActionClick:
		return elementScript(selector, `
			el.scrollIntoView({block: 'center', inline: 'center'});
			el.click();
			return {ok: true, content: 'Clicked element'};`), nil

	case schemas.ActionInputText:
		return elementScript(selector, fmt.Sprintf(`
			const text = %s;
			el.scrollIntoView({block: 'center'});
			el.focus();
			if (el.isContentEditable) {
				el.textContent = text;
			} else {
				el.value = text;
			}
			el.dispatchEvent(new Event('input', {bubbles: true}));
			el.dispatchEvent(new Event('change', {bubbles: true}));
			return {ok: true, content: 'Entered text'};`, strconv.Quote(req.Text))), nil

	case schemas.ActionSendKeys:
		if req.Text == "" {
			return "", fmt.Errorf("send_keys requires a key name")
		}
		return targetOrActiveScript(selector, fmt.Sprintf(`
			const key = %s;
			const opts = {key: key, bubbles: true, cancelable: true};
			el.dispatchEvent(new KeyboardEvent('keydown', opts));
			el.dispatchEvent(new KeyboardEvent('keypress', opts));
			el.dispatchEvent(new KeyboardEvent('keyup', opts));
			if (key === 'Enter' && el.form && typeof el.form.requestSubmit === 'function') {
				el.form.requestSubmit();
			}
			return {ok: true, content: 'Sent ' + key};`, strconv.Quote(req.Text))), nil

	case schemas.ActionScroll:
		return buildScrollScript(req, selector), nil

	case schemas.ActionDropdownOpts:
		return elementScript(selector, `
			if (el.tagName !== 'SELECT') {
				return {ok: false, error: 'element is not a select'};
			}
			const opts = [];
			for (const o of el.options) {
				opts.push((o.selected ? '* ' : '  ') + (o.label || o.value));
			}
			return {ok: true, content: opts.join('\n')};`), nil

	case schemas.ActionDropdownSelect:
		return elementScript(selector, fmt.Sprintf(`
			if (el.tagName !== 'SELECT') {
				return {ok: false, error: 'element is not a select'};
			}
			const wanted = %s;
			for (let i = 0; i < el.options.length; i++) {
				const o = el.options[i];
				if (o.label === wanted || o.value === wanted || o.text === wanted) {
					el.selectedIndex = i;
					el.dispatchEvent(new Event('change', {bubbles: true}));
					return {ok: true, content: 'Selected ' + wanted};
				}
			}
			return {ok: false, error: 'no option matches ' + JSON.stringify(wanted)};`,
			strconv.Quote(req.Text))), nil

	case schemas.ActionFindText:
		if req.Text == "" {
			return "", fmt.Errorf("find_text requires text to find")
		}
		return fmt.Sprintf(`(function () {
			const wanted = %s;
			const body = document.body ? document.body.innerText : '';
			const at = body.toLowerCase().indexOf(wanted.toLowerCase());
			if (at < 0) {
				return {ok: false, error: 'text not found on page'};
			}
			if (window.find) {
				window.getSelection().removeAllRanges();
				window.find(wanted);
			}
			const start = Math.max(0, at - 200);
			const end = Math.min(body.length, at + wanted.length + 200);
			return {ok: true, content: body.slice(start, end)};
		})()`, strconv.Quote(req.Text)), nil
	}
	return "", fmt.Errorf("no page script for action %q", req.Kind)
}

// elementScript wraps a body that assumes `el` resolved, failing cleanly when
// the selector matches nothing. A stale index (prior pass) lands here too,
// since its pass-scoped selector no longer matches.
func elementScript(selector, body string) string {
	return fmt.Sprintf(`(function () {
		const el = document.querySelector(%s);
		if (!el) {
			return {ok: false, error: 'element not found'};
		}
		%s
	})()`, strconv.Quote(selector), body)
}

// targetOrActiveScript resolves the selector when given, otherwise falls back
// to the focused element.
func targetOrActiveScript(selector, body string) string {
	sel := "null"
	if selector != "" {
		sel = strconv.Quote(selector)
	}
	return fmt.Sprintf(`(function () {
		const sel = %s;
		let el = sel ? document.querySelector(sel) : document.activeElement;
		if (sel && !el) {
			return {ok: false, error: 'element not found'};
		}
		if (!el) el = document.body;
		%s
	})()`, sel, body)
}

func buildScrollScript(req schemas.ActionRequest, selector string) string {
	direction := 1
	if !req.Down {
		direction = -1
	}
	amount := req.Amount

	if selector != "" {
		return elementScript(selector, fmt.Sprintf(`
			const amount = %d > 0 ? %d : el.clientHeight;
			el.scrollBy({top: %d * amount, behavior: 'instant'});
			return {ok: true, content: 'Scrolled container'};`, amount, amount, direction))
	}
	return fmt.Sprintf(`(function () {
		const amount = %d > 0 ? %d : window.innerHeight;
		window.scrollBy({top: %d * amount, behavior: 'instant'});
		return {ok: true, content: 'Scrolled page'};
	})()`, amount, amount, direction)
}
