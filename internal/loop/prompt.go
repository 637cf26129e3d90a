// internal/loop/prompt.go
package loop

import (
	stdjson "encoding/json"
	"fmt"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// systemPromptTemplate is the fixed instruction block. The tool catalogue is
// delivered separately through the provider's native tool declarations; the
// prompt only teaches the reasoning protocol and element addressing.
const systemPromptTemplate = `You are a web browsing agent. You control a real browser and complete the user's task by taking actions one step at a time.

Each step you receive the current page as an indexed list of interactive elements, like:
[3]<button>Sign in</button>
Use the number in brackets to address elements. Indices are only valid for the current step; after any action that changes the page you will receive a fresh list with new indices. Never reuse indices from an earlier step.
Containers marked |SCROLL| can be scrolled with the scroll action by their index.

Before calling tools, write a short status block in exactly this form:
Evaluation: <did the previous action achieve what you intended?>
Memory: <what you have learned or completed so far>
Next goal: <what you will do now>

Rules:
- Work strictly from the current page state; do not assume elements exist.
- Prefer one action per step unless a short fixed sequence is clearly safe (such as typing then pressing Enter).
- Use extract_content to read data from a page, and do not extract the same thing twice.
- When the task is complete, or when it cannot be completed, call done with success set accordingly and a clear final answer.
- You have at most %d steps.`

func systemPrompt(maxSteps int) string {
	return fmt.Sprintf(systemPromptTemplate, maxSteps)
}

// toolSpec pairs a description with the parameter schema for one action.
type toolSpec struct {
	description string
	parameters  string
}

// toolCatalogue enumerates every dispatchable action as a provider tool
// declaration. The order is stable so prompts are reproducible.
var catalogueOrder = []schemas.ActionKind{
	schemas.ActionNavigate,
	schemas.ActionOpenTab,
	schemas.ActionSearch,
	schemas.ActionGoBack,
	schemas.ActionWait,
	schemas.ActionSwitchTab,
	schemas.ActionCloseTab,
	schemas.ActionClick,
	schemas.ActionInputText,
	schemas.ActionScroll,
	schemas.ActionSendKeys,
	schemas.ActionDropdownOpts,
	schemas.ActionDropdownSelect,
	schemas.ActionFindText,
	schemas.ActionExtract,
	schemas.ActionDone,
}

var catalogue = map[schemas.ActionKind]toolSpec{
	schemas.ActionNavigate: {
		"Navigate the current tab to a URL.",
		`{"type":"object","properties":{"url":{"type":"string"}},"required":["url"]}`,
	},
	schemas.ActionOpenTab: {
		"Open a new tab, optionally navigating it to a URL, and switch to it.",
		`{"type":"object","properties":{"url":{"type":"string"}}}`,
	},
	schemas.ActionSearch: {
		"Search the web for a query in the current tab.",
		`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`,
	},
	schemas.ActionGoBack: {
		"Go back one entry in the current tab's history.",
		`{"type":"object","properties":{}}`,
	},
	schemas.ActionWait: {
		"Wait a number of seconds for the page to change on its own.",
		`{"type":"object","properties":{"seconds":{"type":"integer","minimum":1,"maximum":30}}}`,
	},
	schemas.ActionSwitchTab: {
		"Switch focus to another open tab by its id.",
		`{"type":"object","properties":{"tab_id":{"type":"string"}},"required":["tab_id"]}`,
	},
	schemas.ActionCloseTab: {
		"Close an open tab by its id.",
		`{"type":"object","properties":{"tab_id":{"type":"string"}},"required":["tab_id"]}`,
	},
	schemas.ActionClick: {
		"Click the element with the given index.",
		`{"type":"object","properties":{"index":{"type":"integer"}},"required":["index"]}`,
	},
	schemas.ActionInputText: {
		"Type text into the input element with the given index, replacing its current value.",
		`{"type":"object","properties":{"index":{"type":"integer"},"text":{"type":"string"}},"required":["index","text"]}`,
	},
	schemas.ActionScroll: {
		"Scroll the page, or a |SCROLL| container by its index. amount is pixels; omit for one page.",
		`{"type":"object","properties":{"index":{"type":"integer"},"down":{"type":"boolean"},"amount":{"type":"integer"}},"required":["down"]}`,
	},
	schemas.ActionSendKeys: {
		"Send a keyboard key such as Enter, Tab or Escape to an element, or to the focused element if no index is given.",
		`{"type":"object","properties":{"index":{"type":"integer"},"text":{"type":"string"}},"required":["text"]}`,
	},
	schemas.ActionDropdownOpts: {
		"List the options of the select element with the given index.",
		`{"type":"object","properties":{"index":{"type":"integer"}},"required":["index"]}`,
	},
	schemas.ActionDropdownSelect: {
		"Select an option by its visible text in the select element with the given index.",
		`{"type":"object","properties":{"index":{"type":"integer"},"text":{"type":"string"}},"required":["index","text"]}`,
	},
	schemas.ActionFindText: {
		"Find text on the current page and return its surrounding context.",
		`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`,
	},
	schemas.ActionExtract: {
		"Read the current page and answer a question from its text. Use for gathering data, not for interaction.",
		`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`,
	},
	schemas.ActionDone: {
		"Finish the task. Set success to true only if the task is fully complete, and put the final answer in text.",
		`{"type":"object","properties":{"success":{"type":"boolean"},"text":{"type":"string"}},"required":["success","text"]}`,
	},
}

func toolCatalogue() []schemas.ToolDef {
	defs := make([]schemas.ToolDef, 0, len(catalogueOrder))
	for _, kind := range catalogueOrder {
		spec := catalogue[kind]
		defs = append(defs, schemas.ToolDef{
			Name:        string(kind),
			Description: spec.description,
			Parameters:  stdjson.RawMessage(spec.parameters),
		})
	}
	return defs
}
