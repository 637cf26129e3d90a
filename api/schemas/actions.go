// api/schemas/actions.go
package schemas

// ActionKind enumerates the closed set of actions the model may request.
type ActionKind string

const (
	// Host-level actions, executed against the browser host.
	ActionNavigate  ActionKind = "navigate"
	ActionOpenTab   ActionKind = "open_tab"
	ActionSearch    ActionKind = "search"
	ActionGoBack    ActionKind = "go_back"
	ActionWait      ActionKind = "wait"
	ActionSwitchTab ActionKind = "switch_tab"
	ActionCloseTab  ActionKind = "close_tab"

	// Page-level actions, executed against the current page. These require a
	// grounding index except for scroll/send_keys/find_text which can address
	// the page itself.
	ActionClick          ActionKind = "click"
	ActionInputText      ActionKind = "input_text"
	ActionScroll         ActionKind = "scroll"
	ActionSendKeys       ActionKind = "send_keys"
	ActionDropdownOpts   ActionKind = "get_dropdown_options"
	ActionDropdownSelect ActionKind = "select_dropdown_option"
	ActionFindText       ActionKind = "find_text"

	// Composite action: snapshot the page text and query a model over it.
	ActionExtract ActionKind = "extract_content"

	// Terminal action: the model declares the task finished.
	ActionDone ActionKind = "done"
)

// ActionRequest is one action the model asked for. Field relevance depends on
// Kind; unknown or missing required fields yield a per-action failure, never a
// crash.
type ActionRequest struct {
	Kind ActionKind `json:"kind"`

	// Index addresses an element from the current grounding pass.
	Index int `json:"index,omitempty"`
	// Text is typed input, searched text, sent key chords, or the final
	// message for done.
	Text string `json:"text,omitempty"`
	URL  string `json:"url,omitempty"`
	// Query is the question for extract_content.
	Query string `json:"query,omitempty"`
	// Seconds bounds the wait action.
	Seconds int `json:"seconds,omitempty"`
	// TabID selects a tab for switch_tab / close_tab.
	TabID string `json:"tab_id,omitempty"`
	// Down selects scroll direction; Amount is pixels (0 means one page).
	Down   bool `json:"down,omitempty"`
	Amount int  `json:"amount,omitempty"`
	// Success carries the declared outcome for done.
	Success bool `json:"success,omitempty"`
}

// ActionResult is the outcome of exactly one ActionRequest.
type ActionResult struct {
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	Content  string `json:"content,omitempty"`
	NewTabID string `json:"new_tab_id,omitempty"`
}

// Failure builds a failed result with the given message.
func Failure(msg string) ActionResult { return ActionResult{Success: false, Error: msg} }

// Successf builds a successful result carrying content.
func Successf(content string) ActionResult { return ActionResult{Success: true, Content: content} }

// IsNavigation reports whether the action is navigation-class, which warrants
// a longer settle delay before the next extraction.
func (k ActionKind) IsNavigation() bool {
	switch k {
	case ActionNavigate, ActionOpenTab, ActionSearch, ActionGoBack, ActionSwitchTab, ActionCloseTab:
		return true
	}
	return false
}

// IsHostLevel reports whether the action executes against the browser host
// rather than the page, and therefore never touches grounding indices.
func (k ActionKind) IsHostLevel() bool {
	switch k {
	case ActionNavigate, ActionOpenTab, ActionSearch, ActionGoBack, ActionWait, ActionSwitchTab, ActionCloseTab:
		return true
	}
	return false
}
