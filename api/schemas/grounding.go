// api/schemas/grounding.go
package schemas

// Rect is an element's layout box in viewport coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// GroundingNode is one page element considered for exposure to the model.
// Only nodes that are visible and (interactive or scrollable) receive a
// non-zero Index; all other nodes keep Index 0 and exist to hold children.
type GroundingNode struct {
	Tag           string            `json:"tag"`
	Attrs         map[string]string `json:"attrs,omitempty"`
	// Text is the element's direct (non-descendant) text content.
	Text          string            `json:"text,omitempty"`
	IsVisible     bool              `json:"is_visible"`
	IsInteractive bool              `json:"is_interactive"`
	IsScrollable  bool              `json:"is_scrollable"`
	Index         int               `json:"index,omitempty"`
	Bounds        *Rect             `json:"bounds,omitempty"`
	Children      []*GroundingNode  `json:"children,omitempty"`
}

// ElementRef resolves one grounding index back to a live element. Ref is the
// walker-assigned tag on the element; Pass scopes its validity to a single
// extraction pass. Refs from an older pass no longer match anything on the
// page, which is the defined stale-index failure.
type ElementRef struct {
	Ref  int    `json:"ref"`
	Pass string `json:"pass"`
}

// GroundingSnapshot is the result of one extraction pass. IndexMap is rebuilt
// wholesale each pass; holders of indices must never carry them across passes.
type GroundingSnapshot struct {
	PassID           string             `json:"pass_id"`
	URL              string             `json:"url"`
	Title            string             `json:"title"`
	SerializedText   string             `json:"serialized_text"`
	IndexMap         map[int]ElementRef `json:"index_map"`
	InteractiveCount int                `json:"interactive_count"`
}
