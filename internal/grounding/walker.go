// internal/grounding/walker.go
package grounding

// The walker script performs the measurements only the live page can answer:
// computed styles, layout boxes, scroll extents, shadow roots and same-origin
// frames. It also tags every emitted element with data-wp-ref/data-wp-pass so
// indices assigned on the Go side resolve back to live elements. All policy
// (visibility, interactivity, indexing, serialization) stays in Go where it
// can be tested without a browser.
//
// The script is injected as an IIFE taking the pass id and returns the raw
// payload as a JSON-serializable object. Cross-origin frames throw on
// contentDocument access and are skipped silently.
const walkerJS = `
(function (passID) {
  const SKIP_TAGS = new Set([
    'STYLE', 'SCRIPT', 'HEAD', 'META', 'LINK', 'NOSCRIPT', 'TEMPLATE',
    'TITLE', 'BASE', 'OBJECT', 'EMBED'
  ]);
  const SVG_NS = 'http://www.w3.org/2000/svg';

  let refSeq = 0;

  function directText(el) {
    let out = '';
    for (const child of el.childNodes) {
      if (child.nodeType === Node.TEXT_NODE) {
        out += child.textContent;
      }
    }
    return out.replace(/\s+/g, ' ').trim();
  }

  function attrsOf(el) {
    const attrs = {};
    for (const a of el.attributes) {
      attrs[a.name.toLowerCase()] = a.value;
    }
    // Live form state is a property, not an attribute.
    if ('value' in el && typeof el.value === 'string' && el.value !== '') {
      attrs['value'] = el.value;
    }
    if (el.checked === true) attrs['checked'] = 'true';
    return attrs;
  }

  function walk(el, frameOffsetX, frameOffsetY) {
    const tag = el.tagName;
    if (!tag || SKIP_TAGS.has(tag)) return null;

    const node = { tag: tag.toLowerCase(), children: [] };

    const style = window.getComputedStyle(el);
    const rect = el.getBoundingClientRect();
    node.rect = {
      x: rect.x + frameOffsetX,
      y: rect.y + frameOffsetY,
      w: rect.width,
      h: rect.height
    };
    node.style = {
      display: style.display,
      visibility: style.visibility,
      opacity: parseFloat(style.opacity),
      cursor: style.cursor,
      overflowX: style.overflowX,
      overflowY: style.overflowY
    };
    node.scroll = {
      sw: el.scrollWidth, sh: el.scrollHeight,
      cw: el.clientWidth, ch: el.clientHeight
    };
    node.attrs = attrsOf(el);
    node.text = directText(el);

    if (tag === 'SELECT') {
      node.options = [];
      for (const opt of el.options) {
        node.options.push(opt.label || opt.value);
        if (node.options.length >= 12) break;
      }
      node.selectedText = el.selectedIndex >= 0 && el.options[el.selectedIndex]
        ? (el.options[el.selectedIndex].label || el.options[el.selectedIndex].value)
        : '';
    }

    node.ref = ++refSeq;
    try {
      el.setAttribute('data-wp-ref', String(node.ref));
      el.setAttribute('data-wp-pass', passID);
    } catch (e) {
      // Some elements (e.g. inside certain embeds) refuse attributes.
    }

    // Vector graphic internals carry no actionable structure.
    if (el.namespaceURI === SVG_NS) return node;

    if (tag === 'IFRAME' || tag === 'FRAME') {
      try {
        const doc = el.contentDocument;
        if (doc && doc.body) {
          const child = walk(doc.body, node.rect.x, node.rect.y);
          if (child) node.children.push(child);
        }
      } catch (e) {
        // Cross-origin frame; skip silently.
      }
      return node;
    }

    const roots = [];
    if (el.shadowRoot) roots.push(el.shadowRoot);
    roots.push(el);
    for (const root of roots) {
      for (const child of root.children) {
        const childNode = walk(child, frameOffsetX, frameOffsetY);
        if (childNode) node.children.push(childNode);
      }
    }
    return node;
  }

  return {
    url: window.location.href,
    title: document.title,
    viewport: { w: window.innerWidth, h: window.innerHeight },
    root: walk(document.body, 0, 0)
  };
})(%s)
`

// rawRect mirrors the walker's layout box fields.
type rawRect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// rawStyle carries the computed-style flags the visibility and interactivity
// policies inspect.
type rawStyle struct {
	Display    string  `json:"display"`
	Visibility string  `json:"visibility"`
	Opacity    float64 `json:"opacity"`
	Cursor     string  `json:"cursor"`
	OverflowX  string  `json:"overflowX"`
	OverflowY  string  `json:"overflowY"`
}

// rawScroll carries scroll extents for the scrollability policy.
type rawScroll struct {
	ScrollWidth  int `json:"sw"`
	ScrollHeight int `json:"sh"`
	ClientWidth  int `json:"cw"`
	ClientHeight int `json:"ch"`
}

// rawNode is one element as reported by the walker, before any policy is
// applied.
type rawNode struct {
	Tag          string            `json:"tag"`
	Attrs        map[string]string `json:"attrs"`
	Text         string            `json:"text"`
	Rect         rawRect           `json:"rect"`
	Style        rawStyle          `json:"style"`
	Scroll       rawScroll         `json:"scroll"`
	Ref          int               `json:"ref"`
	Options      []string          `json:"options,omitempty"`
	SelectedText string            `json:"selectedText,omitempty"`
	Children     []*rawNode        `json:"children"`
}

// rawPayload is the walker's full return value.
type rawPayload struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Viewport struct {
		W float64 `json:"w"`
		H float64 `json:"h"`
	} `json:"viewport"`
	Root *rawNode `json:"root"`
}
