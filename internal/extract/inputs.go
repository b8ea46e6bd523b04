package extract

import (
	"strings"

	"domkit-mcp-server/internal/dom"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// NoDescription stands in when no description source resolves.
const NoDescription = "_no description_"

// maxSiblingLabel bounds the text a preceding sibling may carry to count as a
// label.
const maxSiblingLabel = 100

// InputField describes one visible form control.
type InputField struct {
	Address     string `json:"xpath"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Disabled    bool   `json:"disabled"`
}

var inputSelectors = mustParseAll([]string{
	`input[type="text" i]`,
	`input[type="email" i]`,
	`input[type="password" i]`,
	`input[type="number" i]`,
	`input[type="tel" i]`,
	`input[type="url" i]`,
	`input[type="search" i]`,
	`input[type="date" i]`,
	`input[type="datetime-local" i]`,
	`input[type="time" i]`,
	`input[type="month" i]`,
	`input[type="week" i]`,
	`input[type="color" i]`,
	`input[type="range" i]`,
	`input[type="file" i]`,
	`input:not([type])`,
	`textarea`,
	`select`,
	`[contenteditable="true" i]`,
})

// Inputs lists visible form controls with a human-readable description.
// A control matched by several selectors is reported once per
// (address, type).
func (e *Extractor) Inputs() []InputField {
	fields := []InputField{}
	seen := make(map[string]bool)

	queryOrdered(e.doc.Root, inputSelectors, func(n *html.Node) {
		if !e.doc.IsVisible(n) || e.excluded(n) {
			return
		}
		addr := dom.Locate(n)
		if addr == "" {
			return
		}
		typ := controlType(n)
		key := addr + "|" + typ
		if seen[key] {
			return
		}
		seen[key] = true

		fields = append(fields, InputField{
			Address:     addr,
			Type:        typ,
			Description: e.describeInput(n),
			Required:    dom.HasAttr(n, "required"),
			Disabled:    isDisabled(n),
		})
	})
	return fields
}

func controlType(n *html.Node) string {
	switch n.DataAtom {
	case atom.Input:
		if t := strings.ToLower(strings.TrimSpace(dom.Attr(n, "type"))); t != "" {
			return t
		}
		return "text"
	case atom.Textarea:
		return "textarea"
	case atom.Select:
		return "select"
	}
	return "contenteditable"
}

// describeInput walks the description sources in priority order and returns
// the first non-empty one.
func (e *Extractor) describeInput(n *html.Node) string {
	sources := []func(*html.Node) string{
		func(n *html.Node) string { return dom.Attr(n, "placeholder") },
		e.labelFor,
		enclosingLabel,
		func(n *html.Node) string { return dom.Attr(n, "aria-label") },
		precedingSiblingLabel,
		func(n *html.Node) string { return dom.Attr(n, "name") },
		func(n *html.Node) string { return dom.Attr(n, "title") },
	}
	for _, source := range sources {
		if text := Collapse(source(n)); text != "" {
			return Truncate(text, e.limits.Description)
		}
	}
	return NoDescription
}

// labelFor finds the first <label for=id> in the document.
func (e *Extractor) labelFor(n *html.Node) string {
	id := dom.Attr(n, "id")
	if id == "" {
		return ""
	}
	var text string
	found := false
	dom.Walk(e.doc.Root, func(c *html.Node) bool {
		if found {
			return false
		}
		if c.Type == html.ElementNode && c.DataAtom == atom.Label && dom.Attr(c, "for") == id {
			text, found = dom.TextContent(c), true
			return false
		}
		return true
	})
	return text
}

func enclosingLabel(n *html.Node) string {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.DataAtom == atom.Label {
			return dom.TextContent(p)
		}
	}
	return ""
}

// precedingSiblingLabel scans element siblings backwards and stops at the
// first <label>, or the first sibling holding short non-empty text.
func precedingSiblingLabel(n *html.Node) string {
	for s := n.PrevSibling; s != nil; s = s.PrevSibling {
		if s.Type != html.ElementNode {
			continue
		}
		text := strings.TrimSpace(dom.TextContent(s))
		if s.DataAtom == atom.Label {
			return text
		}
		if text != "" && len([]rune(text)) < maxSiblingLabel {
			return text
		}
	}
	return ""
}
