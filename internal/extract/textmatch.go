package extract

import (
	"strings"

	"domkit-mcp-server/internal/dom"
)

// FindByText returns visible <div> containers whose text contains query. Other
// elements are never searched. Query evaluation failures yield an empty
// result.
func (e *Extractor) FindByText(query string) (items []DescribedElement) {
	items = []DescribedElement{}
	if strings.TrimSpace(query) == "" {
		return items
	}
	defer func() {
		if r := recover(); r != nil {
			items = []DescribedElement{}
		}
	}()

	nodes, err := e.doc.QueryAll("//div[contains(., " + dom.Literal(query) + ")]")
	if err != nil {
		return items
	}

	seen := make(map[string]bool)
	for _, n := range nodes {
		if !e.doc.IsVisible(n) || e.excluded(n) {
			continue
		}
		addr := dom.Locate(n)
		if addr == "" || seen[addr] {
			continue
		}
		seen[addr] = true
		items = append(items, DescribedElement{
			Address: addr,
			Text:    Truncate(Collapse(dom.TextContent(n)), e.limits.TextMatch),
			Tag:     dom.TagName(n),
			Class:   dom.Attr(n, "class"),
			ID:      dom.Attr(n, "id"),
		})
	}
	return items
}
