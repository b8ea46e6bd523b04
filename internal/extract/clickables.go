package extract

import (
	"net/url"
	"strings"

	"domkit-mcp-server/internal/dom"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var clickableSelectors = mustParseAll([]string{
	`a[href]`,
	`button`,
	`input[type="button" i]`,
	`input[type="submit" i]`,
	`input[type="reset" i]`,
	`[onclick]`,
	`[role="button"]`,
	`[tabindex]`,
	`area[href]`,
	`select`,
	`details summary`,
})

// Clickables lists visible, enabled, actionable elements. Elements exposing an
// href are deduplicated by that href, first occurrence winning; the rest by
// tag and display text.
func (e *Extractor) Clickables() []DescribedElement {
	items := []DescribedElement{}
	seenHrefs := make(map[string]bool)
	seenElements := make(map[string]bool)

	queryOrdered(e.doc.Root, clickableSelectors, func(n *html.Node) {
		if !e.doc.IsVisible(n) || isDisabled(n) || e.excluded(n) {
			return
		}
		addr := dom.Locate(n)
		text := Truncate(e.displayText(n), e.limits.Clickable)
		if text == "" && addr == "" {
			return
		}

		href := e.href(n)
		if href != "" {
			if seenHrefs[href] {
				return
			}
			seenHrefs[href] = true
		} else {
			key := dom.TagName(n) + "|" + text
			if seenElements[key] {
				return
			}
			seenElements[key] = true
		}

		items = append(items, DescribedElement{
			Address: addr,
			Text:    text,
			Tag:     dom.TagName(n),
			Class:   dom.Attr(n, "class"),
			ID:      dom.Attr(n, "id"),
			Href:    href,
		})
	})
	return items
}

// displayText prefers the alt text of contained images, then the element's
// own text, then aria-label, then title.
func (e *Extractor) displayText(n *html.Node) string {
	var alts []string
	dom.Walk(n, func(c *html.Node) bool {
		if c != n && c.Type == html.ElementNode && c.DataAtom == atom.Img {
			if alt := dom.Attr(c, "alt"); alt != "" {
				alts = append(alts, alt)
			}
		}
		return true
	})
	if len(alts) > 0 {
		return strings.Join(alts, ", ")
	}
	if text := Collapse(dom.TextContent(n)); text != "" {
		return text
	}
	if label := dom.Attr(n, "aria-label"); label != "" {
		return label
	}
	return dom.Attr(n, "title")
}

// href returns the navigable target, absolute when the document URL is known.
func (e *Extractor) href(n *html.Node) string {
	raw, ok := dom.LookupAttr(n, "href")
	if !ok || raw == "" {
		return ""
	}
	if e.doc.URL == "" {
		return raw
	}
	base, err := url.Parse(e.doc.URL)
	if err != nil {
		return raw
	}
	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return raw
	}
	return base.ResolveReference(ref).String()
}
