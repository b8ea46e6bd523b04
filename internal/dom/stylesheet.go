package dom

import (
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// userAgentHidden lists elements the browser default sheet never renders.
var userAgentHidden = []string{
	"head", "script", "style", "template", "title", "meta", "link", "base",
	"noscript", "datalist", "param", "rp", "noembed", "noframes",
	"[hidden]", `input[type="hidden" i]`, "dialog:not([open])",
}

// Cascade origins, lowest first.
const (
	originInitial = iota - 1
	originUserAgent
	originAuthor
	originInline
)

type declaredValue struct {
	value       string
	important   bool
	origin      int
	specificity cascadia.Specificity
	order       int
}

func (v declaredValue) beats(o declaredValue) bool {
	if v.important != o.important {
		return v.important
	}
	if v.origin != o.origin {
		return v.origin > o.origin
	}
	if v.specificity != o.specificity {
		return o.specificity.Less(v.specificity)
	}
	return v.order > o.order
}

type styleRule struct {
	sel          cascadia.Sel
	declarations []*css.Declaration
	origin       int
	order        int
}

// ApplyStylesheets resolves display and visibility for every element of a
// parsed document. Only the properties the visibility check reads are
// cascaded; inheritance is left to the ancestor walk in IsVisible.
func ApplyStylesheets(d *Document) {
	rules := collectRules(d.Root)

	Walk(d.Root, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return true
		}
		display := declaredValue{value: defaultDisplay(n), origin: originInitial}
		visibility := declaredValue{value: "visible", origin: originInitial}

		for _, r := range rules {
			if !r.sel.Match(n) {
				continue
			}
			for _, decl := range r.declarations {
				cascade(&display, &visibility, decl, r.origin, r.sel.Specificity(), r.order)
			}
		}
		if inline, ok := LookupAttr(n, "style"); ok && strings.TrimSpace(inline) != "" {
			if decls, err := parser.ParseDeclarations(terminate(inline)); err == nil {
				for i, decl := range decls {
					cascade(&display, &visibility, decl, originInline, cascadia.Specificity{}, i)
				}
			}
		}

		d.SetStyle(n, Style{Display: display.value, Visibility: visibility.value})
		return true
	})
}

func cascade(display, visibility *declaredValue, decl *css.Declaration, origin int, specificity cascadia.Specificity, order int) {
	v := declaredValue{
		value:       strings.ToLower(strings.TrimSpace(decl.Value)),
		important:   decl.Important,
		origin:      origin,
		specificity: specificity,
		order:       order,
	}
	switch strings.ToLower(decl.Property) {
	case "display":
		if v.beats(*display) {
			*display = v
		}
	case "visibility":
		if v.beats(*visibility) {
			*visibility = v
		}
	}
}

// collectRules gathers user-agent defaults followed by author rules from
// every <style> element, in source order.
func collectRules(root *html.Node) []styleRule {
	var rules []styleRule
	for _, s := range userAgentHidden {
		sel, err := cascadia.Parse(s)
		if err != nil {
			continue
		}
		rules = append(rules, styleRule{
			sel:          sel,
			declarations: []*css.Declaration{{Property: "display", Value: "none"}},
			origin:       originUserAgent,
		})
	}

	order := 0
	Walk(root, func(n *html.Node) bool {
		if n.Type != html.ElementNode || n.DataAtom != atom.Style {
			return true
		}
		sheet, err := parser.Parse(TextContent(n))
		if err != nil {
			return false
		}
		for _, r := range flattenRules(sheet.Rules) {
			for _, raw := range r.Selectors {
				sel, err := cascadia.Parse(raw)
				if err != nil {
					continue
				}
				rules = append(rules, styleRule{sel: sel, declarations: r.Declarations, origin: originAuthor, order: order})
				order++
			}
		}
		return false
	})
	return rules
}

// flattenRules keeps qualified rules, descending into @media blocks that
// apply on screen.
func flattenRules(in []*css.Rule) []*css.Rule {
	var out []*css.Rule
	for _, r := range in {
		switch r.Kind {
		case css.QualifiedRule:
			out = append(out, r)
		case css.AtRule:
			if r.Name == "@media" && !strings.Contains(strings.ToLower(r.Prelude), "print") {
				out = append(out, flattenRules(r.Rules)...)
			}
		}
	}
	return out
}

// terminate makes sure the last inline declaration ends in a semicolon so the
// parser records its value.
func terminate(decls string) string {
	return strings.TrimRight(strings.TrimSpace(decls), "; \t\n") + ";"
}

func defaultDisplay(n *html.Node) string {
	switch n.DataAtom {
	case atom.Span, atom.A, atom.B, atom.I, atom.Em, atom.Strong, atom.Label,
		atom.Img, atom.Input, atom.Button, atom.Select, atom.Textarea, atom.Code, atom.Small:
		return "inline"
	case atom.Li:
		return "list-item"
	case atom.Table:
		return "table"
	case atom.Tr:
		return "table-row"
	case atom.Td, atom.Th:
		return "table-cell"
	}
	return "block"
}
