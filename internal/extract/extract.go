// Package extract enumerates and describes elements of a dom.Document: form
// controls, clickable targets and text matches. It also renders the page as
// markdown. Every scan is restartable and re-derives its result from the
// document; problem elements are skipped rather than failing the scan.
package extract

import (
	"strings"
	"unicode/utf8"

	"domkit-mcp-server/internal/dom"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// Ellipsis marks truncated text.
const Ellipsis = "..."

// Limits caps the length of extracted text, in characters.
type Limits struct {
	TextMatch   int `json:"text_match" yaml:"text_match"`
	Clickable   int `json:"clickable" yaml:"clickable"`
	Description int `json:"description" yaml:"description"`
}

// DefaultLimits returns the standard caps: 100 for text matches, 50 for
// clickable text and input descriptions.
func DefaultLimits() Limits {
	return Limits{TextMatch: 100, Clickable: 50, Description: 50}
}

func (l Limits) withDefaults() Limits {
	def := DefaultLimits()
	if l.TextMatch <= 0 {
		l.TextMatch = def.TextMatch
	}
	if l.Clickable <= 0 {
		l.Clickable = def.Clickable
	}
	if l.Description <= 0 {
		l.Description = def.Description
	}
	return l
}

// DescribedElement summarises a clickable element or a text match.
type DescribedElement struct {
	Address string `json:"xpath"`
	Text    string `json:"text"`
	Tag     string `json:"tag"`
	Class   string `json:"class,omitempty"`
	ID      string `json:"id,omitempty"`
	Href    string `json:"href,omitempty"`
}

// Extractor runs scans over one document.
type Extractor struct {
	doc     *dom.Document
	limits  Limits
	exclude map[string]bool
}

// New returns an Extractor for doc. Zero limits fall back to DefaultLimits.
func New(doc *dom.Document, limits Limits) *Extractor {
	return &Extractor{doc: doc, limits: limits.withDefaults()}
}

// Inputs is New(doc, DefaultLimits()).Inputs().
func Inputs(doc *dom.Document) []InputField {
	return New(doc, DefaultLimits()).Inputs()
}

// Clickables is New(doc, DefaultLimits()).Clickables().
func Clickables(doc *dom.Document) []DescribedElement {
	return New(doc, DefaultLimits()).Clickables()
}

// FindByText is New(doc, DefaultLimits()).FindByText(query).
func FindByText(doc *dom.Document, query string) []DescribedElement {
	return New(doc, DefaultLimits()).FindByText(query)
}

// Collapse trims s and folds every whitespace run into one space.
func Collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Truncate cuts s to limit characters and appends Ellipsis when it was longer.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + Ellipsis
}

var disabledSel = cascadia.MustCompile(":disabled")

// Exclude drops elements inside any element carrying one of ids from every
// scan. Empty ids are ignored.
func (e *Extractor) Exclude(ids ...string) *Extractor {
	for _, id := range ids {
		if id == "" {
			continue
		}
		if e.exclude == nil {
			e.exclude = make(map[string]bool)
		}
		e.exclude[id] = true
	}
	return e
}

func (e *Extractor) excluded(n *html.Node) bool {
	if len(e.exclude) == 0 {
		return false
	}
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type == html.ElementNode && e.exclude[dom.Attr(cur, "id")] {
			return true
		}
	}
	return false
}

// isDisabled reports the disabled state of form controls, including those
// inside a disabled fieldset. Other elements cannot be disabled.
func isDisabled(n *html.Node) bool {
	return disabledSel.Match(n)
}

// queryOrdered matches each selector in turn against the whole document,
// yielding document order within a selector and selector order across them.
func queryOrdered(root *html.Node, selectors []cascadia.Sel, fn func(*html.Node)) {
	for _, sel := range selectors {
		for _, n := range cascadia.QueryAll(root, sel) {
			fn(n)
		}
	}
}

func mustParseAll(raw []string) []cascadia.Sel {
	sels := make([]cascadia.Sel, 0, len(raw))
	for _, s := range raw {
		sel, err := cascadia.Parse(s)
		if err != nil {
			panic(err)
		}
		sels = append(sels, sel)
	}
	return sels
}
