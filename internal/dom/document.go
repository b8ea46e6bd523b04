package dom

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Style is the resolved subset of CSS the toolkit reasons about.
type Style struct {
	Display    string `json:"display"`
	Visibility string `json:"visibility"`
}

// Hidden reports whether this style alone takes the element out of view.
func (s Style) Hidden() bool {
	return s.Display == "none" || s.Visibility == "hidden"
}

// Rect is a viewport rectangle in CSS pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Empty reports a zero-area rectangle.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Document pairs an element tree with per-element style and layout.
//
// The tree is the only durable state. Styles and rects are attached by
// whichever producer built the document: a live page snapshot or a static
// parse with a resolved stylesheet.
type Document struct {
	Root  *html.Node
	URL   string
	Title string

	Viewport Rect

	styles    map[*html.Node]Style
	rects     map[*html.Node]Rect
	listeners map[*html.Node][]listener
}

// NewDocument wraps an html.DocumentNode.
func NewDocument(root *html.Node) *Document {
	return &Document{
		Root:      root,
		styles:    make(map[*html.Node]Style),
		rects:     make(map[*html.Node]Rect),
		listeners: make(map[*html.Node][]listener),
	}
}

// Parse reads HTML and resolves styles from the user-agent defaults, the
// document's <style> elements and inline style attributes. Rectangles are
// left empty since nothing is laid out.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	doc := NewDocument(root)
	doc.Title = strings.TrimSpace(textOf(findFirst(root, atom.Title)))
	ApplyStylesheets(doc)
	return doc, nil
}

// ParseString is Parse over a string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// Style returns the resolved style for n. Unknown elements are displayed.
func (d *Document) Style(n *html.Node) Style {
	if s, ok := d.styles[n]; ok {
		return s
	}
	return Style{Display: "inline", Visibility: "visible"}
}

func (d *Document) SetStyle(n *html.Node, s Style) {
	d.styles[n] = s
}

// Rect returns the viewport rectangle recorded for n.
func (d *Document) Rect(n *html.Node) Rect {
	return d.rects[n]
}

func (d *Document) SetRect(n *html.Node, r Rect) {
	d.rects[n] = r
}

// DocumentElement returns the root element (normally <html>).
func (d *Document) DocumentElement() *html.Node {
	if d == nil || d.Root == nil {
		return nil
	}
	for c := d.Root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return c
		}
	}
	return nil
}

// Body returns <body>, falling back to the root element.
func (d *Document) Body() *html.Node {
	root := d.DocumentElement()
	if root == nil {
		return nil
	}
	if body := findFirst(root, atom.Body); body != nil {
		return body
	}
	return root
}

// ElementByID returns the first element in document order with the given id.
func (d *Document) ElementByID(id string) *html.Node {
	var found *html.Node
	Walk(d.Root, func(n *html.Node) bool {
		if found != nil {
			return false
		}
		if n.Type == html.ElementNode && Attr(n, "id") == id {
			found = n
			return false
		}
		return true
	})
	return found
}

// Walk visits n and its descendants in document order. Returning false from
// fn skips the node's subtree.
func Walk(n *html.Node, fn func(*html.Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		Walk(c, fn)
	}
}

// Attr returns the value of an attribute, or "" when absent.
func Attr(n *html.Node, key string) string {
	v, _ := LookupAttr(n, key)
	return v
}

// LookupAttr returns the attribute value and whether it is present.
func LookupAttr(n *html.Node, key string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// HasAttr reports attribute presence.
func HasAttr(n *html.Node, key string) bool {
	_, ok := LookupAttr(n, key)
	return ok
}

// SetAttr replaces or appends an attribute.
func SetAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Namespace == "" && n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// TagName is the lower-case local name of an element.
func TagName(n *html.Node) string {
	if n == nil || n.Type != html.ElementNode {
		return ""
	}
	return strings.ToLower(n.Data)
}

// IsElement reports an element node.
func IsElement(n *html.Node) bool {
	return n != nil && n.Type == html.ElementNode
}

// TextContent concatenates descendant text nodes, like the DOM property.
func TextContent(n *html.Node) string {
	return textOf(n)
}

func textOf(n *html.Node) string {
	if n == nil {
		return ""
	}
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	Walk(n, func(c *html.Node) bool {
		switch c.Type {
		case html.TextNode:
			b.WriteString(c.Data)
		case html.CommentNode:
			return false
		}
		return true
	})
	return b.String()
}

func findFirst(n *html.Node, a atom.Atom) *html.Node {
	var found *html.Node
	Walk(n, func(c *html.Node) bool {
		if found != nil {
			return false
		}
		if c.Type == html.ElementNode && c.DataAtom == a {
			found = c
			return false
		}
		return true
	})
	return found
}
