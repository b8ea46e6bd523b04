package dom

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// maxLocateDepth bounds the upward walk of Locate.
const maxLocateDepth = 512

// Locate computes the canonical XPath address of an element.
//
// Elements with an id are anchored by it: //*[@id="main"]. The root element is
// /html. Everything else is its parent's address plus tag[k], where k counts
// preceding element siblings with the same tag, starting at 1. Detached nodes
// and non-elements yield "".
func Locate(n *html.Node) string {
	return locate(n, 0)
}

func locate(n *html.Node, depth int) string {
	if !IsElement(n) || depth > maxLocateDepth {
		return ""
	}
	if id := Attr(n, "id"); id != "" {
		if !attached(n) {
			return ""
		}
		return "//*[@id=" + Literal(id) + "]"
	}
	parent := n.Parent
	if parent == nil {
		return ""
	}
	if parent.Type == html.DocumentNode {
		return "/" + n.Data
	}
	prefix := locate(parent, depth+1)
	if prefix == "" {
		return ""
	}
	return prefix + "/" + n.Data + "[" + strconv.Itoa(position(n)) + "]"
}

// position is the 1-based index of n among its same-tag element siblings.
// Tags compare by local name as stored, which is also what XPath matches on.
func position(n *html.Node) int {
	k := 1
	for s := n.PrevSibling; s != nil; s = s.PrevSibling {
		if s.Type == html.ElementNode && s.Data == n.Data {
			k++
		}
	}
	return k
}

func attached(n *html.Node) bool {
	for depth := 0; n != nil && depth <= maxLocateDepth; depth++ {
		if n.Type == html.DocumentNode {
			return true
		}
		n = n.Parent
	}
	return false
}

// Literal quotes s as an XPath 1.0 string literal. XPath has no escapes, so a
// value holding both quote kinds is spelled with concat().
func Literal(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	var b strings.Builder
	b.WriteString("concat(")
	for i, p := range parts {
		if i > 0 {
			b.WriteString(`, '"', `)
		}
		b.WriteString(`"` + p + `"`)
	}
	b.WriteString(")")
	return b.String()
}
