package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"domkit-mcp-server/internal/dom"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Node types as reported by the DOMSnapshot domain.
const (
	nodeElement  = 1
	nodeText     = 3
	nodeComment  = 8
	nodeDocument = 9
	nodeDoctype  = 10
)

// snapshotStyles is the order of computed styles requested per layout node.
var snapshotStyles = []string{"display", "visibility"}

var errEmptySnapshot = errors.New("snapshot contained no document")

// Snapshot captures the page's main document with computed display and
// visibility for every element and boxes relative to the viewport.
func Snapshot(ctx context.Context, page *rod.Page) (*dom.Document, error) {
	p := page.Context(ctx)
	res, err := proto.DOMSnapshotCaptureSnapshot{ComputedStyles: snapshotStyles}.Call(p)
	if err != nil {
		return nil, fmt.Errorf("capture snapshot: %w", err)
	}
	doc, err := DocumentFromSnapshot(res)
	if err != nil {
		return nil, err
	}
	if metrics, err := (proto.PageGetLayoutMetrics{}).Call(p); err == nil && metrics.CSSLayoutViewport != nil {
		v := metrics.CSSLayoutViewport
		doc.Viewport = dom.Rect{Width: float64(v.ClientWidth), Height: float64(v.ClientHeight)}
	}
	return doc, nil
}

// DocumentFromSnapshot rebuilds the first document of a snapshot as a node
// tree. Elements the browser laid out carry their computed style and box;
// elements without a layout object are display:none unless something below
// them was laid out, in which case they are treated as display:contents.
// Shadow roots, pseudo-elements and nested frames are not included.
func DocumentFromSnapshot(res *proto.DOMSnapshotCaptureSnapshotResult) (*dom.Document, error) {
	if res == nil || len(res.Documents) == 0 || res.Documents[0].Nodes == nil {
		return nil, errEmptySnapshot
	}
	snap := res.Documents[0]
	str := func(i proto.DOMSnapshotStringIndex) string {
		if int(i) < 0 || int(i) >= len(res.Strings) {
			return ""
		}
		return res.Strings[i]
	}

	nodes := snap.Nodes
	built := make([]*html.Node, len(nodes.NodeType))
	var root *html.Node

	for i, typ := range nodes.NodeType {
		parent := -1
		if i < len(nodes.ParentIndex) {
			parent = nodes.ParentIndex[i]
		}
		var name, value string
		if i < len(nodes.NodeName) {
			name = str(nodes.NodeName[i])
		}
		if i < len(nodes.NodeValue) {
			value = str(nodes.NodeValue[i])
		}

		var n *html.Node
		switch typ {
		case nodeDocument:
			if root != nil {
				continue
			}
			n = &html.Node{Type: html.DocumentNode}
			root = n
		case nodeElement:
			if strings.HasPrefix(name, "::") {
				continue
			}
			tag := elementName(name)
			n = &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
			if i < len(nodes.Attributes) {
				n.Attr = attributes(nodes.Attributes[i], str)
			}
		case nodeText:
			n = &html.Node{Type: html.TextNode, Data: value}
		case nodeComment:
			n = &html.Node{Type: html.CommentNode, Data: value}
		case nodeDoctype:
			n = &html.Node{Type: html.DoctypeNode, Data: strings.ToLower(name)}
		default:
			continue
		}

		if parent < 0 {
			if n != root {
				continue
			}
		} else {
			if parent >= len(built) || built[parent] == nil {
				continue
			}
			built[parent].AppendChild(n)
		}
		built[i] = n
	}
	if root == nil {
		return nil, errEmptySnapshot
	}

	doc := dom.NewDocument(root)
	doc.URL = str(snap.DocumentURL)
	doc.Title = str(snap.Title)

	var scrollX, scrollY float64
	if snap.ScrollOffsetX != nil {
		scrollX = *snap.ScrollOffsetX
	}
	if snap.ScrollOffsetY != nil {
		scrollY = *snap.ScrollOffsetY
	}

	styled := make(map[*html.Node]bool)
	hasLayoutBelow := make(map[*html.Node]bool)
	if lay := snap.Layout; lay != nil {
		for j, idx := range lay.NodeIndex {
			if idx < 0 || idx >= len(built) || built[idx] == nil {
				continue
			}
			n := built[idx]
			for p := n.Parent; p != nil && !hasLayoutBelow[p]; p = p.Parent {
				hasLayoutBelow[p] = true
			}
			if n.Type != html.ElementNode || styled[n] {
				continue
			}
			styled[n] = true

			st := dom.Style{Display: "inline", Visibility: "visible"}
			if j < len(lay.Styles) {
				vals := lay.Styles[j]
				if len(vals) > 0 {
					st.Display = str(vals[0])
				}
				if len(vals) > 1 {
					st.Visibility = str(vals[1])
				}
			}
			doc.SetStyle(n, st)

			if j < len(lay.Bounds) && len(lay.Bounds[j]) == 4 {
				b := lay.Bounds[j]
				doc.SetRect(n, dom.Rect{X: b[0] - scrollX, Y: b[1] - scrollY, Width: b[2], Height: b[3]})
			}
		}
	}

	// built is in document order, so a parent's style is settled before its
	// children are visited.
	for _, n := range built {
		if n == nil || n.Type != html.ElementNode || styled[n] {
			continue
		}
		st := dom.Style{Display: "none", Visibility: "visible"}
		switch {
		case boxless[n.DataAtom]:
			st.Display = "inline"
			if n.Parent != nil && n.Parent.Type == html.ElementNode {
				st.Visibility = doc.Style(n.Parent).Visibility
			}
		case hasLayoutBelow[n]:
			st.Display = "contents"
		}
		doc.SetStyle(n, st)
	}
	return doc, nil
}

// boxless elements are rendered through another element and never get a
// layout object of their own, yet compute to display:inline. Image map areas
// are hit-tested through their <img>.
var boxless = map[atom.Atom]bool{
	atom.Map:  true,
	atom.Area: true,
}

// elementName lowercases HTML names, which the browser reports in upper case,
// and leaves mixed-case foreign names such as SVG's linearGradient alone.
func elementName(name string) string {
	if strings.ToUpper(name) == name {
		return strings.ToLower(name)
	}
	return name
}

func attributes(flat proto.DOMSnapshotArrayOfStrings, str func(proto.DOMSnapshotStringIndex) string) []html.Attribute {
	out := make([]html.Attribute, 0, len(flat)/2)
	for k := 0; k+1 < len(flat); k += 2 {
		out = append(out, html.Attribute{Key: str(flat[k]), Val: str(flat[k+1])})
	}
	return out
}
