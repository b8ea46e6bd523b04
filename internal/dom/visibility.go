package dom

import "golang.org/x/net/html"

// IsVisible reports effective visibility. The element itself and each strict
// ancestor below the root element must have display other than none and
// visibility other than hidden. Opacity and geometry play no part.
func (d *Document) IsVisible(n *html.Node) bool {
	if !IsElement(n) {
		return false
	}
	if d.Style(n).Hidden() {
		return false
	}
	for cur := n.Parent; cur != nil && !isRootElement(cur); cur = cur.Parent {
		if cur.Type == html.DocumentNode {
			break
		}
		if cur.Type == html.ElementNode && d.Style(cur).Hidden() {
			return false
		}
	}
	return true
}

func isRootElement(n *html.Node) bool {
	return n.Type == html.ElementNode && n.Parent != nil && n.Parent.Type == html.DocumentNode
}
