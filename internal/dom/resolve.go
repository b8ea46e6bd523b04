package dom

import (
	"errors"
	"fmt"

	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"golang.org/x/net/html"
)

// ErrNotFound is returned when an address matches no element.
var ErrNotFound = errors.New("element not found")

// Resolve evaluates an address against the document and returns the first
// matching element in document order.
func (d *Document) Resolve(address string) (n *html.Node, err error) {
	defer func() {
		if r := recover(); r != nil {
			n, err = nil, fmt.Errorf("evaluate %q: %v", address, r)
		}
	}()
	if address == "" {
		return nil, ErrNotFound
	}
	expr, err := xpath.Compile(address)
	if err != nil {
		return nil, fmt.Errorf("compile address %q: %w", address, err)
	}
	n = htmlquery.QuerySelector(d.Root, expr)
	if n == nil || n.Type != html.ElementNode {
		return nil, ErrNotFound
	}
	return n, nil
}

// QueryAll evaluates an XPath expression and returns element matches. Any
// evaluation panic from the engine is returned as an error.
func (d *Document) QueryAll(expr string) (nodes []*html.Node, err error) {
	defer func() {
		if r := recover(); r != nil {
			nodes, err = nil, fmt.Errorf("evaluate %q: %v", expr, r)
		}
	}()
	all, err := htmlquery.QueryAll(d.Root, expr)
	if err != nil {
		return nil, err
	}
	for _, n := range all {
		if n.Type == html.ElementNode {
			nodes = append(nodes, n)
		}
	}
	return nodes, nil
}
