package overlay

import (
	"context"
	"errors"

	"domkit-mcp-server/internal/dom"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DocumentSurface renders the layer as real elements of an in-memory document.
type DocumentSurface struct {
	Doc *dom.Document
}

var errNoBody = errors.New("document has no body to attach to")

func (s DocumentSurface) Detach(_ context.Context, id string) (bool, error) {
	removed := false
	for {
		n := s.Doc.ElementByID(id)
		if n == nil || n.Parent == nil {
			return removed, nil
		}
		n.Parent.RemoveChild(n)
		removed = true
	}
}

func (s DocumentSurface) Attach(_ context.Context, layer Layer) error {
	body := s.Doc.Body()
	if body == nil {
		return errNoBody
	}
	div := element("div",
		html.Attribute{Key: "id", Val: layer.ID},
		html.Attribute{Key: "style", Val: LayerStyle(layer)},
	)
	body.AppendChild(div)
	return nil
}

func (s DocumentSurface) Measure(_ context.Context, address string) (dom.Rect, error) {
	n, err := s.Doc.Resolve(address)
	if err != nil {
		return dom.Rect{}, err
	}
	return s.Doc.Rect(n), nil
}

func (s DocumentSurface) Draw(_ context.Context, layerID string, box Box) error {
	layer := s.Doc.ElementByID(layerID)
	if layer == nil {
		return errors.New("overlay layer is not mounted")
	}
	outline := element("div",
		html.Attribute{Key: "data-label", Val: box.Label},
		html.Attribute{Key: "style", Val: BoxStyle(box)},
	)
	chip := element("div",
		html.Attribute{Key: "data-chip", Val: box.Label},
		html.Attribute{Key: "style", Val: ChipStyle(box)},
	)
	chip.AppendChild(&html.Node{Type: html.TextNode, Data: box.Label})
	layer.AppendChild(outline)
	layer.AppendChild(chip)
	return nil
}

func element(tag string, attrs ...html.Attribute) *html.Node {
	return &html.Node{
		Type:     html.ElementNode,
		Data:     tag,
		DataAtom: atom.Lookup([]byte(tag)),
		Attr:     attrs,
	}
}
