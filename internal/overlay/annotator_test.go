package overlay

import (
	"context"
	"errors"
	"strings"
	"testing"

	"domkit-mcp-server/internal/dom"

	"go.uber.org/zap/zaptest"
	"golang.org/x/net/html"
)

func page(t *testing.T) *dom.Document {
	t.Helper()
	doc, err := dom.ParseString(`<html><body>
		<button id="a">A</button>
		<span id="b"></span>
		<div id="c">C</div>
	</body></html>`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	doc.SetRect(doc.ElementByID("a"), dom.Rect{X: 10, Y: 50, Width: 100, Height: 20})
	doc.SetRect(doc.ElementByID("b"), dom.Rect{X: 10, Y: 90})
	doc.SetRect(doc.ElementByID("c"), dom.Rect{X: 0, Y: 4, Width: 30, Height: 30})
	return doc
}

func countByID(doc *dom.Document, id string) int {
	count := 0
	dom.Walk(doc.Root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && dom.Attr(n, "id") == id {
			count++
		}
		return true
	})
	return count
}

func labelsOnLayer(doc *dom.Document) []string {
	var labels []string
	layer := doc.ElementByID(LayerID)
	if layer == nil {
		return nil
	}
	for c := layer.FirstChild; c != nil; c = c.NextSibling {
		if v, ok := dom.LookupAttr(c, "data-label"); ok {
			labels = append(labels, v)
		}
	}
	return labels
}

func TestAnnotateSkipsZeroArea(t *testing.T) {
	doc := page(t)
	a := New(Options{}, zaptest.NewLogger(t))

	res := a.Annotate(context.Background(), DocumentSurface{Doc: doc}, []Entry{
		{Label: "A", Address: `//*[@id="a"]`},
		{Label: "B", Address: `//*[@id="b"]`},
	})

	if !res.Success || res.Count != 1 {
		t.Fatalf("result = %+v, want success with count 1", res)
	}
	if len(res.Failures) != 1 || res.Failures[0].Label != "B" {
		t.Errorf("failures = %+v", res.Failures)
	}
	if got := strings.Join(labelsOnLayer(doc), ","); got != "A" {
		t.Errorf("labels on layer = %s", got)
	}
}

func TestAnnotateSingletonLayer(t *testing.T) {
	doc := page(t)
	a := New(Options{}, zaptest.NewLogger(t))
	surface := DocumentSurface{Doc: doc}
	ctx := context.Background()

	a.Annotate(ctx, surface, []Entry{{Label: "first", Address: `//*[@id="a"]`}})
	res := a.Annotate(ctx, surface, []Entry{
		{Label: "second", Address: `//*[@id="c"]`},
		{Label: "third", Address: `//*[@id="a"]`},
	})

	if res.Count != 2 {
		t.Fatalf("count = %d, want 2", res.Count)
	}
	if n := countByID(doc, LayerID); n != 1 {
		t.Fatalf("found %d overlay layers, want 1", n)
	}
	if got := strings.Join(labelsOnLayer(doc), ","); got != "second,third" {
		t.Errorf("labels on layer = %s, want second,third", got)
	}
	if len(a.Mounted()) != 2 {
		t.Errorf("mounted = %+v", a.Mounted())
	}
}

func TestAnnotateGeometryAndColors(t *testing.T) {
	doc := page(t)
	palette := []string{"red", "green"}
	a := New(Options{Palette: palette, ChipHeight: 16}, zaptest.NewLogger(t))

	a.Annotate(context.Background(), DocumentSurface{Doc: doc}, []Entry{
		{Label: "one", Address: `//*[@id="a"]`},
		{Label: "two", Address: `//*[@id="c"]`},
		{Label: "three", Address: `//*[@id="a"]`},
	})
	boxes := a.Mounted()
	if len(boxes) != 3 {
		t.Fatalf("expected 3 boxes, got %d", len(boxes))
	}

	wantColors := []string{"red", "green", "red"}
	for i, b := range boxes {
		if b.Color != wantColors[i] {
			t.Errorf("box %d color = %s, want %s", i, b.Color, wantColors[i])
		}
	}
	if boxes[0].Chip.Y != 34 {
		t.Errorf("chip above box at y=%v, want 34", boxes[0].Chip.Y)
	}
	if boxes[1].Chip.Y != 0 {
		t.Errorf("chip not clamped to viewport top: y=%v", boxes[1].Chip.Y)
	}
	if boxes[2].Chip.Width <= boxes[0].Chip.Width {
		t.Errorf("chip width does not follow label length: %v vs %v", boxes[2].Chip.Width, boxes[0].Chip.Width)
	}

	layer := doc.ElementByID(LayerID)
	style := dom.Attr(layer, "style")
	for _, want := range []string{"position:fixed", "pointer-events:none", "z-index:2147483647"} {
		if !strings.Contains(style, want) {
			t.Errorf("layer style %q missing %q", style, want)
		}
	}
	if !strings.Contains(BoxStyle(boxes[0]), "dashed red") {
		t.Errorf("box style = %q", BoxStyle(boxes[0]))
	}
}

func TestAnnotateUnresolvable(t *testing.T) {
	doc := page(t)
	a := New(Options{}, zaptest.NewLogger(t))

	res := a.Annotate(context.Background(), DocumentSurface{Doc: doc}, []Entry{
		{Label: "gone", Address: `//*[@id="missing"]`},
		{Label: "bad", Address: `//*[`},
	})
	if !res.Success || res.Count != 0 || len(res.Failures) != 2 {
		t.Errorf("result = %+v", res)
	}
	if len(res.Failures) > 0 && res.Failures[0].Error != dom.ErrNotFound.Error() {
		t.Errorf("first failure = %q", res.Failures[0].Error)
	}
}

func TestAnnotateColorsFollowDrawnBoxes(t *testing.T) {
	doc := page(t)
	a := New(Options{Palette: []string{"red", "green"}}, zaptest.NewLogger(t))

	res := a.Annotate(context.Background(), DocumentSurface{Doc: doc}, []Entry{
		{Label: "gone", Address: `//*[@id="missing"]`},
		{Label: "flat", Address: `//*[@id="b"]`},
		{Label: "one", Address: `//*[@id="a"]`},
		{Label: "two", Address: `//*[@id="c"]`},
	})
	if res.Count != 2 || len(res.Failures) != 2 {
		t.Fatalf("result = %+v", res)
	}
	boxes := a.Mounted()
	if boxes[0].Color != "red" || boxes[1].Color != "green" {
		t.Errorf("colors = %s, %s; want red, green", boxes[0].Color, boxes[1].Color)
	}
}

func TestAnnotateUnknownLabelEntry(t *testing.T) {
	doc := page(t)
	a := New(Options{}, zaptest.NewLogger(t))

	res := a.Annotate(context.Background(), DocumentSurface{Doc: doc}, []Entry{
		{Label: "known", Address: `//*[@id="a"]`},
		{Label: "unknown"},
	})
	if !res.Success || res.Count != 1 || len(res.Failures) != 1 {
		t.Fatalf("result = %+v", res)
	}
	if f := res.Failures[0]; f.Label != "unknown" || f.Error != dom.ErrNotFound.Error() {
		t.Errorf("failure = %+v", f)
	}
	if got := labelsOnLayer(doc); len(got) != 1 || got[0] != "known" {
		t.Errorf("labels on layer = %v", got)
	}
}

type flakySurface struct {
	DocumentSurface
	attachErr error
	drawFails map[string]bool
	panics    map[string]bool
}

func (s flakySurface) Attach(ctx context.Context, l Layer) error {
	if s.attachErr != nil {
		return s.attachErr
	}
	return s.DocumentSurface.Attach(ctx, l)
}

func (s flakySurface) Draw(ctx context.Context, id string, b Box) error {
	if s.panics[b.Label] {
		panic("renderer crashed")
	}
	if s.drawFails[b.Label] {
		return errors.New("draw failed")
	}
	return s.DocumentSurface.Draw(ctx, id, b)
}

func TestAnnotatePartialFailures(t *testing.T) {
	doc := page(t)
	a := New(Options{}, zaptest.NewLogger(t))
	s := flakySurface{
		DocumentSurface: DocumentSurface{Doc: doc},
		drawFails:       map[string]bool{"x": true},
		panics:          map[string]bool{"y": true},
	}

	res := a.Annotate(context.Background(), s, []Entry{
		{Label: "x", Address: `//*[@id="a"]`},
		{Label: "y", Address: `//*[@id="a"]`},
		{Label: "z", Address: `//*[@id="c"]`},
	})
	if !res.Success || res.Count != 1 || len(res.Failures) != 2 {
		t.Errorf("result = %+v", res)
	}
}

func TestAnnotateStructuralFailure(t *testing.T) {
	doc := page(t)
	a := New(Options{}, zaptest.NewLogger(t))
	s := flakySurface{DocumentSurface: DocumentSurface{Doc: doc}, attachErr: errors.New("no document")}

	res := a.Annotate(context.Background(), s, []Entry{{Label: "A", Address: `//*[@id="a"]`}})
	if res.Success || res.Count != 0 || res.Error == "" {
		t.Errorf("result = %+v, want structural failure", res)
	}

	empty := dom.NewDocument(nil)
	res = a.Annotate(context.Background(), DocumentSurface{Doc: empty}, nil)
	if res.Success {
		t.Errorf("attach to an empty document succeeded: %+v", res)
	}
}

func TestRemove(t *testing.T) {
	doc := page(t)
	a := New(Options{}, nil)
	surface := DocumentSurface{Doc: doc}
	ctx := context.Background()

	if res := a.Remove(ctx, surface); !res.Success || res.Count != 0 {
		t.Errorf("remove without layer = %+v", res)
	}
	a.Annotate(ctx, surface, []Entry{{Label: "A", Address: `//*[@id="a"]`}})
	res := a.Remove(ctx, surface)
	if !res.Success || res.Count != 1 {
		t.Errorf("remove = %+v", res)
	}
	if n := countByID(doc, LayerID); n != 0 {
		t.Errorf("%d layers left after remove", n)
	}
}
