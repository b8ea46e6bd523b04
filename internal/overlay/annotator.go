// Package overlay draws labelled bounding boxes over page elements on a
// single, replaceable layer.
package overlay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"domkit-mcp-server/internal/dom"

	"go.uber.org/zap"
)

// LayerID is the reserved id of the overlay layer.
const LayerID = "domkit-overlay-layer"

// ErrZeroArea marks an element that resolved but has nothing to outline.
var ErrZeroArea = errors.New("element has zero area")

// DefaultPalette is cycled through in request order.
var DefaultPalette = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#F9A826",
	"#A66CFF", "#2ECC71", "#FF8FAB", "#3D5AFE",
}

// Entry asks for one element to be outlined under Label.
type Entry struct {
	Label   string `json:"label"`
	Address string `json:"xpath"`
}

// Box is a drawn outline plus its label chip, in viewport pixels.
type Box struct {
	Label   string   `json:"label"`
	Address string   `json:"xpath"`
	Color   string   `json:"color"`
	Rect    dom.Rect `json:"rect"`
	Chip    dom.Rect `json:"chip"`
}

// Failure records an entry that could not be drawn.
type Failure struct {
	Label   string `json:"label"`
	Address string `json:"xpath"`
	Error   string `json:"error"`
}

// Result is the envelope returned to callers.
type Result struct {
	Success  bool      `json:"success"`
	Count    int       `json:"count"`
	Message  string    `json:"message,omitempty"`
	Error    string    `json:"error,omitempty"`
	Failures []Failure `json:"failures,omitempty"`
}

// Surface is where a layer lives: an in-memory document or a live page.
type Surface interface {
	// Detach removes the element with the given id and reports whether one
	// existed.
	Detach(ctx context.Context, id string) (bool, error)
	// Attach mounts an empty layer. An error here is structural.
	Attach(ctx context.Context, layer Layer) error
	// Measure resolves an address to its current viewport rectangle.
	Measure(ctx context.Context, address string) (dom.Rect, error)
	// Draw appends one box to the mounted layer.
	Draw(ctx context.Context, layerID string, box Box) error
}

// Layer describes the mounted container.
type Layer struct {
	ID     string `json:"id"`
	ZIndex int    `json:"z_index"`
}

// Options tunes an Annotator. Zero values take defaults.
type Options struct {
	LayerID    string
	Palette    []string
	ChipHeight float64
}

// Annotator owns the overlay layer. It remembers the boxes of the layer it
// last mounted; each Annotate call replaces them.
type Annotator struct {
	layerID    string
	palette    []string
	chipHeight float64
	logger     *zap.Logger

	mu      sync.Mutex
	mounted []Box
}

// New builds an Annotator.
func New(opts Options, logger *zap.Logger) *Annotator {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Annotator{
		layerID:    opts.LayerID,
		palette:    opts.Palette,
		chipHeight: opts.ChipHeight,
		logger:     logger.Named("overlay"),
	}
	if a.layerID == "" {
		a.layerID = LayerID
	}
	if len(a.palette) == 0 {
		a.palette = DefaultPalette
	}
	if a.chipHeight <= 0 {
		a.chipHeight = defaultChipHeight
	}
	return a
}

// LayerID returns the id the annotator mounts under.
func (a *Annotator) LayerID() string { return a.layerID }

// Mounted returns a copy of the boxes on the current layer.
func (a *Annotator) Mounted() []Box {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Box(nil), a.mounted...)
}

// Annotate replaces any existing layer with a fresh one and outlines each
// entry on it. Entries that do not resolve, have zero area or fail to draw
// are skipped and reported; only a failure to mount the layer makes the
// result unsuccessful.
func (a *Annotator) Annotate(ctx context.Context, s Surface, entries []Entry) Result {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := s.Detach(ctx, a.layerID); err != nil {
		a.logger.Warn("detach previous layer", zap.String("layer", a.layerID), zap.Error(err))
	}
	a.mounted = nil

	if err := s.Attach(ctx, Layer{ID: a.layerID, ZIndex: TopZIndex}); err != nil {
		a.logger.Error("attach layer", zap.String("layer", a.layerID), zap.Error(err))
		return Result{Success: false, Error: fmt.Sprintf("attach overlay layer: %v", err)}
	}

	out := fold(entries, outcome{}, func(acc outcome, e Entry) outcome {
		box, err := a.draw(ctx, s, len(acc.drawn), e)
		if err != nil {
			a.logger.Debug("skip annotation", zap.String("label", e.Label), zap.String("xpath", e.Address), zap.Error(err))
			acc.failures = append(acc.failures, Failure{Label: e.Label, Address: e.Address, Error: err.Error()})
			return acc
		}
		acc.drawn = append(acc.drawn, box)
		return acc
	})
	a.mounted = out.drawn

	a.logger.Debug("annotated", zap.Int("drawn", len(out.drawn)), zap.Int("failed", len(out.failures)))
	return Result{
		Success:  true,
		Count:    len(out.drawn),
		Message:  fmt.Sprintf("Drew %d of %d element boxes", len(out.drawn), len(entries)),
		Failures: out.failures,
	}
}

// Remove detaches the layer if present.
func (a *Annotator) Remove(ctx context.Context, s Surface) Result {
	a.mu.Lock()
	defer a.mu.Unlock()

	existed, err := s.Detach(ctx, a.layerID)
	if err != nil {
		return Result{Success: false, Error: fmt.Sprintf("remove overlay layer: %v", err)}
	}
	count := len(a.mounted)
	a.mounted = nil
	if !existed {
		return Result{Success: true, Message: "No element boxes to remove"}
	}
	return Result{Success: true, Count: count, Message: "Element boxes removed"}
}

type outcome struct {
	drawn    []Box
	failures []Failure
}

func fold(entries []Entry, acc outcome, step func(outcome, Entry) outcome) outcome {
	for _, e := range entries {
		acc = step(acc, e)
	}
	return acc
}

// draw measures and paints one entry. slot is the number of boxes already
// drawn and picks the palette color.
func (a *Annotator) draw(ctx context.Context, s Surface, slot int, e Entry) (box Box, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("draw panicked: %v", r)
		}
	}()

	if e.Address == "" {
		return Box{}, dom.ErrNotFound
	}
	rect, err := s.Measure(ctx, e.Address)
	if err != nil {
		return Box{}, err
	}
	if rect.Empty() {
		return Box{}, ErrZeroArea
	}
	box = Box{
		Label:   e.Label,
		Address: e.Address,
		Color:   a.palette[slot%len(a.palette)],
		Rect:    rect,
		Chip:    chipRect(rect, e.Label, a.chipHeight),
	}
	if err := s.Draw(ctx, a.layerID, box); err != nil {
		return Box{}, err
	}
	return box, nil
}
