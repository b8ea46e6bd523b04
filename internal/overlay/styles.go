package overlay

import (
	"fmt"
	"unicode/utf8"

	"domkit-mcp-server/internal/dom"
)

// TopZIndex is the highest 32-bit z-index browsers accept.
const TopZIndex = 2147483647

const (
	defaultChipHeight = 18
	chipCharWidth     = 7
	chipPadding       = 8
)

// chipRect sizes the label chip to its text and places it directly above the
// box, clamped to the top edge of the viewport.
func chipRect(box dom.Rect, label string, height float64) dom.Rect {
	top := box.Y - height
	if top < 0 {
		top = 0
	}
	return dom.Rect{
		X:      box.X,
		Y:      top,
		Width:  float64(utf8.RuneCountInString(label)*chipCharWidth + chipPadding),
		Height: height,
	}
}

// LayerStyle pins the layer to the viewport, above everything, transparent to
// the pointer.
func LayerStyle(l Layer) string {
	return fmt.Sprintf("position:fixed;top:0;left:0;width:100%%;height:100%%;pointer-events:none;z-index:%d;", l.ZIndex)
}

// BoxStyle outlines the element with a dashed border.
func BoxStyle(b Box) string {
	return fmt.Sprintf("position:fixed;left:%.1fpx;top:%.1fpx;width:%.1fpx;height:%.1fpx;border:2px dashed %s;box-sizing:border-box;pointer-events:none;",
		b.Rect.X, b.Rect.Y, b.Rect.Width, b.Rect.Height, b.Color)
}

// ChipStyle paints the solid label chip.
func ChipStyle(b Box) string {
	return fmt.Sprintf("position:fixed;left:%.1fpx;top:%.1fpx;min-width:%.1fpx;height:%.1fpx;line-height:%.1fpx;background:%s;color:#fff;font:bold 11px monospace;padding:0 4px;box-sizing:border-box;white-space:nowrap;pointer-events:none;",
		b.Chip.X, b.Chip.Y, b.Chip.Width, b.Chip.Height, b.Chip.Height, b.Color)
}
