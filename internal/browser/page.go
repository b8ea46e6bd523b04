package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"domkit-mcp-server/internal/dom"
	"domkit-mcp-server/internal/overlay"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
)

// ScrollStep is the distance in CSS pixels of one scroll unit.
const ScrollStep = 300

// DefaultScrollAmount is used when a scroll request names no amount.
const DefaultScrollAmount = 3

const invalidDirection = "Invalid direction. Use 'up', 'down', 'left', or 'right'"

// lookupJS resolves the first node an XPath expression selects.
const lookupJS = `const el = document.evaluate(xpath, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;`

// ActionResult is the envelope for page actions.
type ActionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Position is a scroll offset.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ScrollResult reports where a scroll started and ended.
type ScrollResult struct {
	ActionResult
	Direction string    `json:"direction"`
	Amount    int       `json:"amount"`
	Previous  *Position `json:"previous_position,omitempty"`
	Current   *Position `json:"new_position,omitempty"`
}

// evalInto runs js in the page and decodes its JSON result into out.
func evalInto(ctx context.Context, page *rod.Page, out interface{}, js string, args ...interface{}) error {
	res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           js,
		JSArgs:       args,
		ByValue:      true,
		AwaitPromise: true,
		UserGesture:  true,
	})
	if err != nil {
		return err
	}
	if res == nil || out == nil {
		return nil
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal eval result: %w", err)
	}
	return json.Unmarshal(raw, out)
}

// PageSurface mounts the overlay layer into a live page.
type PageSurface struct {
	Page *rod.Page
}

var _ overlay.Surface = PageSurface{}

func (s PageSurface) Detach(ctx context.Context, id string) (bool, error) {
	var removed bool
	err := evalInto(ctx, s.Page, &removed, `(id) => {
		let removed = false;
		for (let el = document.getElementById(id); el; el = document.getElementById(id)) {
			el.remove();
			removed = true;
		}
		return removed;
	}`, id)
	return removed, err
}

func (s PageSurface) Attach(ctx context.Context, layer overlay.Layer) error {
	return evalInto(ctx, s.Page, nil, `(id, style) => {
		const root = document.body || document.documentElement;
		if (!root) throw new Error("document has no body to attach to");
		const layer = document.createElement("div");
		layer.id = id;
		layer.setAttribute("style", style);
		root.appendChild(layer);
		return true;
	}`, layer.ID, overlay.LayerStyle(layer))
}

func (s PageSurface) Measure(ctx context.Context, address string) (dom.Rect, error) {
	var rect *dom.Rect
	err := evalInto(ctx, s.Page, &rect, `(xpath) => {
		`+lookupJS+`
		if (!el || !el.getBoundingClientRect) return null;
		const r = el.getBoundingClientRect();
		return {x: r.left, y: r.top, width: r.width, height: r.height};
	}`, address)
	if err != nil {
		return dom.Rect{}, err
	}
	if rect == nil {
		return dom.Rect{}, dom.ErrNotFound
	}
	return *rect, nil
}

func (s PageSurface) Draw(ctx context.Context, layerID string, box overlay.Box) error {
	return evalInto(ctx, s.Page, nil, `(id, label, boxStyle, chipStyle) => {
		const layer = document.getElementById(id);
		if (!layer) throw new Error("overlay layer is not mounted");
		const outline = document.createElement("div");
		outline.dataset.label = label;
		outline.setAttribute("style", boxStyle);
		const chip = document.createElement("div");
		chip.dataset.chip = label;
		chip.setAttribute("style", chipStyle);
		chip.textContent = label;
		layer.appendChild(outline);
		layer.appendChild(chip);
		return true;
	}`, layerID, box.Label, overlay.BoxStyle(box), overlay.ChipStyle(box))
}

// PageTarget fires synthetic events inside a live page.
type PageTarget struct {
	Page *rod.Page
}

func (t PageTarget) DispatchSequence(ctx context.Context, address string, types []string) error {
	var out struct {
		Found bool `json:"found"`
	}
	err := evalInto(ctx, t.Page, &out, `(xpath, types) => {
		`+lookupJS+`
		if (!el) return {found: false};
		for (const type of types) {
			const ev = type.startsWith("key")
				? new KeyboardEvent(type, {bubbles: true})
				: new Event(type, {bubbles: true});
			el.dispatchEvent(ev);
		}
		return {found: true};
	}`, address, types)
	if err != nil {
		return err
	}
	if !out.Found {
		return dom.ErrNotFound
	}
	return nil
}

// Click scrolls the element into view and plays a left-button press on it:
// mousedown, focus, mouseup, click. Hidden and disabled elements are refused.
func Click(ctx context.Context, page *rod.Page, address string) ActionResult {
	var res ActionResult
	err := evalInto(ctx, page, &res, `(xpath) => {
		`+lookupJS+`
		if (!el) return {success: false, error: "Element not found"};
		const style = window.getComputedStyle(el);
		if (style.display === "none" || style.visibility === "hidden") {
			return {success: false, error: "Element is not visible"};
		}
		if (el.disabled) return {success: false, error: "Element is disabled"};

		el.scrollIntoView({behavior: "instant", block: "center"});
		const r = el.getBoundingClientRect();
		const x = r.left + r.width / 2;
		const y = r.top + r.height / 2;
		const opts = {
			view: window, bubbles: true, cancelable: true,
			clientX: x, clientY: y, screenX: x + window.screenX, screenY: y + window.screenY,
			button: 0, buttons: 1,
		};
		try {
			el.dispatchEvent(new MouseEvent("mousedown", opts));
			if (el.focus) el.focus();
			el.dispatchEvent(new MouseEvent("mouseup", opts));
			el.dispatchEvent(new MouseEvent("click", opts));
		} catch (e) {
			try {
				el.click();
			} catch (fallback) {
				return {success: false, error: "Failed to click element: " + e.message + " (fallback also failed: " + fallback.message + ")"};
			}
		}
		return {success: true, message: "Element clicked successfully"};
	}`, address)
	if err != nil {
		return ActionResult{Success: false, Error: fmt.Sprintf("Click error: %v", err)}
	}
	return res
}

// FocusAndClear focuses a text field and selects its content so typing
// replaces it.
func FocusAndClear(ctx context.Context, page *rod.Page, address string) ActionResult {
	var res ActionResult
	err := evalInto(ctx, page, &res, `(xpath) => {
		`+lookupJS+`
		if (!el) return {success: false, error: "Element not found"};
		const style = window.getComputedStyle(el);
		if (style.display === "none" || style.visibility === "hidden") {
			return {success: false, error: "Element is not visible"};
		}
		if (el.disabled) return {success: false, error: "Element is disabled"};
		const tag = el.tagName.toLowerCase();
		const editable = el.hasAttribute("contenteditable");
		if (tag !== "input" && tag !== "textarea" && !editable) {
			return {success: false, error: "Element is not a text input field"};
		}
		el.scrollIntoView({behavior: "instant", block: "center"});
		el.focus();
		if (tag === "input" || tag === "textarea") {
			el.select();
		} else {
			const range = document.createRange();
			range.selectNodeContents(el);
			const sel = window.getSelection();
			sel.removeAllRanges();
			sel.addRange(range);
		}
		return {success: true, message: "Element focused and selected for typing"};
	}`, address)
	if err != nil {
		return ActionResult{Success: false, Error: fmt.Sprintf("Focus error: %v", err)}
	}
	return res
}

// TypeText types into the focused element. Newlines press Enter and tabs
// press Tab; everything else is inserted as text.
func TypeText(ctx context.Context, page *rod.Page, text string) error {
	p := page.Context(ctx)
	var run strings.Builder
	flush := func() error {
		if run.Len() == 0 {
			return nil
		}
		defer run.Reset()
		return p.InsertText(run.String())
	}
	for _, r := range text {
		var key input.Key
		switch r {
		case '\n':
			key = input.Enter
		case '\t':
			key = input.Tab
		default:
			run.WriteRune(r)
			continue
		}
		if err := flush(); err != nil {
			return err
		}
		if err := p.Keyboard.Type(key); err != nil {
			return fmt.Errorf("press %q: %w", r, err)
		}
	}
	return flush()
}

// Scroll moves the window by amount steps of ScrollStep pixels.
func Scroll(ctx context.Context, page *rod.Page, direction string, amount int) ScrollResult {
	if amount <= 0 {
		amount = DefaultScrollAmount
	}
	out := ScrollResult{Direction: direction, Amount: amount}

	distance := float64(amount * ScrollStep)
	var dx, dy float64
	switch strings.ToLower(direction) {
	case "up":
		dy = -distance
	case "down":
		dy = distance
	case "left":
		dx = -distance
	case "right":
		dx = distance
	default:
		out.Error = invalidDirection
		return out
	}

	var pos struct {
		Previous Position `json:"previous"`
		Current  Position `json:"current"`
	}
	err := evalInto(ctx, page, &pos, `(dx, dy) => {
		const at = () => ({
			x: window.pageXOffset || document.documentElement.scrollLeft,
			y: window.pageYOffset || document.documentElement.scrollTop,
		});
		const previous = at();
		window.scrollBy(dx, dy);
		return {previous, current: at()};
	}`, dx, dy)
	if err != nil {
		out.Error = fmt.Sprintf("Scroll error: %v", err)
		return out
	}
	out.Success = true
	out.Message = fmt.Sprintf("Scrolled %s by %dpx", strings.ToLower(direction), int(distance))
	out.Previous = &pos.Previous
	out.Current = &pos.Current
	return out
}
