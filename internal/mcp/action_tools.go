package mcp

import (
	"context"
	"fmt"

	"domkit-mcp-server/internal/browser"
	"domkit-mcp-server/internal/dom"
	"domkit-mcp-server/internal/events"
	"domkit-mcp-server/internal/facts"
	"domkit-mcp-server/internal/overlay"

	"go.uber.org/zap"
)

// AnnotateElementsTool draws labelled boxes over elements of a live page.
type AnnotateElementsTool struct {
	sessions *browser.SessionManager
	engine   *facts.Engine
	logger   *zap.Logger
}

func (t *AnnotateElementsTool) Name() string { return "annotate-elements" }
func (t *AnnotateElementsTool) Description() string {
	return `Draw a dashed box and a label chip over each element, so a screenshot of
the page shows which label points where.

Any previous overlay is removed first. Elements that cannot be found or have
no area are listed in failures; the rest are still drawn. An unregistered
label is listed as a not-found failure.

WHICH ELEMENTS:
- elements: explicit [{label, xpath}] pairs, drawn in the given order
- labels: registered labels to draw (from register_labels on an extraction)
- neither: every label currently registered for the session

Records annotated facts for query-element-facts.

Returns: {success, count, failures?}`
}
func (t *AnnotateElementsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": sessionIDProperty("Session whose page is annotated"),
			"labels": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Registered labels to draw",
			},
			"elements": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"label": map[string]interface{}{"type": "string"},
						"xpath": map[string]interface{}{"type": "string"},
					},
					"required": []string{"label", "xpath"},
				},
				"description": "Explicit label and XPath pairs",
			},
		},
		"required": []string{"session_id"},
	}
}
func (t *AnnotateElementsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	sessionID := getStringArg(args, "session_id")
	if sessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}

	entries, err := getEntriesArg(args, "elements")
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		labels := getStringSliceArg(args, "labels")
		if len(labels) > 0 {
			registry := t.sessions.Labels(sessionID)
			if registry == nil {
				return nil, fmt.Errorf("%w: %s", browser.ErrUnknown, sessionID)
			}
			entries = labelEntries(registry, labels)
		}
	}

	res, err := t.sessions.Annotate(ctx, sessionID, entries)
	if err != nil {
		return nil, err
	}
	recordFacts(ctx, t.engine, t.logger, sessionID, facts.PredAnnotated, facts.AnnotationFacts(sessionID, t.sessions.Mounted(sessionID)))
	return res, nil
}

// labelEntries resolves registered labels in order. Unknown labels keep an
// empty address so the overlay reports them as not found.
func labelEntries(registry *browser.LabelRegistry, labels []string) []overlay.Entry {
	entries := make([]overlay.Entry, 0, len(labels))
	for _, l := range labels {
		e, ok := registry.Lookup(l)
		if !ok {
			entries = append(entries, overlay.Entry{Label: l})
			continue
		}
		entries = append(entries, overlay.Entry{Label: e.Label, Address: e.Address})
	}
	return entries
}

// RemoveAnnotationsTool removes the overlay layer.
type RemoveAnnotationsTool struct {
	sessions *browser.SessionManager
	engine   *facts.Engine
	logger   *zap.Logger
}

func (t *RemoveAnnotationsTool) Name() string { return "remove-annotations" }
func (t *RemoveAnnotationsTool) Description() string {
	return `Remove the overlay drawn by annotate-elements. Labels stay registered.

Returns: {success, count, message} where count is the number of boxes removed.`
}
func (t *RemoveAnnotationsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": sessionIDProperty("Session whose overlay is removed"),
		},
		"required": []string{"session_id"},
	}
}
func (t *RemoveAnnotationsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	sessionID := getStringArg(args, "session_id")
	if sessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	res, err := t.sessions.RemoveAnnotations(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	recordFacts(ctx, t.engine, t.logger, sessionID, facts.PredAnnotated, nil)
	return res, nil
}

// DispatchInputEventsTool fires input, change and keyup at an element.
type DispatchInputEventsTool struct {
	sessions *browser.SessionManager
}

func (t *DispatchInputEventsTool) Name() string { return "dispatch-input-events" }
func (t *DispatchInputEventsTool) Description() string {
	return `Fire bubbling input, change and keyup events at an element, in that order.

Use after changing a value by other means so frameworks that listen for these
events pick it up. input-data already does this.

Returns: {success, message} or {success: false, error}`
}
func (t *DispatchInputEventsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": sessionIDProperty("Session whose page receives the events. Mutually exclusive with html."),
			"html": map[string]interface{}{
				"type":        "string",
				"description": "Static document to dispatch into instead of a live page",
			},
			"element": map[string]interface{}{
				"type":        "string",
				"description": "Element label or XPath",
			},
		},
		"required": []string{"element"},
	}
}
func (t *DispatchInputEventsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	ref := getStringArg(args, "element")
	if ref == "" {
		return nil, fmt.Errorf("element is required")
	}
	if sessionID := getStringArg(args, "session_id"); sessionID != "" {
		return t.sessions.DispatchEvents(ctx, sessionID, ref)
	}
	raw := getStringArg(args, "html")
	if raw == "" {
		return nil, fmt.Errorf("session_id or html is required")
	}
	doc, err := dom.ParseString(raw)
	if err != nil {
		return nil, err
	}
	return events.NewSynthesizer(nil).Dispatch(ctx, events.DocumentTarget{Doc: doc}, ref), nil
}

// InputDataTool types a value into a field.
type InputDataTool struct {
	sessions *browser.SessionManager
}

func (t *InputDataTool) Name() string { return "input-data" }
func (t *InputDataTool) Description() string {
	return `Type a value into a form field, replacing its content.

The field is focused and cleared, the value is typed with real key events,
then input, change and keyup are fired. "\n" in the value presses Enter and
"\t" presses Tab.

Returns: {success, label?, xpath, input_value, message} or {success: false, error}`
}
func (t *InputDataTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": sessionIDProperty("Target session"),
			"element": map[string]interface{}{
				"type":        "string",
				"description": "Element label or XPath of the field",
			},
			"value": map[string]interface{}{
				"type":        "string",
				"description": "Text to type",
			},
		},
		"required": []string{"session_id", "element", "value"},
	}
}
func (t *InputDataTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	sessionID := getStringArg(args, "session_id")
	ref := getStringArg(args, "element")
	if sessionID == "" || ref == "" {
		return nil, fmt.Errorf("session_id and element are required")
	}
	if _, ok := args["value"]; !ok {
		return nil, fmt.Errorf("value is required")
	}
	return t.sessions.InputData(ctx, sessionID, ref, getStringArg(args, "value"))
}

// ClickElementTool clicks an element.
type ClickElementTool struct {
	sessions *browser.SessionManager
}

func (t *ClickElementTool) Name() string { return "click-element" }
func (t *ClickElementTool) Description() string {
	return `Scroll an element into view and click it.

Hidden and disabled elements are refused. A click that navigates clears the
session's labels.

Returns: {success, label?, xpath, message} or {success: false, error}`
}
func (t *ClickElementTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": sessionIDProperty("Target session"),
			"element": map[string]interface{}{
				"type":        "string",
				"description": "Element label or XPath",
			},
		},
		"required": []string{"session_id", "element"},
	}
}
func (t *ClickElementTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	sessionID := getStringArg(args, "session_id")
	ref := getStringArg(args, "element")
	if sessionID == "" || ref == "" {
		return nil, fmt.Errorf("session_id and element are required")
	}
	return t.sessions.Click(ctx, sessionID, ref)
}

// ScrollPageTool scrolls the window.
type ScrollPageTool struct {
	sessions *browser.SessionManager
}

func (t *ScrollPageTool) Name() string { return "scroll-page" }
func (t *ScrollPageTool) Description() string {
	return fmt.Sprintf(`Scroll the window by a number of %dpx steps.

Returns: {success, direction, amount, previous_position, new_position}`, browser.ScrollStep)
}
func (t *ScrollPageTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": sessionIDProperty("Target session"),
			"direction": map[string]interface{}{
				"type":        "string",
				"description": "Scroll direction",
				"enum":        []string{"up", "down", "left", "right"},
			},
			"amount": map[string]interface{}{
				"type":        "integer",
				"description": fmt.Sprintf("Number of steps. Default: %d", browser.DefaultScrollAmount),
			},
		},
		"required": []string{"session_id", "direction"},
	}
}
func (t *ScrollPageTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	sessionID := getStringArg(args, "session_id")
	if sessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	return t.sessions.Scroll(ctx, sessionID, getStringArg(args, "direction"), getIntArg(args, "amount", browser.DefaultScrollAmount))
}

func getStringSliceArg(args map[string]interface{}, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v != "" {
			return []string{v}
		}
	}
	return nil
}

func getEntriesArg(args map[string]interface{}, key string) ([]overlay.Entry, error) {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil, nil
	}
	out := make([]overlay.Entry, 0, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%s[%d] must be an object", key, i)
		}
		e := overlay.Entry{Label: getStringArg(m, "label"), Address: getStringArg(m, "xpath")}
		if e.Label == "" || e.Address == "" {
			return nil, fmt.Errorf("%s[%d] needs label and xpath", key, i)
		}
		out = append(out, e)
	}
	return out, nil
}
