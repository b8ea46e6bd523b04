package browser

import (
	"context"
	"fmt"
	"time"

	"domkit-mcp-server/internal/events"
	"domkit-mcp-server/internal/overlay"

	"go.uber.org/zap"
)

// InputResult reports a fill of one field.
type InputResult struct {
	ActionResult
	Label   string `json:"label,omitempty"`
	Address string `json:"xpath,omitempty"`
	Value   string `json:"input_value"`
}

// ClickResult reports a click on one element.
type ClickResult struct {
	ActionResult
	Label   string `json:"label,omitempty"`
	Address string `json:"xpath,omitempty"`
}

func unknownLabel(ref string) string {
	return fmt.Sprintf("Element label '%s' not found. Extract elements with register_labels to get current labels.", ref)
}

// resolve maps a label or address to an address in the session's registry.
// The returned label is empty when ref was already an address.
func (m *SessionManager) resolve(rec *sessionRecord, ref string) (label, address string, ok bool) {
	address, ok = rec.labels.Resolve(ref)
	if !ok {
		return "", "", false
	}
	if address != ref {
		label = ref
	}
	return label, address, true
}

// Annotate outlines labelled elements on the session's page. With no
// entries, every currently registered label is drawn.
func (m *SessionManager) Annotate(ctx context.Context, sessionID string, entries []overlay.Entry) (overlay.Result, error) {
	rec, err := m.live(sessionID)
	if err != nil {
		return overlay.Result{}, err
	}
	if len(entries) == 0 {
		for _, e := range rec.labels.Entries() {
			entries = append(entries, overlay.Entry{Label: e.Label, Address: e.Address})
		}
	}
	res := rec.annotator.Annotate(ctx, PageSurface{Page: rec.page}, entries)
	m.touch(sessionID)
	return res, nil
}

// RemoveAnnotations unmounts the session's overlay layer.
func (m *SessionManager) RemoveAnnotations(ctx context.Context, sessionID string) (overlay.Result, error) {
	rec, err := m.live(sessionID)
	if err != nil {
		return overlay.Result{}, err
	}
	return rec.annotator.Remove(ctx, PageSurface{Page: rec.page}), nil
}

// Mounted returns the boxes currently drawn for a session.
func (m *SessionManager) Mounted(sessionID string) []overlay.Box {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	return rec.annotator.Mounted()
}

// DispatchEvents fires input, change and keyup on the referenced element.
func (m *SessionManager) DispatchEvents(ctx context.Context, sessionID, ref string) (events.Result, error) {
	rec, err := m.live(sessionID)
	if err != nil {
		return events.Result{}, err
	}
	_, address, ok := m.resolve(rec, ref)
	if !ok {
		return events.Result{Success: false, Error: unknownLabel(ref)}, nil
	}
	return m.synth.Dispatch(ctx, PageTarget{Page: rec.page}, address), nil
}

// Click clicks the referenced element and waits for the page to settle.
func (m *SessionManager) Click(ctx context.Context, sessionID, ref string) (ClickResult, error) {
	rec, err := m.live(sessionID)
	if err != nil {
		return ClickResult{}, err
	}
	label, address, ok := m.resolve(rec, ref)
	if !ok {
		return ClickResult{ActionResult: ActionResult{Error: unknownLabel(ref)}, Label: ref}, nil
	}

	res := ClickResult{ActionResult: Click(ctx, rec.page, address), Label: label, Address: address}
	if res.Success {
		m.settle(ctx)
	} else {
		m.logger.Debug("click failed", zap.String("xpath", address), zap.String("error", res.Error))
	}
	m.touch(sessionID)
	return res, nil
}

// InputData focuses the referenced field, replaces its content by typing
// value and then fires the input event sequence.
func (m *SessionManager) InputData(ctx context.Context, sessionID, ref, value string) (InputResult, error) {
	rec, err := m.live(sessionID)
	if err != nil {
		return InputResult{}, err
	}
	label, address, ok := m.resolve(rec, ref)
	out := InputResult{Label: label, Address: address, Value: value}
	if !ok {
		out.Label = ref
		out.Error = unknownLabel(ref)
		return out, nil
	}

	if focus := FocusAndClear(ctx, rec.page, address); !focus.Success {
		out.ActionResult = focus
		return out, nil
	}
	if err := TypeText(ctx, rec.page, value); err != nil {
		out.Error = fmt.Sprintf("Typing simulation failed: %v", err)
		return out, nil
	}
	if ev := m.synth.Dispatch(ctx, PageTarget{Page: rec.page}, address); !ev.Success {
		// The value is in the field; only the notification failed.
		m.logger.Warn("input events not delivered", zap.String("xpath", address), zap.String("error", ev.Error))
	}
	m.settle(ctx)
	m.touch(sessionID)

	out.Success = true
	out.Message = fmt.Sprintf("Successfully typed '%s' using keyboard simulation", value)
	return out, nil
}

// Scroll scrolls the session's window.
func (m *SessionManager) Scroll(ctx context.Context, sessionID, direction string, amount int) (ScrollResult, error) {
	rec, err := m.live(sessionID)
	if err != nil {
		return ScrollResult{}, err
	}
	res := Scroll(ctx, rec.page, direction, amount)
	if res.Success {
		m.settle(ctx)
	}
	m.touch(sessionID)
	return res, nil
}

func (m *SessionManager) touch(sessionID string) {
	m.UpdateMetadata(sessionID, func(s Session) Session {
		s.LastActive = time.Now()
		return s
	})
}

func (m *SessionManager) settle(ctx context.Context) {
	d := m.cfg.Settle()
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
