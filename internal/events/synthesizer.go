// Package events fires the notifications page frameworks expect after a
// field's value is changed programmatically.
package events

import (
	"context"
	"errors"
	"fmt"

	"domkit-mcp-server/internal/dom"

	"go.uber.org/zap"
)

// InputSequence is the fixed order of bubbling events fired after a value
// change.
var InputSequence = []string{"input", "change", "keyup"}

// Target resolves an address and fires bubbling events on the element, in
// order. It returns dom.ErrNotFound when the address matches nothing.
type Target interface {
	DispatchSequence(ctx context.Context, address string, types []string) error
}

// Result is the envelope returned to callers.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type Synthesizer struct {
	logger *zap.Logger
}

func NewSynthesizer(logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{logger: logger.Named("events")}
}

// Dispatch fires input, change and keyup on the element at address. Failures
// are reported in the result and never retried.
func (s *Synthesizer) Dispatch(ctx context.Context, t Target, address string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("dispatch panicked", zap.String("xpath", address), zap.Any("panic", r))
			res = Result{Success: false, Error: fmt.Sprintf("Failed to dispatch events: %v", r)}
		}
	}()

	err := t.DispatchSequence(ctx, address, InputSequence)
	switch {
	case errors.Is(err, dom.ErrNotFound):
		return Result{Success: false, Error: "Element not found: " + address}
	case err != nil:
		s.logger.Warn("dispatch failed", zap.String("xpath", address), zap.Error(err))
		return Result{Success: false, Error: fmt.Sprintf("Failed to dispatch events: %v", err)}
	}
	return Result{Success: true, Message: "Events dispatched to " + address}
}

// DocumentTarget dispatches on an in-memory document's listener registry.
type DocumentTarget struct {
	Doc *dom.Document
}

func (t DocumentTarget) DispatchSequence(_ context.Context, address string, types []string) error {
	n, err := t.Doc.Resolve(address)
	if err != nil {
		return err
	}
	for _, typ := range types {
		if err := t.Doc.DispatchEvent(n, &dom.Event{Type: typ, Bubbles: true}); err != nil {
			return err
		}
	}
	return nil
}
