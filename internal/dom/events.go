package dom

import (
	"fmt"

	"golang.org/x/net/html"
)

// Event is a synthetic DOM event travelling from Target up the ancestor chain.
type Event struct {
	Type    string
	Bubbles bool
	Target  *html.Node

	CurrentTarget *html.Node
	stopped       bool
}

// StopPropagation halts the event after the current node's listeners run.
func (e *Event) StopPropagation() { e.stopped = true }

// Listener handles an event. A returned error aborts the dispatch.
type Listener func(*Event) error

type listener struct {
	typ string
	fn  Listener
}

// AddEventListener registers fn for events of type typ on n.
func (d *Document) AddEventListener(n *html.Node, typ string, fn Listener) {
	d.listeners[n] = append(d.listeners[n], listener{typ: typ, fn: fn})
}

// DispatchEvent runs the target's listeners and, for bubbling events, those of
// each ancestor in turn. A listener error or panic stops the dispatch and is
// returned.
func (d *Document) DispatchEvent(target *html.Node, ev *Event) (err error) {
	if target == nil {
		return ErrNotFound
	}
	ev.Target = target
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s listener panicked: %v", ev.Type, r)
		}
	}()

	for cur := target; cur != nil; cur = cur.Parent {
		ev.CurrentTarget = cur
		for _, l := range d.listeners[cur] {
			if l.typ != ev.Type {
				continue
			}
			if err := l.fn(ev); err != nil {
				return fmt.Errorf("%s listener: %w", ev.Type, err)
			}
		}
		if !ev.Bubbles || ev.stopped {
			break
		}
	}
	return nil
}
