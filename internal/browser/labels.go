package browser

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LabelLength is how many characters of a uuid make up a label.
const LabelLength = 8

// Element kinds recorded with each label.
const (
	KindInput     = "input"
	KindClickable = "clickable"
	KindText      = "text"
)

// LabeledElement binds a short label to an element address.
type LabeledElement struct {
	Label     string    `json:"label"`
	Address   string    `json:"xpath"`
	Kind      string    `json:"kind"`
	Text      string    `json:"text,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// LabelRegistry is a per-session map of labels to addresses. Labels are
// handed out by extraction and consumed by annotation and actions; a
// navigation invalidates all of them.
type LabelRegistry struct {
	mu          sync.RWMutex
	entries     map[string]*LabeledElement
	order       []string
	byAddress   map[string]string
	generation  int
	lastCleared time.Time
	newLabel    func() string
}

// NewLabelRegistry creates an empty registry.
func NewLabelRegistry() *LabelRegistry {
	return &LabelRegistry{
		entries:     make(map[string]*LabeledElement),
		byAddress:   make(map[string]string),
		lastCleared: time.Now(),
		newLabel: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")[:LabelLength]
		},
	}
}

// Assign returns the label for address, creating one if the address has none
// in the current generation.
func (r *LabelRegistry) Assign(kind, address, text string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if label, ok := r.byAddress[address]; ok {
		return label
	}
	label := r.newLabel()
	for r.entries[label] != nil {
		label = r.newLabel()
	}
	r.entries[label] = &LabeledElement{
		Label:     label,
		Address:   address,
		Kind:      kind,
		Text:      text,
		CreatedAt: time.Now(),
	}
	r.byAddress[address] = label
	r.order = append(r.order, label)
	return label
}

// Lookup returns the element registered under label.
func (r *LabelRegistry) Lookup(label string) (LabeledElement, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[label]
	if !ok {
		return LabeledElement{}, false
	}
	return *e, true
}

// Resolve turns a label or a raw address into an address. Strings that look
// like addresses pass through; unknown labels report false.
func (r *LabelRegistry) Resolve(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	if strings.HasPrefix(ref, "/") || strings.HasPrefix(ref, "(") {
		return ref, true
	}
	if e, ok := r.Lookup(ref); ok {
		return e.Address, true
	}
	return "", false
}

// Entries lists registered elements in assignment order.
func (r *LabelRegistry) Entries() []LabeledElement {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]LabeledElement, 0, len(r.order))
	for _, label := range r.order {
		out = append(out, *r.entries[label])
	}
	return out
}

// Clear drops every label and starts a new generation.
func (r *LabelRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]*LabeledElement)
	r.byAddress = make(map[string]string)
	r.order = nil
	r.generation++
	r.lastCleared = time.Now()
}

// Generation increments on every Clear.
func (r *LabelRegistry) Generation() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

// Count returns the number of live labels.
func (r *LabelRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
