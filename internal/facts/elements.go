package facts

import (
	"time"

	"domkit-mcp-server/internal/extract"
	"domkit-mcp-server/internal/overlay"
)

// Base predicate names from the built-in schema.
const (
	PredInputField = "input_field"
	PredClickable  = "clickable"
	PredTextMatch  = "text_match"
	PredAnnotated  = "annotated"
)

// StaticSession is the session argument for facts from inline documents.
const StaticSession = "static"

// InputFacts converts extracted fields to input_field facts.
func InputFacts(session string, fields []extract.InputField) []Fact {
	now := time.Now()
	out := make([]Fact, 0, len(fields))
	for _, f := range fields {
		out = append(out, Fact{
			Predicate: PredInputField,
			Args:      []interface{}{session, f.Address, f.Type, f.Description, boolString(f.Required), boolString(f.Disabled)},
			Timestamp: now,
		})
	}
	return out
}

// ClickableFacts converts extracted clickables to clickable facts.
func ClickableFacts(session string, items []extract.DescribedElement) []Fact {
	now := time.Now()
	out := make([]Fact, 0, len(items))
	for _, it := range items {
		out = append(out, Fact{
			Predicate: PredClickable,
			Args:      []interface{}{session, it.Address, it.Tag, it.Text},
			Timestamp: now,
		})
	}
	return out
}

// TextMatchFacts converts text matches for query to text_match facts.
func TextMatchFacts(session, query string, items []extract.DescribedElement) []Fact {
	now := time.Now()
	out := make([]Fact, 0, len(items))
	for _, it := range items {
		out = append(out, Fact{
			Predicate: PredTextMatch,
			Args:      []interface{}{session, query, it.Address, it.Text},
			Timestamp: now,
		})
	}
	return out
}

// AnnotationFacts converts drawn boxes to annotated facts.
func AnnotationFacts(session string, boxes []overlay.Box) []Fact {
	now := time.Now()
	out := make([]Fact, 0, len(boxes))
	for _, b := range boxes {
		out = append(out, Fact{
			Predicate: PredAnnotated,
			Args:      []interface{}{session, b.Label, b.Address},
			Timestamp: now,
		})
	}
	return out
}
