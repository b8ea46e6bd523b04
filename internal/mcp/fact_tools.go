package mcp

import (
	"context"
	"fmt"

	"domkit-mcp-server/internal/facts"
)

// QueryElementFactsTool runs Datalog over the element facts.
type QueryElementFactsTool struct {
	engine *facts.Engine
}

func (t *QueryElementFactsTool) Name() string { return "query-element-facts" }
func (t *QueryElementFactsTool) Description() string {
	return `Query the facts recorded by the extraction and overlay tools with Mangle
Datalog.

BASE FACTS (first argument is the session_id, or "static" for html input):
- input_field(Session, XPath, Type, Description, Required, Disabled)
- clickable(Session, XPath, Tag, Text)
- text_match(Session, Text, XPath, MatchedText)
- annotated(Session, Label, XPath)
Required and Disabled are the strings "true" and "false".

DERIVED:
- fillable(Session, XPath): enabled input fields
- required_field(Session, XPath, Description): enabled required fields
- labelled_clickable(Session, Label, XPath, Text): clickables with a drawn label

USAGE (one of):
- query: a single atom, e.g. fillable("abc", X). Returns variable bindings.
- predicate: returns every fact for that predicate, optionally filtered by session_id.
Pass rule to add clauses (with Decl lines for new heads) before running.

Returns: {success, count, results} or {success, count, facts}`
}
func (t *QueryElementFactsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Single-atom Datalog query",
			},
			"predicate": map[string]interface{}{
				"type":        "string",
				"description": "Predicate whose facts are returned",
			},
			"session_id": map[string]interface{}{
				"type":        "string",
				"description": "Only return facts for this session (predicate mode)",
			},
			"rule": map[string]interface{}{
				"type":        "string",
				"description": "Mangle clauses to add before querying",
			},
		},
	}
}
func (t *QueryElementFactsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if t.engine == nil || !t.engine.Enabled() {
		return map[string]interface{}{"success": false, "error": "element facts are disabled"}, nil
	}

	if rule := getStringArg(args, "rule"); rule != "" {
		if err := t.engine.AddRule(rule); err != nil {
			return map[string]interface{}{"success": false, "error": err.Error()}, nil
		}
	}

	query := getStringArg(args, "query")
	predicate := getStringArg(args, "predicate")
	switch {
	case query != "":
		results, err := t.engine.Query(ctx, query)
		if err != nil {
			return map[string]interface{}{"success": false, "error": err.Error()}, nil
		}
		return map[string]interface{}{"success": true, "count": len(results), "results": results}, nil

	case predicate != "":
		all, err := t.engine.Evaluate(ctx, predicate)
		if err != nil {
			return map[string]interface{}{"success": false, "error": err.Error()}, nil
		}
		sessionID := getStringArg(args, "session_id")
		out := make([]facts.Fact, 0, len(all))
		for _, f := range all {
			if sessionID != "" && (len(f.Args) == 0 || fmt.Sprint(f.Args[0]) != sessionID) {
				continue
			}
			out = append(out, f)
		}
		return map[string]interface{}{"success": true, "count": len(out), "facts": out}, nil

	default:
		return nil, fmt.Errorf("query or predicate is required")
	}
}
