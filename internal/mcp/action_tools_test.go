package mcp

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"domkit-mcp-server/internal/browser"
	"domkit-mcp-server/internal/config"
	"domkit-mcp-server/internal/events"
	"domkit-mcp-server/internal/facts"
	"domkit-mcp-server/internal/overlay"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestDispatchInputEventsStatic(t *testing.T) {
	server := setupTestServer(t, setupTestServerConfig())
	ctx := context.Background()
	page := `<html><body><input id="q" type="search"></body></html>`

	tests := []struct {
		name    string
		element string
		want    events.Result
	}{
		{"found", `//*[@id="q"]`, events.Result{Success: true, Message: `Events dispatched to //*[@id="q"]`}},
		{"missing", `//*[@id="nope"]`, events.Result{Success: false, Error: `Element not found: //*[@id="nope"]`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := server.ExecuteTool(ctx, "dispatch-input-events", map[string]interface{}{
				"html":    page,
				"element": tt.element,
			})
			if err != nil {
				t.Fatalf("ExecuteTool failed: %v", err)
			}
			if got := result.(events.Result); got != tt.want {
				t.Errorf("result = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestActionToolsValidation(t *testing.T) {
	server := setupTestServer(t, setupTestServerConfig())
	ctx := context.Background()

	tests := []struct {
		tool string
		args map[string]interface{}
	}{
		{"annotate-elements", map[string]interface{}{}},
		{"annotate-elements", map[string]interface{}{"session_id": "s", "elements": []interface{}{"not an object"}}},
		{"annotate-elements", map[string]interface{}{"session_id": "s", "elements": []interface{}{map[string]interface{}{"label": "a"}}}},
		{"remove-annotations", map[string]interface{}{}},
		{"dispatch-input-events", map[string]interface{}{}},
		{"dispatch-input-events", map[string]interface{}{"element": "/html"}},
		{"input-data", map[string]interface{}{"session_id": "s"}},
		{"input-data", map[string]interface{}{"session_id": "s", "element": "/html"}},
		{"click-element", map[string]interface{}{"element": "/html"}},
		{"scroll-page", map[string]interface{}{"direction": "down"}},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			if _, err := server.ExecuteTool(ctx, tt.tool, tt.args); err == nil {
				t.Errorf("%s(%v): expected error", tt.tool, tt.args)
			}
		})
	}
}

func TestActionToolsUnknownSession(t *testing.T) {
	server := setupTestServer(t, setupTestServerConfig())
	ctx := context.Background()

	calls := map[string]map[string]interface{}{
		"annotate-elements":     {"session_id": "nope"},
		"remove-annotations":    {"session_id": "nope"},
		"dispatch-input-events": {"session_id": "nope", "element": "/html"},
		"input-data":            {"session_id": "nope", "element": "/html", "value": "x"},
		"click-element":         {"session_id": "nope", "element": "/html"},
		"scroll-page":           {"session_id": "nope", "direction": "down"},
	}
	for tool, args := range calls {
		t.Run(tool, func(t *testing.T) {
			_, err := server.ExecuteTool(ctx, tool, args)
			if !errors.Is(err, browser.ErrUnknown) {
				t.Errorf("error = %v, want ErrUnknown", err)
			}
		})
	}

	t.Run("annotate by label", func(t *testing.T) {
		_, err := server.ExecuteTool(ctx, "annotate-elements", map[string]interface{}{
			"session_id": "nope",
			"labels":     []interface{}{"ab12cd34"},
		})
		if !errors.Is(err, browser.ErrUnknown) {
			t.Errorf("error = %v, want ErrUnknown", err)
		}
	})
}

func TestGetEntriesArg(t *testing.T) {
	entries, err := getEntriesArg(map[string]interface{}{
		"elements": []interface{}{
			map[string]interface{}{"label": "b", "xpath": "/html/body/a[2]"},
			map[string]interface{}{"label": "a", "xpath": "/html/body/a[1]"},
		},
	}, "elements")
	if err != nil {
		t.Fatal(err)
	}
	want := []overlay.Entry{{Label: "b", Address: "/html/body/a[2]"}, {Label: "a", Address: "/html/body/a[1]"}}
	if !reflect.DeepEqual(entries, want) {
		t.Errorf("entries = %+v, want order preserved %+v", entries, want)
	}

	if entries, err := getEntriesArg(map[string]interface{}{}, "elements"); err != nil || entries != nil {
		t.Errorf("absent elements = %v, %v", entries, err)
	}
}

func TestGetStringSliceArg(t *testing.T) {
	tests := []struct {
		in   interface{}
		want []string
	}{
		{[]interface{}{"a", "", 3, "b"}, []string{"a", "b"}},
		{[]string{"x"}, []string{"x"}},
		{"solo", []string{"solo"}},
		{"", nil},
		{nil, nil},
	}
	for _, tt := range tests {
		got := getStringSliceArg(map[string]interface{}{"k": tt.in}, "k")
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("getStringSliceArg(%#v) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}

func TestLabelEntriesKeepsUnknownLabels(t *testing.T) {
	registry := browser.NewLabelRegistry()
	known := registry.Assign("clickable", `//*[@id="go"]`, "Go")

	got := labelEntries(registry, []string{"zz99zz99", known})
	want := []overlay.Entry{
		{Label: "zz99zz99"},
		{Label: known, Address: `//*[@id="go"]`},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("labelEntries = %+v, want %+v", got, want)
	}
}

func TestRecordFactsLogsStoreErrors(t *testing.T) {
	engine, err := facts.NewEngine(config.FactsConfig{Enable: true, FactBufferLimit: 100}, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	core, logs := observer.New(zapcore.WarnLevel)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	recordFacts(ctx, engine, zap.New(core), "s1", facts.PredAnnotated, nil)

	entries := logs.FilterMessage("element facts not recorded").All()
	if len(entries) != 1 {
		t.Fatalf("logged %d warnings, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["predicate"]; got != facts.PredAnnotated {
		t.Errorf("predicate field = %v", got)
	}

	recordFacts(ctx, nil, zap.New(core), "s1", facts.PredAnnotated, nil)
	if logs.Len() != 1 {
		t.Errorf("nil engine logged %d entries", logs.Len())
	}
}
