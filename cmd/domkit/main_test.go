package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"domkit-mcp-server/internal/browser"
	"domkit-mcp-server/internal/config"
	"domkit-mcp-server/internal/facts"
	"domkit-mcp-server/internal/mcp"
	"domkit-mcp-server/internal/overlay"

	"github.com/go-rod/rod/lib/launcher"
	"go.uber.org/zap/zaptest"
)

const signupPage = `<html><body>
<form>
  <input id="user" type="text" placeholder="Username" required>
  <input id="promo" type="text" placeholder="Promo" disabled>
  <a href="/terms">Terms | Conditions</a>
  <button>Sign up</button>
</form>
<div>Already registered? Log in</div>
</body></html>`

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestInspectCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signup.html")
	if err := os.WriteFile(path, []byte(signupPage), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"inputs markdown", []string{"inspect", "inputs", path}, []string{"## Input Elements", `//*[@id="user"]`, "**Total:** 2"}},
		{"clickables markdown", []string{"inspect", "clickables", path}, []string{"## Clickable Elements", "Sign up"}},
		{"text", []string{"inspect", "text", path, "Already registered"}, []string{"Already registered? Log in"}},
		{"content", []string{"inspect", "content", "--base-url", "https://example.test/join", path}, []string{"Already registered? Log in", "## Clickable Elements", "## Input Elements", "https://example.test/terms"}},
		{"base url", []string{"inspect", "clickables", "--format", "json", "--base-url", "https://example.test/join", path}, []string{"https://example.test/terms"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runCLI(t, "", tt.args...)
			if err != nil {
				t.Fatalf("inspect failed: %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("output missing %q:\n%s", w, out)
				}
			}
		})
	}
}

func TestInspectStdinJSON(t *testing.T) {
	out, err := runCLI(t, signupPage, "inspect", "inputs", "--format", "json", "-")
	if err != nil {
		t.Fatal(err)
	}
	var fields []map[string]interface{}
	if err := json.Unmarshal([]byte(out), &fields); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(fields) != 2 {
		t.Errorf("fields = %+v", fields)
	}
}

func TestInspectQuery(t *testing.T) {
	out, err := runCLI(t, signupPage, "inspect", "query", "-", `required_field(S, A, D).`)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "| A | D | S |") || !strings.Contains(out, "Username") || !strings.Contains(out, "**Total:** 1 results") {
		t.Errorf("bindings table:\n%s", out)
	}

	out, err = runCLI(t, signupPage, "inspect", "query", "-", `clickable(S, A, "a", T).`)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `Terms \| Conditions`) {
		t.Errorf("pipe not escaped:\n%s", out)
	}
}

func TestInspectErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing file", []string{"inspect", "inputs", filepath.Join(t.TempDir(), "nope.html")}},
		{"bad format", []string{"inspect", "inputs", "--format", "xml", "-"}},
		{"text needs query", []string{"inspect", "text", "-"}},
		{"bad datalog", []string{"inspect", "query", "-", "fillable(S,"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := runCLI(t, signupPage, tt.args...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestInitCommand(t *testing.T) {
	dir := t.TempDir()
	out, err := runCLI(t, "", "init", dir)
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if !strings.Contains(out, config.WorkspaceDirName) {
		t.Errorf("output = %q", out)
	}
	if _, err := os.Stat(filepath.Join(dir, config.WorkspaceDirName, config.WorkspaceConfigFile)); err != nil {
		t.Errorf("workspace config not created: %v", err)
	}
	if _, err := runCLI(t, "", "init", dir); err == nil {
		t.Error("second init should fail")
	}
}

func TestMarkdownBindingsEmpty(t *testing.T) {
	if got := markdownBindings(nil); got != "_no results_" {
		t.Errorf("markdownBindings(nil) = %q", got)
	}
}

// TestIntegrationServerLifecycle wires the components the way serve does and
// drives a live page through the tool surface.
func TestIntegrationServerLifecycle(t *testing.T) {
	if os.Getenv("SKIP_LIVE_TESTS") != "" {
		t.Skip("Skipping integration tests (SKIP_LIVE_TESTS set)")
	}

	l := launcher.New().Headless(true)
	controlURL, err := l.Launch()
	if err != nil {
		t.Skipf("no browser available: %v", err)
	}
	t.Cleanup(l.Kill)

	logger := zaptest.NewLogger(t)
	cfg := config.DefaultConfig()
	cfg.Browser.AutoStart = false
	cfg.Browser.DebuggerURL = controlURL
	cfg.Browser.SessionStore = ""
	headless := true
	cfg.Browser.Headless = &headless

	engine, err := facts.NewEngine(cfg.Facts, logger)
	if err != nil {
		t.Fatal(err)
	}
	sessions := browser.NewSessionManager(cfg.Browser, overlay.Options{}, logger)
	server, err := mcp.NewServer(cfg, sessions, engine, nil, logger)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	if _, err := server.ExecuteTool(ctx, "launch-browser", nil); err != nil {
		t.Fatalf("launch-browser: %v", err)
	}
	defer sessions.Shutdown(context.Background())

	created, err := server.ExecuteTool(ctx, "create-session", map[string]interface{}{
		"url": "data:text/html," + url.PathEscape(signupPage),
	})
	if err != nil {
		t.Fatalf("create-session: %v", err)
	}
	sess := created.(map[string]interface{})["session"].(*browser.Session)

	result, err := server.ExecuteTool(ctx, "extract-input-fields", map[string]interface{}{
		"session_id":      sess.ID,
		"register_labels": true,
	})
	if err != nil {
		t.Fatalf("extract-input-fields: %v", err)
	}
	if n := result.(map[string]interface{})["count"]; n != 2 {
		t.Errorf("live inputs = %v", n)
	}

	bindings, err := engine.Query(ctx, `fillable(S, A)`)
	if err != nil {
		t.Fatal(err)
	}
	if len(bindings) != 1 {
		t.Errorf("fillable = %+v", bindings)
	}

	if _, err := server.ExecuteTool(ctx, "close-session", map[string]interface{}{"session_id": sess.ID}); err != nil {
		t.Fatal(err)
	}
	if left := engine.FactsByPredicate(facts.PredInputField); len(left) != 0 {
		t.Errorf("facts survived close: %+v", left)
	}
}
