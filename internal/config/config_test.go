package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Name != "domkit-mcp" {
		t.Errorf("expected server name 'domkit-mcp', got %q", cfg.Server.Name)
	}
	if cfg.Server.LogFile != "domkit-mcp.log" {
		t.Errorf("expected log file 'domkit-mcp.log', got %q", cfg.Server.LogFile)
	}
	if cfg.Log.Level != "info" || cfg.Log.Encoding != "json" {
		t.Errorf("unexpected log defaults: %+v", cfg.Log)
	}

	if !cfg.Browser.AutoStart {
		t.Error("expected AutoStart to be true")
	}
	if cfg.Browser.SessionStore != "sessions.json" {
		t.Errorf("expected session store 'sessions.json', got %q", cfg.Browser.SessionStore)
	}
	if cfg.Browser.ViewportWidth != 1920 || cfg.Browser.ViewportHeight != 1080 {
		t.Errorf("unexpected viewport %dx%d", cfg.Browser.ViewportWidth, cfg.Browser.ViewportHeight)
	}

	if cfg.Extraction.TextMatchLimit != 100 {
		t.Errorf("expected text match limit 100, got %d", cfg.Extraction.TextMatchLimit)
	}
	if cfg.Extraction.ClickableLimit != 50 {
		t.Errorf("expected clickable limit 50, got %d", cfg.Extraction.ClickableLimit)
	}
	if cfg.Extraction.DescriptionLimit != 50 {
		t.Errorf("expected description limit 50, got %d", cfg.Extraction.DescriptionLimit)
	}

	if cfg.Overlay.LayerID != "domkit-overlay-layer" {
		t.Errorf("unexpected layer id %q", cfg.Overlay.LayerID)
	}
	if !cfg.Facts.Enable {
		t.Error("expected Facts.Enable to be true")
	}
	if cfg.Recorder.Enable {
		t.Error("expected Recorder.Enable to be false")
	}
}

func TestLoadEmptyPath(t *testing.T) {
	_, err := Load("")
	if err == nil {
		t.Fatal("expected error for empty path")
	}
	if err.Error() != "config path is required" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadNonExistentFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for non-existent file")
	}
}

func TestLoadValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  name: "test-server"
  log_file: "test.log"

log:
  level: debug
  encoding: console

browser:
  debugger_url: "ws://localhost:9222"
  headless: false
  default_navigation_timeout: "20s"
  viewport_width: 1280

extraction:
  clickable_limit: 80

overlay:
  palette: ["red", "blue"]
  chip_height: 14

recorder:
  enable: true
  path: "trace.jsonl"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Name != "test-server" {
		t.Errorf("expected name 'test-server', got %q", cfg.Server.Name)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Encoding != "console" {
		t.Errorf("unexpected log config %+v", cfg.Log)
	}
	if cfg.Browser.IsHeadless() {
		t.Error("expected headless false")
	}
	if cfg.Browser.NavigationTimeout() != 20*time.Second {
		t.Errorf("expected 20s navigation timeout, got %v", cfg.Browser.NavigationTimeout())
	}
	if cfg.Extraction.ClickableLimit != 80 {
		t.Errorf("expected clickable limit 80, got %d", cfg.Extraction.ClickableLimit)
	}
	// Unset keys keep their defaults.
	if cfg.Extraction.TextMatchLimit != 100 {
		t.Errorf("expected default text match limit, got %d", cfg.Extraction.TextMatchLimit)
	}
	if len(cfg.Overlay.Palette) != 2 || cfg.Overlay.ChipHeight != 14 {
		t.Errorf("unexpected overlay config %+v", cfg.Overlay)
	}
	if !cfg.Recorder.Enable || cfg.Recorder.Path != "trace.jsonl" {
		t.Errorf("unexpected recorder config %+v", cfg.Recorder)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "bad.yaml")
	if err := os.WriteFile(configPath, []byte("server: [unterminated"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "defaults with debugger url",
			modify:  func(c *Config) { c.Browser.DebuggerURL = "ws://localhost:9222" },
			wantErr: false,
		},
		{
			name:    "auto start without endpoint",
			modify:  func(c *Config) {},
			wantErr: true,
		},
		{
			name: "launch command instead of url",
			modify: func(c *Config) {
				c.Browser.Launch = []string{"chrome", "--remote-debugging-port=9222"}
			},
			wantErr: false,
		},
		{
			name: "auto start disabled",
			modify: func(c *Config) {
				c.Browser.AutoStart = false
			},
			wantErr: false,
		},
		{
			name: "missing server name",
			modify: func(c *Config) {
				c.Browser.AutoStart = false
				c.Server.Name = ""
			},
			wantErr: true,
		},
		{
			name: "port out of range",
			modify: func(c *Config) {
				c.Browser.AutoStart = false
				c.MCP.SSEPort = 70000
			},
			wantErr: true,
		},
		{
			name: "negative limit",
			modify: func(c *Config) {
				c.Browser.AutoStart = false
				c.Extraction.ClickableLimit = -1
			},
			wantErr: true,
		},
		{
			name: "blank palette entry",
			modify: func(c *Config) {
				c.Browser.AutoStart = false
				c.Overlay.Palette = []string{"red", " "}
			},
			wantErr: true,
		},
		{
			name: "unknown log level",
			modify: func(c *Config) {
				c.Browser.AutoStart = false
				c.Log.Level = "verbose"
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("DOMKIT_DEBUGGER_URL", "ws://127.0.0.1:9333")
	t.Setenv("DOMKIT_HEADLESS", "false")
	t.Setenv("DOMKIT_SSE_PORT", "8089")
	t.Setenv("DOMKIT_LOG_LEVEL", " warn ")
	t.Setenv("DOMKIT_LAUNCH", "chromium --remote-debugging-port=9333")

	cfg := DefaultConfig()
	if err := ApplyEnv(&cfg); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Browser.DebuggerURL != "ws://127.0.0.1:9333" {
		t.Errorf("debugger url = %q", cfg.Browser.DebuggerURL)
	}
	if cfg.Browser.IsHeadless() {
		t.Error("expected headless false from env")
	}
	if cfg.MCP.SSEPort != 8089 {
		t.Errorf("sse port = %d", cfg.MCP.SSEPort)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
	if len(cfg.Browser.Launch) != 2 || cfg.Browser.Launch[0] != "chromium" {
		t.Errorf("launch = %v", cfg.Browser.Launch)
	}
}

func TestApplyEnvRejectsGarbage(t *testing.T) {
	cases := map[string]string{
		"DOMKIT_HEADLESS":   "sometimes",
		"DOMKIT_SSE_PORT":   "eighty",
		"DOMKIT_AUTO_START": "maybe",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			cfg := DefaultConfig()
			if err := ApplyEnv(&cfg); err == nil {
				t.Errorf("expected error for %s=%s", key, val)
			}
		})
	}
}

func TestNavigationTimeout(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Duration
	}{
		{"", 15 * time.Second},
		{"30s", 30 * time.Second},
		{"bogus", 15 * time.Second},
	}
	for _, tt := range tests {
		b := BrowserConfig{DefaultNavigationTimeout: tt.raw}
		if got := b.NavigationTimeout(); got != tt.want {
			t.Errorf("NavigationTimeout(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestAttachTimeout(t *testing.T) {
	if got := (BrowserConfig{}).AttachTimeout(); got != 10*time.Second {
		t.Errorf("default attach timeout = %v", got)
	}
	if got := (BrowserConfig{DefaultAttachTimeout: "2s"}).AttachTimeout(); got != 2*time.Second {
		t.Errorf("attach timeout = %v", got)
	}
}

func TestSettle(t *testing.T) {
	if got := (BrowserConfig{}).Settle(); got != 500*time.Millisecond {
		t.Errorf("default settle = %v", got)
	}
	if got := (BrowserConfig{SettleDelay: "0s"}).Settle(); got != 0 {
		t.Errorf("settle = %v, want 0", got)
	}
}

func TestIsHeadless(t *testing.T) {
	yes, no := true, false
	tests := []struct {
		name string
		val  *bool
		want bool
	}{
		{"nil defaults to true", nil, true},
		{"explicit true", &yes, true},
		{"explicit false", &no, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := (BrowserConfig{Headless: tt.val}).IsHeadless(); got != tt.want {
				t.Errorf("IsHeadless() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestViewportDefaults(t *testing.T) {
	b := BrowserConfig{ViewportWidth: -5}
	if b.GetViewportWidth() != 1920 {
		t.Errorf("width = %d, want 1920", b.GetViewportWidth())
	}
	if b.GetViewportHeight() != 1080 {
		t.Errorf("height = %d, want 1080", b.GetViewportHeight())
	}
	b = BrowserConfig{ViewportWidth: 800, ViewportHeight: 600}
	if b.GetViewportWidth() != 800 || b.GetViewportHeight() != 600 {
		t.Errorf("viewport = %dx%d", b.GetViewportWidth(), b.GetViewportHeight())
	}
}
