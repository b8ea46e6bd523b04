package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// WorkspaceDirName is the directory name for project-level domkit config.
	WorkspaceDirName = ".domkit"
	// WorkspaceConfigFile is the config file name inside the workspace directory.
	WorkspaceConfigFile = "config.yaml"
	// WorkspaceEnvFile holds optional DOMKIT_* overrides next to the config.
	WorkspaceEnvFile = ".env"
	// MaxSearchDepth limits how many parent directories to walk when discovering a workspace.
	MaxSearchDepth = 10
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "DOMKIT_"
)

// WorkspaceOptions controls workspace discovery behavior.
type WorkspaceOptions struct {
	// Disable skips workspace discovery entirely (--no-workspace flag).
	Disable bool
	// ExplicitDir uses this directory as workspace root instead of walking up (--workspace-dir flag).
	ExplicitDir string
}

// Config captures all tunable settings for the domkit MCP server.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Browser    BrowserConfig    `yaml:"browser"`
	MCP        MCPConfig        `yaml:"mcp"`
	Facts      FactsConfig      `yaml:"facts"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Overlay    OverlayConfig    `yaml:"overlay"`
	Recorder   RecorderConfig   `yaml:"recorder"`
}

type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	LogFile string `yaml:"log_file"`
}

// LogConfig selects the zap level and encoding.
type LogConfig struct {
	// debug | info | warn | error
	Level string `yaml:"level"`
	// json | console
	Encoding string `yaml:"encoding"`
}

// BrowserConfig configures how we attach to or launch Chrome for Rod.
type BrowserConfig struct {
	// Control endpoint for Rod (e.g., ws://localhost:9222). Required when launch is empty.
	DebuggerURL string `yaml:"debugger_url"`
	// Optional launch command to start Chrome in detached mode (e.g., ["chrome", "--remote-debugging-port=9222"]).
	Launch []string `yaml:"launch"`
	// AutoStart controls whether the server launches/attaches to Chrome at startup.
	AutoStart bool `yaml:"auto_start"`
	// Headless controls whether Chrome runs in headless mode (default: true).
	Headless *bool `yaml:"headless"`
	// Default navigation timeout (e.g., "15s").
	DefaultNavigationTimeout string `yaml:"default_navigation_timeout"`
	// Default timeout when attaching to an existing target (e.g., "10s").
	DefaultAttachTimeout string `yaml:"default_attach_timeout"`
	// Optional path to persist session metadata between server restarts.
	SessionStore string `yaml:"session_store"`
	// Viewport width for new sessions (default: 1920).
	ViewportWidth int `yaml:"viewport_width"`
	// Viewport height for new sessions (default: 1080).
	ViewportHeight int `yaml:"viewport_height"`
	// Pause after click/scroll so the page can settle (e.g., "500ms").
	SettleDelay string `yaml:"settle_delay"`
}

type MCPConfig struct {
	// When set, starts an SSE server on this port instead of stdio-only.
	SSEPort int `yaml:"sse_port"`
}

// FactsConfig controls the embedded deductive engine fed by extraction results.
type FactsConfig struct {
	Enable          bool   `yaml:"enable"`
	SchemaPath      string `yaml:"schema_path"`
	FactBufferLimit int    `yaml:"fact_buffer_limit"`
}

// ExtractionConfig caps extracted text lengths.
type ExtractionConfig struct {
	TextMatchLimit   int `yaml:"text_match_limit"`
	ClickableLimit   int `yaml:"clickable_limit"`
	DescriptionLimit int `yaml:"description_limit"`
}

// OverlayConfig tunes the annotation layer.
type OverlayConfig struct {
	LayerID    string   `yaml:"layer_id"`
	Palette    []string `yaml:"palette"`
	ChipHeight float64  `yaml:"chip_height"`
}

// RecorderConfig enables the JSONL trace of tool invocations.
type RecorderConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
	// Rotate once the file grows past this many bytes (0 disables rotation).
	MaxBytes int64 `yaml:"max_bytes"`
}

// DefaultConfig provides reasonable defaults for local development.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:    "domkit-mcp",
			Version: "0.1.0",
			LogFile: "domkit-mcp.log",
		},
		Log: LogConfig{
			Level:    "info",
			Encoding: "json",
		},
		Browser: BrowserConfig{
			AutoStart:                true,
			DefaultNavigationTimeout: "15s",
			DefaultAttachTimeout:     "10s",
			SessionStore:             "sessions.json",
			ViewportWidth:            1920,
			ViewportHeight:           1080,
			SettleDelay:              "500ms",
		},
		MCP: MCPConfig{
			SSEPort: 0,
		},
		Facts: FactsConfig{
			Enable:          true,
			FactBufferLimit: 4096,
		},
		Extraction: ExtractionConfig{
			TextMatchLimit:   100,
			ClickableLimit:   50,
			DescriptionLimit: 50,
		},
		Overlay: OverlayConfig{
			LayerID:    "domkit-overlay-layer",
			ChipHeight: 18,
		},
		Recorder: RecorderConfig{
			Enable:   false,
			Path:     "data/trace.jsonl",
			MaxBytes: 10 << 20,
		},
	}
}

// Load reads YAML config from disk, overlays defaults and applies DOMKIT_*
// environment overrides.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, errors.New("config path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}

	if err := ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// DiscoverWorkspace walks up from startDir looking for a .domkit/config.yaml file.
// Returns the workspace root directory (parent of .domkit/) or empty string if not found.
func DiscoverWorkspace(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving start directory: %w", err)
	}

	for i := 0; i < MaxSearchDepth; i++ {
		candidate := filepath.Join(dir, WorkspaceDirName, WorkspaceConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", nil
}

// LoadWithWorkspace implements multi-layer config merge:
//
//	DefaultConfig() <- .domkit/config.yaml <- explicit --config <- .domkit/.env and DOMKIT_* env <- CLI flags
//
// Returns the merged config and the workspace directory (empty if none found).
func LoadWithWorkspace(explicitConfig string, opts WorkspaceOptions) (Config, string, error) {
	cfg := DefaultConfig()
	wsDir := ""

	if !opts.Disable {
		var err error
		if opts.ExplicitDir != "" {
			candidate := filepath.Join(opts.ExplicitDir, WorkspaceDirName, WorkspaceConfigFile)
			if _, statErr := os.Stat(candidate); statErr == nil {
				wsDir = opts.ExplicitDir
			}
		} else {
			cwd, cwdErr := os.Getwd()
			if cwdErr != nil {
				return cfg, "", fmt.Errorf("getting working directory: %w", cwdErr)
			}
			wsDir, err = DiscoverWorkspace(cwd)
			if err != nil {
				return cfg, "", fmt.Errorf("discovering workspace: %w", err)
			}
		}

		if wsDir != "" {
			wsConfigPath := filepath.Join(wsDir, WorkspaceDirName, WorkspaceConfigFile)
			raw, err := os.ReadFile(wsConfigPath)
			if err != nil {
				return cfg, "", fmt.Errorf("reading workspace config %s: %w", wsConfigPath, err)
			}
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, "", fmt.Errorf("parsing workspace config %s: %w", wsConfigPath, err)
			}
			cfg = resolveWorkspacePaths(cfg, wsDir)
		}
	}

	if explicitConfig != "" {
		raw, err := os.ReadFile(explicitConfig)
		if err != nil {
			return cfg, wsDir, fmt.Errorf("reading explicit config %s: %w", explicitConfig, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, wsDir, fmt.Errorf("parsing explicit config %s: %w", explicitConfig, err)
		}
	}

	if wsDir != "" {
		envPath := filepath.Join(wsDir, WorkspaceDirName, WorkspaceEnvFile)
		if _, err := os.Stat(envPath); err == nil {
			// Load never overrides variables already set in the process.
			if err := godotenv.Load(envPath); err != nil {
				return cfg, wsDir, fmt.Errorf("loading %s: %w", envPath, err)
			}
		}
	}
	if err := ApplyEnv(&cfg); err != nil {
		return cfg, wsDir, err
	}

	return cfg, wsDir, cfg.Validate()
}

// ApplyEnv overlays DOMKIT_* environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	if v, ok := lookupEnv("DEBUGGER_URL"); ok {
		cfg.Browser.DebuggerURL = v
	}
	if v, ok := lookupEnv("LAUNCH"); ok {
		cfg.Browser.Launch = strings.Fields(v)
	}
	if v, ok := lookupEnv("HEADLESS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sHEADLESS: %w", EnvPrefix, err)
		}
		cfg.Browser.Headless = &b
	}
	if v, ok := lookupEnv("AUTO_START"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sAUTO_START: %w", EnvPrefix, err)
		}
		cfg.Browser.AutoStart = b
	}
	if v, ok := lookupEnv("SSE_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sSSE_PORT: %w", EnvPrefix, err)
		}
		cfg.MCP.SSEPort = port
	}
	if v, ok := lookupEnv("LOG_LEVEL"); ok {
		cfg.Log.Level = v
	}
	if v, ok := lookupEnv("LOG_FILE"); ok {
		cfg.Server.LogFile = v
	}
	return nil
}

func lookupEnv(name string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

// InitWorkspace creates a .domkit/ directory with template files at root.
func InitWorkspace(root string) error {
	wsDir := filepath.Join(root, WorkspaceDirName)

	if _, err := os.Stat(wsDir); err == nil {
		return fmt.Errorf("workspace directory already exists: %s", wsDir)
	}

	dirs := []string{
		wsDir,
		filepath.Join(wsDir, "schemas"),
		filepath.Join(wsDir, "data"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	templateConfig := `# domkit project-level configuration
# Values here override defaults but are overridden by --config, DOMKIT_* env and CLI flags.

# browser:
#   headless: false
#   viewport_width: 1280
#   viewport_height: 720

# extraction:
#   clickable_limit: 80

# overlay:
#   palette: ["#e6194b", "#3cb44b", "#4363d8"]

# facts:
#   schema_path: ".domkit/schemas/project.mg"

# recorder:
#   enable: true
`
	configPath := filepath.Join(wsDir, WorkspaceConfigFile)
	if err := os.WriteFile(configPath, []byte(templateConfig), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	envTemplate := "# DOMKIT_DEBUGGER_URL=ws://127.0.0.1:9222/devtools/browser/...\n# DOMKIT_LOG_LEVEL=debug\n"
	if err := os.WriteFile(filepath.Join(wsDir, WorkspaceEnvFile), []byte(envTemplate), 0644); err != nil {
		return fmt.Errorf("writing env template: %w", err)
	}

	gitignoreContent := "# Runtime data (logs, sessions, traces) - do not version control\ndata/\n.env\n"
	gitignorePath := filepath.Join(wsDir, ".gitignore")
	if err := os.WriteFile(gitignorePath, []byte(gitignoreContent), 0644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	return nil
}

// resolveWorkspacePaths resolves relative paths in the config against the workspace directory.
func resolveWorkspacePaths(cfg Config, wsDir string) Config {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(wsDir, p)
	}

	cfg.Server.LogFile = resolve(cfg.Server.LogFile)
	cfg.Browser.SessionStore = resolve(cfg.Browser.SessionStore)
	cfg.Facts.SchemaPath = resolve(cfg.Facts.SchemaPath)
	cfg.Recorder.Path = resolve(cfg.Recorder.Path)
	return cfg
}

// Validate ensures required fields exist so the server can start deterministically.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if c.Browser.AutoStart {
		if c.Browser.DebuggerURL == "" && len(c.Browser.Launch) == 0 {
			return errors.New("browser.debugger_url or browser.launch must be provided")
		}
	}
	if c.MCP.SSEPort < 0 || c.MCP.SSEPort > 65535 {
		return fmt.Errorf("mcp.sse_port out of range: %d", c.MCP.SSEPort)
	}
	if c.Extraction.TextMatchLimit < 0 || c.Extraction.ClickableLimit < 0 || c.Extraction.DescriptionLimit < 0 {
		return errors.New("extraction limits must not be negative")
	}
	for _, color := range c.Overlay.Palette {
		if strings.TrimSpace(color) == "" {
			return errors.New("overlay.palette entries must not be empty")
		}
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	return nil
}

// NavigationTimeout returns the parsed navigation timeout with a sane default.
func (b BrowserConfig) NavigationTimeout() time.Duration {
	return parseDuration(b.DefaultNavigationTimeout, 15*time.Second)
}

// AttachTimeout returns the parsed attach timeout with a sane default.
func (b BrowserConfig) AttachTimeout() time.Duration {
	return parseDuration(b.DefaultAttachTimeout, 10*time.Second)
}

// Settle returns the post-action settle delay with a sane default.
func (b BrowserConfig) Settle() time.Duration {
	return parseDuration(b.SettleDelay, 500*time.Millisecond)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}

// IsHeadless returns whether Chrome should run in headless mode (default: true).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return true
	}
	return *b.Headless
}

// GetViewportWidth returns the viewport width with a sane default.
func (b BrowserConfig) GetViewportWidth() int {
	if b.ViewportWidth <= 0 {
		return 1920
	}
	return b.ViewportWidth
}

// GetViewportHeight returns the viewport height with a sane default.
func (b BrowserConfig) GetViewportHeight() int {
	if b.ViewportHeight <= 0 {
		return 1080
	}
	return b.ViewportHeight
}
