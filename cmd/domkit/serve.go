package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"domkit-mcp-server/internal/browser"
	"domkit-mcp-server/internal/config"
	"domkit-mcp-server/internal/facts"
	"domkit-mcp-server/internal/logging"
	mcpserver "domkit-mcp-server/internal/mcp"
	"domkit-mcp-server/internal/overlay"
	"domkit-mcp-server/internal/recorder"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type serveOptions struct {
	configPath   string
	ssePort      int
	noWorkspace  bool
	workspaceDir string
}

func newServeCmd() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server",
		Long: `Run the MCP server over stdio, or over SSE when a port is configured.

Config precedence (lowest first): defaults, .domkit/config.yaml found by
walking up from the working directory, --config, DOMKIT_* environment,
flags.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "config", "", "Path to an explicit config file")
	cmd.Flags().IntVar(&opts.ssePort, "sse-port", 0, "Serve SSE on this port (overrides config)")
	cmd.Flags().BoolVar(&opts.noWorkspace, "no-workspace", false, "Skip .domkit workspace discovery")
	cmd.Flags().StringVar(&opts.workspaceDir, "workspace-dir", "", "Use this directory as the workspace root")
	return cmd
}

func runServe(parent context.Context, opts serveOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, wsDir, err := config.LoadWithWorkspace(opts.configPath, config.WorkspaceOptions{
		Disable:     opts.noWorkspace,
		ExplicitDir: opts.workspaceDir,
	})
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.ssePort != 0 {
		cfg.MCP.SSEPort = opts.ssePort
	}

	// stdout belongs to the stdio transport; SSE mode may log to stderr.
	logFile := cfg.Server.LogFile
	if cfg.MCP.SSEPort > 0 {
		logFile = ""
	}
	logger, flush, err := logging.New(logging.Options{
		Level:    cfg.Log.Level,
		Encoding: cfg.Log.Encoding,
		File:     logFile,
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer flush()
	if wsDir != "" {
		logger.Info("workspace loaded", zap.String("dir", wsDir))
	}

	engine, err := facts.NewEngine(cfg.Facts, logger)
	if err != nil {
		return fmt.Errorf("init fact engine: %w", err)
	}

	rec, err := recorder.NewRecorder(cfg.Recorder, logger)
	if err != nil {
		return fmt.Errorf("init recorder: %w", err)
	}
	defer rec.Close()

	sessions := browser.NewSessionManager(cfg.Browser, overlay.Options{
		LayerID:    cfg.Overlay.LayerID,
		Palette:    cfg.Overlay.Palette,
		ChipHeight: cfg.Overlay.ChipHeight,
	}, logger)
	if cfg.Browser.AutoStart {
		if err := sessions.Start(ctx); err != nil {
			return fmt.Errorf("start browser: %w", err)
		}
		defer func() {
			if err := sessions.Shutdown(context.Background()); err != nil {
				logger.Warn("browser shutdown", zap.Error(err))
			}
		}()
	} else {
		logger.Info("browser auto-start disabled; use launch-browser or attach-session")
	}

	server, err := mcpserver.NewServer(cfg, sessions, engine, rec, logger)
	if err != nil {
		return fmt.Errorf("init MCP server: %w", err)
	}

	if cfg.MCP.SSEPort > 0 {
		err = server.StartSSE(ctx, cfg.MCP.SSEPort)
	} else {
		err = server.Start(ctx)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
