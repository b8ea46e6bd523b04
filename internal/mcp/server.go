package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"domkit-mcp-server/internal/browser"
	"domkit-mcp-server/internal/config"
	"domkit-mcp-server/internal/extract"
	"domkit-mcp-server/internal/facts"
	"domkit-mcp-server/internal/recorder"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// Server wires the MCP runtime to the session manager, the fact engine and
// the extraction toolkit.
type Server struct {
	cfg       config.Config
	sessions  *browser.SessionManager
	engine    *facts.Engine
	recorder  *recorder.Recorder
	logger    *zap.Logger
	limits    extract.Limits
	tools     map[string]Tool
	mcpServer *mcpserver.MCPServer
}

// Tool describes the contract for MCP tool implementations.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// NewServer constructs the MCP server and registers all tools. rec may be nil.
func NewServer(cfg config.Config, sessions *browser.SessionManager, engine *facts.Engine, rec *recorder.Recorder, logger *zap.Logger) (*Server, error) {
	if sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	mcpSrv := mcpserver.NewMCPServer(
		cfg.Server.Name,
		cfg.Server.Version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithLogging(),
		mcpserver.WithPromptCapabilities(false),
		mcpserver.WithRecovery(),
	)

	server := &Server{
		cfg:      cfg,
		sessions: sessions,
		engine:   engine,
		recorder: rec,
		logger:   logger.Named("mcp"),
		limits: extract.Limits{
			TextMatch:   cfg.Extraction.TextMatchLimit,
			Clickable:   cfg.Extraction.ClickableLimit,
			Description: cfg.Extraction.DescriptionLimit,
		},
		tools:     make(map[string]Tool),
		mcpServer: mcpSrv,
	}

	if engine != nil {
		sessions.OnPageReset(engine.Forget)
	}

	server.registerAllTools()
	server.registerAllResources()
	return server, nil
}

// Start serves over stdio until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	stdio := mcpserver.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// StartSSE hosts the server over HTTP using SSE endpoints with graceful shutdown.
func (s *Server) StartSSE(ctx context.Context, port int) error {
	sseServer := mcpserver.NewSSEServer(s.mcpServer, mcpserver.WithBaseURL("http://localhost:"+strconv.Itoa(port)))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())

	httpServer := &http.Server{
		Addr:    ":" + strconv.Itoa(port),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("SSE server listening", zap.Int("port", port))

	select {
	case <-ctx.Done():
		s.logger.Info("SSE server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// ExecuteTool runs a tool directly, bypassing the MCP transport.
func (s *Server) ExecuteTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	tool, exists := s.tools[name]
	if !exists {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return tool.Execute(ctx, args)
}

// ToolNames lists the registered tools.
func (s *Server) ToolNames() []string {
	names := make([]string, 0, len(s.tools))
	for name := range s.tools {
		names = append(names, name)
	}
	return names
}

func (s *Server) registerAllTools() {
	// Browser and sessions
	s.registerTool(&LaunchBrowserTool{sessions: s.sessions})
	s.registerTool(&ShutdownBrowserTool{sessions: s.sessions})
	s.registerTool(&ListSessionsTool{sessions: s.sessions})
	s.registerTool(&CreateSessionTool{sessions: s.sessions})
	s.registerTool(&AttachSessionTool{sessions: s.sessions})
	s.registerTool(&NavigateURLTool{sessions: s.sessions})
	s.registerTool(&CloseSessionTool{sessions: s.sessions})

	// Extraction
	ex := extractDeps{sessions: s.sessions, engine: s.engine, limits: s.limits, logger: s.logger}
	s.registerTool(&ExtractInputFieldsTool{ex})
	s.registerTool(&ExtractClickableElementsTool{ex})
	s.registerTool(&FindElementsByTextTool{ex})
	s.registerTool(&GetPageContentTool{ex})

	// Overlay and input
	s.registerTool(&AnnotateElementsTool{sessions: s.sessions, engine: s.engine, logger: s.logger})
	s.registerTool(&RemoveAnnotationsTool{sessions: s.sessions, engine: s.engine, logger: s.logger})
	s.registerTool(&DispatchInputEventsTool{sessions: s.sessions})
	s.registerTool(&InputDataTool{sessions: s.sessions})
	s.registerTool(&ClickElementTool{sessions: s.sessions})
	s.registerTool(&ScrollPageTool{sessions: s.sessions})

	// Facts
	s.registerTool(&QueryElementFactsTool{engine: s.engine})
}

func (s *Server) registerTool(tool Tool) {
	s.tools[tool.Name()] = tool

	schema, err := json.Marshal(tool.InputSchema())
	if err != nil {
		schema = json.RawMessage(`{"type":"object"}`)
	}

	mcpTool := mcp.NewToolWithRawSchema(tool.Name(), tool.Description(), schema)
	s.mcpServer.AddTool(mcpTool, s.wrapTool(tool))
}

func (s *Server) wrapTool(tool Tool) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		if args == nil {
			args = map[string]interface{}{}
		}

		sessionID := getStringArg(args, "session_id")
		s.recorder.Log(recorder.Event{Type: recorder.TypeToolCall, Tool: tool.Name(), SessionID: sessionID, Data: redactArgs(args)})
		start := time.Now()

		result, err := tool.Execute(ctx, args)

		elapsed := time.Since(start)
		done := recorder.Event{Type: recorder.TypeToolResult, Tool: tool.Name(), SessionID: sessionID, DurationMS: elapsed.Milliseconds()}
		if err != nil {
			done.Error = err.Error()
			s.recorder.Log(done)
			s.logger.Warn("tool failed", zap.String("tool", tool.Name()), zap.Duration("elapsed", elapsed), zap.Error(err))
			return &mcp.CallToolResult{
				Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf("tool %s failed: %v", tool.Name(), err))},
				IsError: true,
			}, nil
		}
		s.recorder.Log(done)
		s.logger.Debug("tool done", zap.String("tool", tool.Name()), zap.Duration("elapsed", elapsed))

		if md, ok := result.(markdownResult); ok {
			return &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent(md.Markdown)}}, nil
		}
		payload := marshalToolPayload(tool.Name(), result)
		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.NewTextContent(string(payload))},
			IsError: false,
		}, nil
	}
}

// redactArgs keeps typed values and inline documents out of the trace.
func redactArgs(args map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		switch k {
		case "value":
			out[k] = "[redacted]"
		case "html":
			out[k] = fmt.Sprintf("[%d bytes]", len(getStringArg(args, k)))
		default:
			out[k] = v
		}
	}
	return out
}

func marshalToolPayload(toolName string, result interface{}) []byte {
	payload, marshalErr := json.Marshal(result)
	if marshalErr == nil {
		return payload
	}

	fallback := map[string]interface{}{
		"success": false,
		"error":   fmt.Sprintf("tool %s returned non-serializable payload: %v", toolName, marshalErr),
	}
	payload, fallbackErr := json.Marshal(fallback)
	if fallbackErr == nil {
		return payload
	}

	return []byte(fmt.Sprintf(`{"success":false,"error":"tool %s failed to encode payload"}`, toolName))
}
