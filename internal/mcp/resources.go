package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"domkit-mcp-server/internal/browser"
	"domkit-mcp-server/internal/facts"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	resourceMIMEJSON = "application/json"
)

func (s *Server) registerAllResources() {
	if s == nil || s.mcpServer == nil {
		return
	}

	s.mcpServer.AddResource(
		mcp.NewResource(
			"domkit://about",
			"DomKit About",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("Server info, registered tools and usage notes."),
		),
		s.handleAboutResource,
	)

	s.mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"domkit://session/{sessionId}/labels",
			"Session Labels",
			mcp.WithTemplateMIMEType(resourceMIMEJSON),
			mcp.WithTemplateDescription("Element labels currently registered for a session, in assignment order."),
		),
		s.handleSessionLabelsResource,
	)

	s.mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"domkit://session/{sessionId}/facts{?predicate,limit}",
			"Session Element Facts",
			mcp.WithTemplateMIMEType(resourceMIMEJSON),
			mcp.WithTemplateDescription("Most recent element facts for a session, optionally filtered by predicate."),
		),
		s.handleSessionFactsResource,
	)
}

func jsonContents(uri string, payload interface{}) ([]mcp.ResourceContents, error) {
	text, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: resourceMIMEJSON,
			Text:     string(text),
		},
	}, nil
}

func (s *Server) handleAboutResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	tools := s.ToolNames()
	sort.Strings(tools)
	return jsonContents(request.Params.URI, map[string]interface{}{
		"name":    s.cfg.Server.Name,
		"version": s.cfg.Server.Version,
		"tools":   tools,
		"notes": []string{
			"Extraction tools accept session_id for a live page or html for a static document.",
			"register_labels assigns short labels usable by annotate-elements, click-element and input-data.",
			"Labels and element facts for a session are dropped when its page navigates.",
		},
		"timestamp_ms": time.Now().UnixMilli(),
	})
}

func (s *Server) handleSessionLabelsResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	sessionID := argString(request.Params.Arguments["sessionId"])
	if sessionID == "" {
		return nil, fmt.Errorf("missing sessionId")
	}
	registry := s.sessions.Labels(sessionID)
	if registry == nil {
		return nil, fmt.Errorf("%w: %s", browser.ErrUnknown, sessionID)
	}
	entries := registry.Entries()
	return jsonContents(request.Params.URI, map[string]interface{}{
		"session_id": sessionID,
		"generation": registry.Generation(),
		"count":      len(entries),
		"labels":     entries,
	})
}

func (s *Server) handleSessionFactsResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	if s.engine == nil {
		return nil, fmt.Errorf("fact engine unavailable")
	}

	sessionID := argString(request.Params.Arguments["sessionId"])
	if sessionID == "" {
		return nil, fmt.Errorf("missing sessionId")
	}
	predicate := argString(request.Params.Arguments["predicate"])
	limit := asInt(request.Params.Arguments["limit"])
	if limit <= 0 {
		limit = 25
	}
	if limit > 500 {
		limit = 500
	}

	recent := selectRecentSessionFacts(s.engine, sessionID, predicate, limit)
	return jsonContents(request.Params.URI, map[string]interface{}{
		"session_id": sessionID,
		"predicate":  predicate,
		"limit":      limit,
		"count":      len(recent),
		"facts":      recent,
	})
}

func selectRecentSessionFacts(engine *facts.Engine, sessionID, predicate string, limit int) []facts.Fact {
	if engine == nil || sessionID == "" || limit <= 0 {
		return []facts.Fact{}
	}

	var source []facts.Fact
	if predicate != "" {
		source = engine.FactsByPredicate(predicate)
	} else {
		source = engine.Facts()
	}

	out := make([]facts.Fact, 0, min(limit, len(source)))
	for i := len(source) - 1; i >= 0 && len(out) < limit; i-- {
		f := source[i]
		if len(f.Args) == 0 || fmt.Sprintf("%v", f.Args[0]) != sessionID {
			continue
		}
		out = append(out, f)
	}

	// Oldest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func argString(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case []string:
		if len(value) == 0 {
			return ""
		}
		return value[0]
	default:
		return fmt.Sprintf("%v", value)
	}
}

func asInt(v any) int {
	switch value := v.(type) {
	case int:
		return value
	case int64:
		return int(value)
	case float64:
		return int(value)
	case string:
		var n int
		if _, err := fmt.Sscanf(value, "%d", &n); err == nil {
			return n
		}
	case []string:
		if len(value) > 0 {
			return asInt(value[0])
		}
	}
	return 0
}
