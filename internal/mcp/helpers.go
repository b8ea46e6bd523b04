package mcp

import (
	"context"
	"fmt"
	"strings"

	"domkit-mcp-server/internal/browser"
	"domkit-mcp-server/internal/dom"
	"domkit-mcp-server/internal/facts"
)

const (
	formatJSON     = "json"
	formatMarkdown = "markdown"
)

// markdownResult is returned by tools asked for markdown; the wrapper sends it
// as plain text instead of JSON.
type markdownResult struct {
	Markdown string
}

func getStringArg(args map[string]interface{}, key string) string {
	val, ok := args[key]
	if !ok || val == nil {
		return ""
	}
	switch v := val.(type) {
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

func getIntArg(args map[string]interface{}, key string, fallback int) int {
	val, ok := args[key]
	if !ok {
		return fallback
	}
	switch v := val.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}

// getBoolArg extracts a boolean argument with default.
func getBoolArg(args map[string]interface{}, key string, fallback bool) bool {
	val, ok := args[key]
	if !ok {
		return fallback
	}
	switch v := val.(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(v) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return fallback
}

func getFormatArg(args map[string]interface{}) (string, error) {
	switch f := strings.ToLower(getStringArg(args, "format")); f {
	case "", formatJSON:
		return formatJSON, nil
	case formatMarkdown:
		return formatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported format %q (use json or markdown)", f)
	}
}

// loadDocument returns the document named by session_id (a live snapshot) or
// html (a static parse), along with the session key used for facts.
func loadDocument(ctx context.Context, sessions *browser.SessionManager, args map[string]interface{}) (*dom.Document, string, error) {
	sessionID := getStringArg(args, "session_id")
	raw := getStringArg(args, "html")

	switch {
	case sessionID != "" && raw != "":
		return nil, "", fmt.Errorf("pass either session_id or html, not both")
	case sessionID != "":
		doc, err := sessions.Snapshot(ctx, sessionID)
		if err != nil {
			return nil, "", err
		}
		return doc, sessionID, nil
	case raw != "":
		doc, err := dom.ParseString(raw)
		if err != nil {
			return nil, "", err
		}
		doc.URL = getStringArg(args, "base_url")
		return doc, facts.StaticSession, nil
	default:
		return nil, "", fmt.Errorf("session_id or html is required")
	}
}

func sessionIDProperty(desc string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": desc,
	}
}

func documentProperties() map[string]interface{} {
	return map[string]interface{}{
		"session_id": sessionIDProperty("Session whose live page is scanned. Mutually exclusive with html."),
		"html": map[string]interface{}{
			"type":        "string",
			"description": "Static HTML document to scan instead of a live page. Styles come from <style> and inline style attributes only.",
		},
		"base_url": map[string]interface{}{
			"type":        "string",
			"description": "Base URL used to resolve relative links when html is given",
		},
		"format": map[string]interface{}{
			"type":        "string",
			"description": "Output format. Default: json",
			"enum":        []string{formatJSON, formatMarkdown},
		},
		"register_labels": map[string]interface{}{
			"type":        "boolean",
			"description": "Assign short labels to each result for annotate-elements, click-element and input-data. Live sessions only.",
		},
	}
}
