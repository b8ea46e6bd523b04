package mcp

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"domkit-mcp-server/internal/browser"
	"domkit-mcp-server/internal/dom"
	"domkit-mcp-server/internal/extract"
	"domkit-mcp-server/internal/facts"

	"go.uber.org/zap"
)

// extractDeps is shared by the extraction tools.
type extractDeps struct {
	sessions *browser.SessionManager
	engine   *facts.Engine
	limits   extract.Limits
	logger   *zap.Logger
}

type labelledInput struct {
	Label string `json:"label,omitempty"`
	extract.InputField
}

type labelledElement struct {
	Label string `json:"label,omitempty"`
	extract.DescribedElement
}

// scan holds what every extraction tool needs before producing output.
type scan struct {
	doc      *dom.Document
	session  string
	format   string
	labels   *browser.LabelRegistry
	register bool
}

func (d extractDeps) begin(ctx context.Context, args map[string]interface{}) (*scan, error) {
	format, err := getFormatArg(args)
	if err != nil {
		return nil, err
	}
	doc, session, err := loadDocument(ctx, d.sessions, args)
	if err != nil {
		return nil, err
	}
	s := &scan{doc: doc, session: session, format: format}
	if getBoolArg(args, "register_labels", false) {
		if session == facts.StaticSession {
			return nil, fmt.Errorf("register_labels needs a live session_id")
		}
		s.labels = d.sessions.Labels(session)
		s.register = s.labels != nil
	}
	return s, nil
}

func (s *scan) assign(kind, address, text string) string {
	if !s.register {
		return ""
	}
	return s.labels.Assign(kind, address, text)
}

// extractor scans doc without the overlay layer, whose chips would otherwise
// match as page text.
func (d extractDeps) extractor(doc *dom.Document) *extract.Extractor {
	ex := extract.New(doc, d.limits)
	if d.sessions != nil {
		ex.Exclude(d.sessions.LayerID())
	}
	return ex
}

func (d extractDeps) record(ctx context.Context, session, predicate string, fs []facts.Fact) {
	recordFacts(ctx, d.engine, d.logger, session, predicate, fs)
}

// recordFacts replaces a session's facts for one predicate. A failed write is
// logged and never fails the tool.
func recordFacts(ctx context.Context, engine *facts.Engine, logger *zap.Logger, session, predicate string, fs []facts.Fact) {
	if engine == nil {
		return
	}
	if err := engine.Replace(ctx, session, predicate, fs); err != nil {
		if logger == nil {
			logger = zap.NewNop()
		}
		logger.Warn("element facts not recorded", zap.String("session", session), zap.String("predicate", predicate), zap.Error(err))
	}
}

// labelTable lists registered labels for markdown output.
func labelTable(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("\n### Labels\n\n| Label | XPath |\n|-------|-------|\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "| `%s` | `%s` |\n", k, labels[k])
	}
	return b.String()
}

// ExtractInputFieldsTool lists visible form controls.
type ExtractInputFieldsTool struct {
	extractDeps
}

func (t *ExtractInputFieldsTool) Name() string { return "extract-input-fields" }
func (t *ExtractInputFieldsTool) Description() string {
	return `List the visible form controls of a page with an XPath address and a
human description for each.

Covers <input> of type text, email, password, number, tel, url, search, date,
datetime-local, time, month, week, color, range and file, untyped <input>,
<textarea>, <select> and contenteditable elements. Checkboxes, radios and
button-like inputs are not listed; controls inside hidden containers are
skipped. Descriptions come from placeholder, <label for>, an enclosing
<label>, aria-label, a short preceding sibling, then name and title.

Records input_field facts for query-element-facts.

Returns: {success, count, inputs: [{label?, xpath, type, description, required, disabled}], labels?}
or a markdown table when format is "markdown".`
}
func (t *ExtractInputFieldsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": documentProperties(),
	}
}
func (t *ExtractInputFieldsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	s, err := t.begin(ctx, args)
	if err != nil {
		return nil, err
	}

	fields := t.extractor(s.doc).Inputs()
	t.record(ctx, s.session, facts.PredInputField, facts.InputFacts(s.session, fields))

	out, labels := labelInputs(s, fields)
	if s.format == formatMarkdown {
		return markdownResult{Markdown: extract.MarkdownInputs(fields) + labelTable(labels)}, nil
	}
	resp := map[string]interface{}{
		"success": true,
		"count":   len(out),
		"inputs":  out,
	}
	if len(labels) > 0 {
		resp["labels"] = labels
	}
	return resp, nil
}

// ExtractClickableElementsTool lists visible, enabled clickables.
type ExtractClickableElementsTool struct {
	extractDeps
}

func (t *ExtractClickableElementsTool) Name() string { return "extract-clickable-elements" }
func (t *ExtractClickableElementsTool) Description() string {
	return `List the visible, enabled clickable elements of a page.

Covers links, buttons, button-like inputs, [onclick], [role=button],
[tabindex], area links, selects and details summaries. Text prefers image alt
text, then element text, aria-label and title, capped at 50 characters.
Links are deduplicated by href, everything else by tag and text.

Records clickable facts for query-element-facts.

Returns: {success, count, elements: [{label?, xpath, text, tag, class?, id?, href?}], labels?}
or a markdown table when format is "markdown".`
}
func (t *ExtractClickableElementsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": documentProperties(),
	}
}
func (t *ExtractClickableElementsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	s, err := t.begin(ctx, args)
	if err != nil {
		return nil, err
	}

	items := t.extractor(s.doc).Clickables()
	t.record(ctx, s.session, facts.PredClickable, facts.ClickableFacts(s.session, items))

	out, labels := labelElements(s, browser.KindClickable, items)
	if s.format == formatMarkdown {
		return markdownResult{Markdown: extract.MarkdownClickables(items) + labelTable(labels)}, nil
	}
	resp := map[string]interface{}{
		"success":  true,
		"count":    len(out),
		"elements": out,
	}
	if len(labels) > 0 {
		resp["labels"] = labels
	}
	return resp, nil
}

// FindElementsByTextTool locates visible divs containing a string.
type FindElementsByTextTool struct {
	extractDeps
}

func (t *FindElementsByTextTool) Name() string { return "find-elements-by-text" }
func (t *FindElementsByTextTool) Description() string {
	return `Find visible <div> elements whose text contains the given string.

Matching is case-sensitive and uses XPath contains(). Quotes in the text are
handled. Matched text is capped at 100 characters.

Records text_match facts for query-element-facts.

Returns: {success, text, count, elements: [{label?, xpath, text, tag, class?, id?}], labels?}
or a markdown table when format is "markdown".`
}
func (t *FindElementsByTextTool) InputSchema() map[string]interface{} {
	props := documentProperties()
	props["text"] = map[string]interface{}{
		"type":        "string",
		"description": "Text to search for",
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   []string{"text"},
	}
}
func (t *FindElementsByTextTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	query := getStringArg(args, "text")
	if query == "" {
		return nil, fmt.Errorf("text is required")
	}
	s, err := t.begin(ctx, args)
	if err != nil {
		return nil, err
	}

	items := t.extractor(s.doc).FindByText(query)
	t.record(ctx, s.session, facts.PredTextMatch, facts.TextMatchFacts(s.session, query, items))

	out, labels := labelElements(s, browser.KindText, items)
	if s.format == formatMarkdown {
		return markdownResult{Markdown: extract.MarkdownMatches(query, items) + labelTable(labels)}, nil
	}
	resp := map[string]interface{}{
		"success":  true,
		"text":     query,
		"count":    len(out),
		"elements": out,
	}
	if len(labels) > 0 {
		resp["labels"] = labels
	}
	return resp, nil
}

func labelInputs(s *scan, fields []extract.InputField) ([]labelledInput, map[string]string) {
	out := make([]labelledInput, 0, len(fields))
	labels := make(map[string]string)
	for _, f := range fields {
		l := s.assign(browser.KindInput, f.Address, f.Description)
		if l != "" {
			labels[l] = f.Address
		}
		out = append(out, labelledInput{Label: l, InputField: f})
	}
	return out, labels
}

func labelElements(s *scan, kind string, items []extract.DescribedElement) ([]labelledElement, map[string]string) {
	out := make([]labelledElement, 0, len(items))
	labels := make(map[string]string)
	for _, it := range items {
		l := s.assign(kind, it.Address, it.Text)
		if l != "" {
			labels[l] = it.Address
		}
		out = append(out, labelledElement{Label: l, DescribedElement: it})
	}
	return out, labels
}

// GetPageContentTool renders a page as markdown followed by its clickable and
// input tables.
type GetPageContentTool struct {
	extractDeps
}

func (t *GetPageContentTool) Name() string { return "get-page-content" }
func (t *GetPageContentTool) Description() string {
	return `Read a page as markdown, followed by its clickable elements and input
fields as tables.

Image links are shortened: inline data: images become REDACTED and targets
longer than 50 characters are truncated. Raw <img> tags are replaced by their
alt text. A line repeating the previous line is dropped. The overlay drawn by
annotate-elements is not part of the content.

Records clickable and input_field facts for query-element-facts.

Returns: {success, content, url, labels?}`
}
func (t *GetPageContentTool) InputSchema() map[string]interface{} {
	props := documentProperties()
	delete(props, "format")
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
}
func (t *GetPageContentTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	s, err := t.begin(ctx, args)
	if err != nil {
		return nil, err
	}

	ex := t.extractor(s.doc)
	content, err := ex.Content(ctx)
	if err != nil {
		t.logger.Warn("page content", zap.String("session", s.session), zap.Error(err))
		return map[string]interface{}{
			"success": false,
			"error":   fmt.Sprintf("Content extraction error: %v", err),
		}, nil
	}

	items := ex.Clickables()
	fields := ex.Inputs()
	t.record(ctx, s.session, facts.PredClickable, facts.ClickableFacts(s.session, items))
	t.record(ctx, s.session, facts.PredInputField, facts.InputFacts(s.session, fields))

	_, labels := labelElements(s, browser.KindClickable, items)
	_, inputLabels := labelInputs(s, fields)
	for l, addr := range inputLabels {
		labels[l] = addr
	}

	resp := map[string]interface{}{
		"success": true,
		"content": content + extract.MarkdownClickables(items) + extract.MarkdownInputs(fields) + labelTable(labels),
		"url":     s.doc.URL,
	}
	if len(labels) > 0 {
		resp["labels"] = labels
	}
	return resp, nil
}
