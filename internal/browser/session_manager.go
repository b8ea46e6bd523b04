package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"domkit-mcp-server/internal/config"
	"domkit-mcp-server/internal/dom"
	"domkit-mcp-server/internal/events"
	"domkit-mcp-server/internal/overlay"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Session statuses.
const (
	StatusActive   = "active"
	StatusAttached = "attached"
	StatusDetached = "detached"
)

var (
	ErrNotConnected = errors.New("browser not connected")
	ErrUnknown      = errors.New("unknown session")
	ErrDetached     = errors.New("session is detached; attach it to a live target first")
)

// Session describes the public metadata for a tracked browser page.
type Session struct {
	ID         string    `json:"id"`
	TargetID   string    `json:"target_id,omitempty"`
	URL        string    `json:"url,omitempty"`
	Title      string    `json:"title,omitempty"`
	Status     string    `json:"status,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

type sessionRecord struct {
	meta      Session
	page      *rod.Page
	labels    *LabelRegistry
	annotator *overlay.Annotator
	stop      context.CancelFunc
}

// SessionManager owns the Chrome instance and the pages opened on it. Each
// session carries its own label registry and overlay annotator.
type SessionManager struct {
	cfg         config.BrowserConfig
	overlayOpts overlay.Options
	logger      *zap.Logger
	synth       *events.Synthesizer

	mu         sync.RWMutex
	browser    *rod.Browser
	sessions   map[string]*sessionRecord
	controlURL string
	resetHooks []func(sessionID string)
}

func NewSessionManager(cfg config.BrowserConfig, opts overlay.Options, logger *zap.Logger) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{
		cfg:         cfg,
		overlayOpts: opts,
		logger:      logger.Named("browser"),
		synth:       events.NewSynthesizer(logger),
		sessions:    make(map[string]*sessionRecord),
	}
}

// LayerID is the id overlays are mounted under on every session's page.
func (m *SessionManager) LayerID() string {
	if m.overlayOpts.LayerID != "" {
		return m.overlayOpts.LayerID
	}
	return overlay.LayerID
}

// Start connects to an existing Chrome or launches a new one using Rod's launcher.
func (m *SessionManager) Start(ctx context.Context) error {
	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			return nil
		}
		m.logger.Warn("stale browser connection detected, reconnecting")
		_ = m.browser.Close()
		m.mu.Lock()
		m.browser = nil
		m.controlURL = ""
		for _, rec := range m.sessions {
			rec.halt()
		}
		m.sessions = make(map[string]*sessionRecord)
		m.mu.Unlock()
	}

	if err := m.loadSessions(); err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}

	controlURL := m.cfg.DebuggerURL
	if controlURL == "" && len(m.cfg.Launch) > 0 {
		bin := m.cfg.Launch[0]
		l := launcher.New().Bin(bin).Headless(m.cfg.IsHeadless())
		for _, rawFlag := range m.cfg.Launch[1:] {
			name, val, hasVal := strings.Cut(strings.TrimLeft(rawFlag, "-"), "=")
			if hasVal {
				l = l.Set(flags.Flag(name), val)
			} else {
				l = l.Set(flags.Flag(name))
			}
		}
		url, err := l.Launch()
		if err != nil {
			// Let Rod pick the port and defaults.
			alt, altErr := launcher.New().Bin(bin).Headless(m.cfg.IsHeadless()).Launch()
			if altErr != nil {
				return fmt.Errorf("launch chrome: %w (fallback: %v)", err, altErr)
			}
			url = alt
		}
		controlURL = url
	}

	if controlURL == "" {
		return errors.New("no debugger_url or launch command provided")
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	m.mu.Lock()
	m.browser = browser
	m.controlURL = controlURL
	m.mu.Unlock()
	m.logger.Info("browser connected", zap.String("control_url", controlURL))
	return nil
}

// ControlURL returns the WebSocket debugger URL for the connected browser.
func (m *SessionManager) ControlURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.controlURL
}

// IsConnected returns whether the browser is currently connected.
func (m *SessionManager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser != nil
}

// Shutdown closes tracked pages and the underlying browser.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	closed := make([]string, 0, len(m.sessions))
	for id, rec := range m.sessions {
		rec.halt()
		if rec.page != nil {
			_ = rec.page.Close()
		}
		delete(m.sessions, id)
		closed = append(closed, id)
	}

	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	m.controlURL = ""
	m.mu.Unlock()

	for _, id := range closed {
		m.reset(id)
	}
	m.logger.Info("browser shutdown complete", zap.Int("sessions", len(closed)))
	return err
}

// List returns metadata for all known sessions, oldest first.
func (m *SessionManager) List() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]Session, 0, len(m.sessions))
	for _, rec := range m.sessions {
		results = append(results, rec.meta)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.Before(results[j].CreatedAt)
	})
	return results
}

// CreateSession opens a new page in its own incognito context and tracks it.
func (m *SessionManager) CreateSession(ctx context.Context, url string) (*Session, error) {
	m.mu.RLock()
	browser := m.browser
	m.mu.RUnlock()
	if browser == nil {
		return nil, ErrNotConnected
	}
	if url == "" {
		url = "about:blank"
	}

	incognito, err := browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}

	page, err := incognito.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.GetViewportWidth(),
		Height:            m.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		m.logger.Warn("set viewport", zap.Error(err))
	}

	if err := page.Timeout(m.cfg.NavigationTimeout()).WaitLoad(); err != nil {
		m.logger.Debug("initial load did not settle", zap.String("url", url), zap.Error(err))
	}

	now := time.Now()
	meta := Session{
		ID:         uuid.NewString(),
		TargetID:   string(page.TargetID),
		URL:        url,
		Status:     StatusActive,
		CreatedAt:  now,
		LastActive: now,
	}
	if info, err := page.Info(); err == nil {
		meta.URL = coalesceNonEmpty(info.URL, url)
		meta.Title = info.Title
	}

	m.track(meta, page)
	m.logger.Info("session created", zap.String("session", meta.ID), zap.String("url", meta.URL))
	return &meta, nil
}

// Attach binds to an existing target by TargetID.
func (m *SessionManager) Attach(ctx context.Context, targetID string) (*Session, error) {
	m.mu.RLock()
	browser := m.browser
	m.mu.RUnlock()
	if browser == nil {
		return nil, ErrNotConnected
	}

	page, err := browser.PageFromTarget(proto.TargetTargetID(targetID))
	if err != nil {
		return nil, fmt.Errorf("attach to target %s: %w", targetID, err)
	}

	now := time.Now()
	meta := Session{
		ID:         uuid.NewString(),
		TargetID:   targetID,
		Status:     StatusAttached,
		CreatedAt:  now,
		LastActive: now,
	}
	if info, err := page.Timeout(m.cfg.AttachTimeout()).Info(); err == nil {
		meta.URL = info.URL
		meta.Title = info.Title
	}

	m.track(meta, page)
	return &meta, nil
}

func (m *SessionManager) track(meta Session, page *rod.Page) {
	watchCtx, stop := context.WithCancel(context.Background())
	rec := &sessionRecord{
		meta:      meta,
		page:      page,
		labels:    NewLabelRegistry(),
		annotator: overlay.New(m.overlayOpts, m.logger),
		stop:      stop,
	}

	m.mu.Lock()
	m.sessions[meta.ID] = rec
	m.mu.Unlock()

	m.watchNavigation(watchCtx, meta.ID, page)
	if err := m.persistSessions(); err != nil {
		m.logger.Warn("persist sessions", zap.Error(err))
	}
}

// Navigate loads url in the session's page. Labels from the previous page
// are dropped.
func (m *SessionManager) Navigate(ctx context.Context, sessionID, url string) (*Session, error) {
	rec, err := m.live(sessionID)
	if err != nil {
		return nil, err
	}

	page := rec.page.Context(ctx).Timeout(m.cfg.NavigationTimeout())
	if err := page.Navigate(url); err != nil {
		return nil, fmt.Errorf("navigate to %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		m.logger.Debug("load did not settle", zap.String("url", url), zap.Error(err))
	}
	rec.labels.Clear()
	m.reset(sessionID)

	title := ""
	if info, err := rec.page.Info(); err == nil {
		url = coalesceNonEmpty(info.URL, url)
		title = info.Title
	}
	m.UpdateMetadata(sessionID, func(s Session) Session {
		s.URL = url
		s.Title = title
		s.LastActive = time.Now()
		return s
	})
	meta, _ := m.GetSession(sessionID)
	_ = m.persistSessions()
	return &meta, nil
}

// CloseSession closes the page and forgets the session.
func (m *SessionManager) CloseSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	rec, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknown, sessionID)
	}

	rec.halt()
	m.reset(sessionID)
	var err error
	if rec.page != nil {
		err = rec.page.Close()
	}
	if perr := m.persistSessions(); perr != nil {
		m.logger.Warn("persist sessions", zap.Error(perr))
	}
	return err
}

// Page returns the underlying Rod page for a session when present.
func (m *SessionManager) Page(sessionID string) (*rod.Page, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[sessionID]
	if !ok || rec.page == nil {
		return nil, false
	}
	return rec.page, true
}

// Labels returns the label registry for a session, or nil.
func (m *SessionManager) Labels(sessionID string) *LabelRegistry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	return rec.labels
}

// UpdateMetadata refreshes a session's metadata in place.
func (m *SessionManager) UpdateMetadata(sessionID string, updater func(Session) Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	rec.meta = updater(rec.meta)
}

// GetSession returns the current session metadata when available.
func (m *SessionManager) GetSession(sessionID string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return rec.meta, true
}

// Snapshot captures the session's page as a document.
func (m *SessionManager) Snapshot(ctx context.Context, sessionID string) (*dom.Document, error) {
	rec, err := m.live(sessionID)
	if err != nil {
		return nil, err
	}
	doc, err := Snapshot(ctx, rec.page)
	if err != nil {
		return nil, err
	}
	m.UpdateMetadata(sessionID, func(s Session) Session {
		s.URL = coalesceNonEmpty(doc.URL, s.URL)
		s.Title = coalesceNonEmpty(doc.Title, s.Title)
		s.LastActive = time.Now()
		return s
	})
	return doc, nil
}

// live returns the record of a session that is bound to a page.
func (m *SessionManager) live(sessionID string) (*sessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknown, sessionID)
	}
	if rec.page == nil {
		return nil, fmt.Errorf("%w: %s", ErrDetached, sessionID)
	}
	return rec, nil
}

// watchNavigation clears the session's labels whenever its main frame
// commits a new document.
func (m *SessionManager) watchNavigation(ctx context.Context, sessionID string, page *rod.Page) {
	wait := page.Context(ctx).EachEvent(func(ev *proto.PageFrameNavigated) {
		if ev.Frame == nil || ev.Frame.ParentID != "" {
			return
		}
		if labels := m.Labels(sessionID); labels != nil {
			if n := labels.Count(); n > 0 {
				m.logger.Debug("navigation cleared labels",
					zap.String("session", sessionID), zap.Int("count", n), zap.String("url", ev.Frame.URL))
			}
			labels.Clear()
		}
		m.reset(sessionID)
		m.UpdateMetadata(sessionID, func(s Session) Session {
			s.URL = ev.Frame.URL
			s.LastActive = time.Now()
			return s
		})
	})
	go wait()
}

// OnPageReset registers fn to run whenever a session's document is replaced
// or the session is closed.
func (m *SessionManager) OnPageReset(fn func(sessionID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetHooks = append(m.resetHooks, fn)
}

func (m *SessionManager) reset(sessionID string) {
	m.mu.RLock()
	hooks := append([]func(string){}, m.resetHooks...)
	m.mu.RUnlock()
	for _, fn := range hooks {
		fn(sessionID)
	}
}

func (r *sessionRecord) halt() {
	if r.stop != nil {
		r.stop()
	}
}

// persistSessions writes session metadata to disk for continuity across restarts.
func (m *SessionManager) persistSessions() error {
	if m.cfg.SessionStore == "" {
		return nil
	}

	sessions := m.List()
	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(m.cfg.SessionStore), 0o755); err != nil {
		return err
	}
	return os.WriteFile(m.cfg.SessionStore, data, 0o644)
}

// loadSessions loads persisted metadata. Loaded sessions are detached until
// a caller attaches them to a live target.
func (m *SessionManager) loadSessions() error {
	if m.cfg.SessionStore == "" {
		return nil
	}

	data, err := os.ReadFile(m.cfg.SessionStore)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var sessions []Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range sessions {
		if _, ok := m.sessions[s.ID]; ok {
			continue
		}
		s.Status = StatusDetached
		m.sessions[s.ID] = &sessionRecord{
			meta:      s,
			labels:    NewLabelRegistry(),
			annotator: overlay.New(m.overlayOpts, m.logger),
		}
	}
	return nil
}

func coalesceNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
