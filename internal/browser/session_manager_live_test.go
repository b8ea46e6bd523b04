package browser

import (
	"context"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"domkit-mcp-server/internal/config"
	"domkit-mcp-server/internal/dom"
	"domkit-mcp-server/internal/extract"
	"domkit-mcp-server/internal/overlay"

	"github.com/go-rod/rod/lib/launcher"
	"go.uber.org/zap/zaptest"
)

const livePage = `<!doctype html><html><head><title>Live</title></head><body style="height:3000px">
<form>
  <label for="email">Email</label><input id="email" type="email" required>
  <input type="hidden" name="csrf" value="x">
</form>
<div id="out">waiting</div>
<button id="go" onclick="document.getElementById('out').textContent = 'clicked'">Go</button>
<script>
  document.getElementById('email').addEventListener('change', (e) => {
    document.getElementById('out').dataset.changed = e.target.value;
  });
</script>
</body></html>`

func dataURL(body string) string {
	return "data:text/html," + url.PathEscape(body)
}

func newLiveManager(t *testing.T) (*SessionManager, context.Context) {
	t.Helper()
	if os.Getenv("SKIP_LIVE_TESTS") != "" {
		t.Skip("Skipping live browser tests (SKIP_LIVE_TESTS set)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	t.Cleanup(cancel)

	l := launcher.New().Headless(true)
	controlURL, err := l.Launch()
	if err != nil {
		t.Skipf("no browser available: %v", err)
	}
	t.Cleanup(l.Kill)

	headless := true
	m := NewSessionManager(config.BrowserConfig{
		DebuggerURL:    controlURL,
		Headless:       &headless,
		ViewportWidth:  1024,
		ViewportHeight: 768,
		SettleDelay:    "50ms",
	}, overlay.Options{}, zaptest.NewLogger(t))
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m, ctx
}

func mustSnapshot(t *testing.T, m *SessionManager, ctx context.Context, sessionID string) *dom.Document {
	t.Helper()
	doc, err := m.Snapshot(ctx, sessionID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	return doc
}

func TestLiveSessionLifecycle(t *testing.T) {
	m, ctx := newLiveManager(t)

	s, err := m.CreateSession(ctx, dataURL(livePage))
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if s.Status != StatusActive || s.TargetID == "" {
		t.Errorf("session = %+v", s)
	}

	doc := mustSnapshot(t, m, ctx, s.ID)

	t.Run("Extract", func(t *testing.T) {
		fields := extract.Inputs(doc)
		if len(fields) != 1 {
			t.Fatalf("fields = %+v, want only the email input", fields)
		}
		f := fields[0]
		if f.Address != `//*[@id="email"]` || f.Type != "email" || f.Description != "Email" || !f.Required {
			t.Errorf("field = %+v", f)
		}

		clickables := extract.Clickables(doc)
		found := false
		for _, c := range clickables {
			if c.Address == `//*[@id="go"]` && c.Text == "Go" {
				found = true
			}
		}
		if !found {
			t.Errorf("button missing from %+v", clickables)
		}
	})

	t.Run("Annotate", func(t *testing.T) {
		label := m.Labels(s.ID).Assign(KindClickable, `//*[@id="go"]`, "Go")
		res, err := m.Annotate(ctx, s.ID, nil)
		if err != nil {
			t.Fatalf("Annotate: %v", err)
		}
		if !res.Success || res.Count != 1 {
			t.Errorf("result = %+v", res)
		}
		boxes := m.Mounted(s.ID)
		if len(boxes) != 1 || boxes[0].Label != label {
			t.Errorf("mounted = %+v", boxes)
		}

		again := mustSnapshot(t, m, ctx, s.ID)
		if again.ElementByID(overlay.LayerID) == nil {
			t.Error("overlay layer not in page")
		}

		rm, err := m.RemoveAnnotations(ctx, s.ID)
		if err != nil || !rm.Success || rm.Count != 1 {
			t.Errorf("remove = %+v, %v", rm, err)
		}
	})

	t.Run("InputData", func(t *testing.T) {
		res, err := m.InputData(ctx, s.ID, `//*[@id="email"]`, "a@b.test")
		if err != nil {
			t.Fatalf("InputData: %v", err)
		}
		if !res.Success {
			t.Fatalf("result = %+v", res)
		}
		after := mustSnapshot(t, m, ctx, s.ID)
		if got := dom.Attr(after.ElementByID("out"), "data-changed"); got != "a@b.test" {
			t.Errorf("change listener saw %q", got)
		}
	})

	t.Run("Click", func(t *testing.T) {
		res, err := m.Click(ctx, s.ID, `//*[@id="go"]`)
		if err != nil || !res.Success {
			t.Fatalf("click = %+v, %v", res, err)
		}
		after := mustSnapshot(t, m, ctx, s.ID)
		if got := strings.TrimSpace(dom.TextContent(after.ElementByID("out"))); got != "clicked" {
			t.Errorf("out = %q, want clicked", got)
		}
	})

	t.Run("ClickUnknownLabel", func(t *testing.T) {
		res, err := m.Click(ctx, s.ID, "cafebabe")
		if err != nil {
			t.Fatalf("Click: %v", err)
		}
		if res.Success || !strings.Contains(res.Error, "cafebabe") {
			t.Errorf("result = %+v", res)
		}
	})

	t.Run("Scroll", func(t *testing.T) {
		res, err := m.Scroll(ctx, s.ID, "down", 2)
		if err != nil || !res.Success {
			t.Fatalf("scroll = %+v, %v", res, err)
		}
		if res.Current.Y-res.Previous.Y != 600 {
			t.Errorf("scrolled from %v to %v", res.Previous, res.Current)
		}
		bad, _ := m.Scroll(ctx, s.ID, "sideways", 1)
		if bad.Success {
			t.Error("invalid direction accepted")
		}
	})

	t.Run("NavigateClearsLabels", func(t *testing.T) {
		m.Labels(s.ID).Assign(KindText, "/html/body/div[1]", "")
		if _, err := m.Navigate(ctx, s.ID, dataURL("<p>next</p>")); err != nil {
			t.Fatalf("Navigate: %v", err)
		}
		if n := m.Labels(s.ID).Count(); n != 0 {
			t.Errorf("%d labels survived navigation", n)
		}
	})

	t.Run("Close", func(t *testing.T) {
		if err := m.CloseSession(ctx, s.ID); err != nil {
			t.Fatalf("CloseSession: %v", err)
		}
		if _, ok := m.GetSession(s.ID); ok {
			t.Error("session still listed after close")
		}
	})
}
