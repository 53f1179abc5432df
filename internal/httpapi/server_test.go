package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/you/grimoire-overlay/internal/channel"
	"github.com/you/grimoire-overlay/internal/core"
	"github.com/you/grimoire-overlay/internal/reconcile"
	"github.com/you/grimoire-overlay/internal/script"
)

func newTestServer(t *testing.T, opts Options) (*Server, *channel.Memory) {
	t.Helper()
	mem := channel.NewMemory(64)
	srv := New(mem, opts)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv, mem
}

func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestBlobDefaultsAndRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/overlay-config", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "{}" {
		t.Fatalf("expected empty object, got %d %q", rec.Code, rec.Body.String())
	}
	if cc := rec.Header().Get("Cache-Control"); !strings.Contains(cc, "no-store") {
		t.Fatalf("expected no-cache headers, got %q", cc)
	}

	body := `{"selectedScript":"trouble_brewing.json"}`
	rec = serve(srv, httptest.NewRequest(http.MethodPost, "/api/overlay-config", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("post status %d", rec.Code)
	}
	var ack map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&ack); err != nil || ack["status"] != "ok" {
		t.Fatalf("unexpected ack %v (%v)", ack, err)
	}

	rec = serve(srv, httptest.NewRequest(http.MethodGet, "/api/overlay-config", nil))
	if rec.Body.String() != body {
		t.Fatalf("expected %q, got %q", body, rec.Body.String())
	}

	// seating is a separate document
	rec = serve(srv, httptest.NewRequest(http.MethodGet, "/api/seating", nil))
	if rec.Body.String() != "{}" {
		t.Fatalf("seating leaked overlay config: %q", rec.Body.String())
	}
}

func TestBlobRejectsInvalidJSON(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	rec := serve(srv, httptest.NewRequest(http.MethodPost, "/api/seating", strings.NewReader("{nope")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestBlobBodyLimit(t *testing.T) {
	srv, _ := newTestServer(t, Options{MaxBodyBytes: 8})
	rec := serve(srv, httptest.NewRequest(http.MethodPost, "/api/seating", strings.NewReader(`{"a":"0123456789"}`)))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestSegmentRoundTrip(t *testing.T) {
	srv, mem := newTestServer(t, Options{})

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/segments/broadcaster", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for unset segment, got %d", rec.Code)
	}

	rec = serve(srv, httptest.NewRequest(http.MethodPut, "/api/segments/global", strings.NewReader(`{"a":1}`)))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("put status %d: %s", rec.Code, rec.Body.String())
	}
	if got, _ := mem.GetSegment(context.Background(), core.Global); got != `{"a":1}` {
		t.Fatalf("backend not written: %q", got)
	}

	rec = serve(srv, httptest.NewRequest(http.MethodGet, "/api/segments/global", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != `{"a":1}` {
		t.Fatalf("get returned %d %q", rec.Code, rec.Body.String())
	}
}

func TestSegmentErrors(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/segments/developer", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown kind, got %d", rec.Code)
	}

	big := strings.Repeat("x", 65)
	rec = serve(srv, httptest.NewRequest(http.MethodPut, "/api/segments/broadcaster", strings.NewReader(big)))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 on capacity overflow, got %d", rec.Code)
	}
	var payload struct {
		Size     int `json:"size"`
		Capacity int `json:"capacity"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Size != 65 || payload.Capacity != 64 {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestBroadcastReachesBackendAndListeners(t *testing.T) {
	srv, mem := newTestServer(t, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fired := make(chan struct{}, 4)
	if err := srv.Notify(ctx, func() { fired <- struct{}{} }); err != nil {
		t.Fatalf("notify: %v", err)
	}

	rec := serve(srv, httptest.NewRequest(http.MethodPost, "/api/broadcast", strings.NewReader(`{"type":"config"}`)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if got := mem.Broadcasts(); len(got) != 1 || got[0] != `{"type":"config"}` {
		t.Fatalf("backend broadcasts: %v", got)
	}
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("listener not called")
	}
}

func TestScriptLibraryRoutes(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/scripts", nil))
	var names []string
	if err := json.NewDecoder(rec.Body).Decode(&names); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	found := false
	for _, n := range names {
		if n == script.DefaultName {
			found = true
		}
	}
	if !found {
		t.Fatalf("default script missing from %v", names)
	}

	rec = serve(srv, httptest.NewRequest(http.MethodGet, "/Allscript/"+script.DefaultName, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if _, err := script.Parse(rec.Body.Bytes()); err != nil {
		t.Fatalf("served script does not parse: %v", err)
	}

	rec = serve(srv, httptest.NewRequest(http.MethodGet, "/Allscript/missing.json", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

type fixedOverlay struct {
	res reconcile.Result
	ok  bool
}

func (f fixedOverlay) Current() (reconcile.Result, bool) { return f.res, f.ok }

func TestOverlayScript(t *testing.T) {
	srv, _ := newTestServer(t, Options{Overlay: fixedOverlay{}})
	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/overlay/script", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before first apply, got %d", rec.Code)
	}

	body := script.Default()
	srv, _ = newTestServer(t, Options{Overlay: fixedOverlay{
		res: reconcile.Result{Body: body, Source: reconcile.SourceBuiltin},
		ok:  true,
	}})
	rec = serve(srv, httptest.NewRequest(http.MethodGet, "/overlay/script", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != body.Text {
		t.Fatalf("unexpected body")
	}
	if src := rec.Header().Get("X-Overlay-Source"); src != string(reconcile.SourceBuiltin) {
		t.Fatalf("unexpected source header %q", src)
	}
}

func TestCORSEchoesOrigin(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	req := httptest.NewRequest(http.MethodGet, "/api/seating", nil)
	req.Header.Set("Origin", "https://abc.ext-twitch.tv")
	rec := serve(srv, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://abc.ext-twitch.tv" {
		t.Fatalf("expected echoed origin, got %q", got)
	}

	srv, _ = newTestServer(t, Options{AllowedOrigins: []string{"https://allowed.example"}})
	req = httptest.NewRequest(http.MethodGet, "/api/seating", nil)
	req.Header.Set("Origin", "https://other.example")
	if rec := serve(srv, req); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for disallowed origin, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/segments/global", nil)
	req.Header.Set("Origin", "https://allowed.example")
	rec = serve(srv, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected preflight 204, got %d", rec.Code)
	}
	if m := rec.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(m, "PUT") {
		t.Fatalf("preflight methods %q", m)
	}
}

func TestRateLimit(t *testing.T) {
	srv, _ := newTestServer(t, Options{RateLimitRPS: 1, RateLimitBurst: 1})
	if rec := serve(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil)); rec.Code != http.StatusOK {
		t.Fatalf("first request: %d", rec.Code)
	}
	if rec := serve(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil)); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	serve(srv, httptest.NewRequest(http.MethodPut, "/api/segments/global", strings.NewReader("{}")))
	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `overlay_segment_writes_total{kind="global",result="ok"} 1`) {
		t.Fatalf("segment write metric missing:\n%s", rec.Body.String())
	}
}

func TestWebSocketReceivesSegmentEvents(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/api/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	read := func() Event {
		t.Helper()
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return ev
	}

	if ev := read(); ev.Type != EventHello {
		t.Fatalf("expected hello, got %+v", ev)
	}
	if err := srv.SetSegment(ctx, core.Broadcaster, `{"x":1}`); err != nil {
		t.Fatalf("set: %v", err)
	}
	if ev := read(); ev.Type != EventSegment || ev.Kind != core.Broadcaster {
		t.Fatalf("unexpected event %+v", ev)
	}
}
