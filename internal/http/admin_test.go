package httpadmin

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/you/grimoire-overlay/internal/cache"
	"github.com/you/grimoire-overlay/internal/channel"
	"github.com/you/grimoire-overlay/internal/codec"
	"github.com/you/grimoire-overlay/internal/core"
	"github.com/you/grimoire-overlay/internal/publisher"
	"github.com/you/grimoire-overlay/internal/reconcile"
	"github.com/you/grimoire-overlay/internal/record"
)

type fixture struct {
	mux *http.ServeMux
	mem *channel.Memory
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	mem := channel.NewMemory(record.DefaultCapacity)
	pub := publisher.New(mem, record.NewBuilder(codec.Default()))
	rec := &reconcile.Reconciler{Channel: mem, Codec: codec.Default()}

	mux := http.NewServeMux()
	New(pub, rec).Register(mux)
	return fixture{mux: mux, mem: mem}
}

func (f fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/admin/healthz", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("unexpected healthz %d %q", rec.Code, rec.Body.String())
	}
}

func TestSaveBuiltinThenReadBack(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/admin/script", `{"selectedScript":"trouble_brewing.json"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Fatalf("expected content-type application/json; charset=utf-8, got %q", ct)
	}
	var out publisher.Outcome
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if out.Record.SelectedScript != "trouble_brewing.json" || out.Encoding != core.EncodingNone || !out.Broadcasted {
		t.Fatalf("unexpected outcome: %+v", out)
	}

	rec = f.do(http.MethodGet, "/admin/script", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var cur currentResponse
	if err := json.NewDecoder(rec.Body).Decode(&cur); err != nil {
		t.Fatalf("decode current: %v", err)
	}
	if cur.Source != reconcile.SourceBuiltin || len(cur.Body) == 0 {
		t.Fatalf("unexpected current response: %+v", cur)
	}
}

func TestReadBackDoesNotTouchViewerCache(t *testing.T) {
	store, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	defer store.Close()
	mem := channel.NewMemory(record.DefaultCapacity)
	pub := publisher.New(mem, record.NewBuilder(codec.Default()))
	viewer := &reconcile.Reconciler{Channel: mem, Codec: codec.Default(), Cache: store}
	mux := http.NewServeMux()
	New(pub, viewer).Register(mux)
	f := fixture{mux: mux, mem: mem}

	if rec := f.do(http.MethodPost, "/admin/script", `{"selectedScript":"__custom__","customJson":[{"id":"imp"}]}`); rec.Code != http.StatusOK {
		t.Fatalf("save: %d %s", rec.Code, rec.Body.String())
	}
	if rec := f.do(http.MethodGet, "/admin/script", ""); rec.Code != http.StatusOK {
		t.Fatalf("read back: %d", rec.Code)
	}
	if _, ok, err := store.LoadRecord(context.Background()); err != nil || ok {
		t.Fatalf("read back cached a record: ok=%v err=%v", ok, err)
	}
	if _, ok, err := store.LastBody(context.Background()); err != nil || ok {
		t.Fatalf("read back cached a body: ok=%v err=%v", ok, err)
	}
}

func TestSaveCustomAsString(t *testing.T) {
	f := newFixture(t)
	body := `{"selectedScript":"__custom__","customName":"Mine","customJson":"[{\"id\":\"washerwoman\"}]"}`
	rec := f.do(http.MethodPost, "/admin/script", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	stored, _ := f.mem.GetSegment(context.Background(), core.Broadcaster)
	parsed, err := record.Parse(stored)
	if err != nil {
		t.Fatalf("parse stored: %v", err)
	}
	if parsed.CustomName != "Mine" || parsed.CustomJSON != `[{"id":"washerwoman"}]` {
		t.Fatalf("unexpected stored record: %+v", parsed)
	}
}

func TestSaveErrors(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	huge := make([]string, 0, 3000)
	for i := 0; i < 3000; i++ {
		id := make([]byte, 12)
		for j := range id {
			id[j] = byte('a' + rng.Intn(26))
		}
		huge = append(huge, `{"id":"`+string(id)+`"}`)
	}

	cases := []struct {
		name   string
		body   string
		status int
		field  string
	}{
		{"bad json", `{`, http.StatusBadRequest, ""},
		{"no selection", `{"selectedScript":""}`, http.StatusBadRequest, ""},
		{"bad builtin name", `{"selectedScript":"../etc/passwd"}`, http.StatusBadRequest, ""},
		{"object body", `{"selectedScript":"__custom__","customJson":{}}`, http.StatusBadRequest, ""},
		{"missing id", `{"selectedScript":"__custom__","customJson":[{"id":"a"},{"name":"b"}]}`, http.StatusBadRequest, "index"},
		{"too large", `{"selectedScript":"__custom__","customJson":[` + strings.Join(huge, ",") + `]}`, http.StatusRequestEntityTooLarge, "capacity"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.do(http.MethodPost, "/admin/script", tc.body)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
			var payload map[string]any
			if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if _, ok := payload["error"]; !ok {
				t.Fatalf("missing error field: %v", payload)
			}
			if tc.field != "" {
				if _, ok := payload[tc.field]; !ok {
					t.Fatalf("missing %q field: %v", tc.field, payload)
				}
			}
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodDelete, "/admin/script", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestStatusForMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{publisher.ErrSaveInFlight, http.StatusConflict},
		{&channel.SegmentWriteError{Kind: core.Global, Size: 6000, Capacity: 5120}, http.StatusInsufficientStorage},
		{channel.ErrUnavailable, http.StatusServiceUnavailable},
		{context.Canceled, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got, _ := statusFor(tc.err); got != tc.status {
			t.Fatalf("statusFor(%v) = %d, want %d", tc.err, got, tc.status)
		}
	}
}
