package httpapi

import (
	"net/http"
	"runtime"
	"time"

	"github.com/you/grimoire-overlay/internal/reconcile"
)

// BuildInfo describes the compiled binary.
type BuildInfo struct {
	Version  string
	Revision string
	BuiltAt  time.Time
}

type info struct {
	Version   string           `json:"version"`
	Revision  string           `json:"rev"`
	BuiltAt   string           `json:"built_at,omitempty"`
	Go        string           `json:"go"`
	WSClients int              `json:"ws_clients"`
	Overlay   reconcile.Source `json:"overlay_source,omitempty"`
	Signature string           `json:"overlay_signature,omitempty"`
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	b := s.opts.Build
	out := info{Version: b.Version, Revision: b.Revision, Go: runtime.Version()}
	if !b.BuiltAt.IsZero() {
		out.BuiltAt = b.BuiltAt.UTC().Format(time.RFC3339)
	}

	s.mu.Lock()
	out.WSClients = len(s.clients)
	s.mu.Unlock()

	if s.opts.Overlay != nil {
		if cur, ok := s.opts.Overlay.Current(); ok {
			out.Overlay = cur.Source
			out.Signature = string(cur.Record.Signature())
		}
	}
	writeJSON(w, http.StatusOK, out)
}
