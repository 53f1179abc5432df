package httpapi

import (
	"errors"
	"net/http"

	"github.com/you/grimoire-overlay/internal/script"
)

const scriptIndexFile = "scripts.json"

func (s *Server) handleScriptList(w http.ResponseWriter, _ *http.Request) {
	names, err := s.opts.Library.List()
	if err != nil {
		http.Error(w, "list scripts", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

// handleScriptFile serves builtin script bodies the way the overlay used
// to fetch them from a static folder. scripts.json is the index.
func (s *Server) handleScriptFile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("file")
	if name == scriptIndexFile {
		s.handleScriptList(w, r)
		return
	}
	raw, err := s.opts.Library.Raw(name)
	switch {
	case errors.Is(err, script.ErrNotFound), errors.Is(err, script.ErrInvalidName):
		http.NotFound(w, r)
		return
	case err != nil:
		http.Error(w, "read script", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_, _ = w.Write(raw)
}

// handleOverlayScript returns the body the local viewer currently renders.
func (s *Server) handleOverlayScript(w http.ResponseWriter, _ *http.Request) {
	noCache(w)
	if s.opts.Overlay == nil {
		http.Error(w, "no viewer", http.StatusServiceUnavailable)
		return
	}
	res, ok := s.opts.Overlay.Current()
	if !ok {
		http.Error(w, "nothing applied yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Overlay-Source", string(res.Source))
	if sig := res.Record.Signature(); sig != "" {
		w.Header().Set("X-Overlay-Signature", string(sig))
	}
	_, _ = w.Write([]byte(res.Body.Text))
}
