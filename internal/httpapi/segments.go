package httpapi

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/you/grimoire-overlay/internal/channel"
	"github.com/you/grimoire-overlay/internal/core"
)

func (s *Server) handleGetSegment(w http.ResponseWriter, r *http.Request) {
	kind, err := core.ParseChannelKind(r.PathValue("kind"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	payload, err := s.GetSegment(r.Context(), kind)
	if err != nil {
		slog.Warn("httpapi: read segment", "kind", kind, "err", err)
		http.Error(w, "segment unavailable", http.StatusServiceUnavailable)
		return
	}
	noCache(w)
	if payload == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_, _ = io.WriteString(w, payload)
}

func (s *Server) handlePutSegment(w http.ResponseWriter, r *http.Request) {
	kind, err := core.ParseChannelKind(r.PathValue("kind"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	data, ok := readBody(w, r)
	if !ok {
		return
	}
	if err := s.SetSegment(r.Context(), kind, string(data)); err != nil {
		var sw *channel.SegmentWriteError
		if errors.As(err, &sw) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{
				"error":    sw.Error(),
				"size":     sw.Size,
				"capacity": sw.Capacity,
			})
			return
		}
		slog.Warn("httpapi: write segment", "kind", kind, "err", err)
		http.Error(w, "segment unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	data, ok := readBody(w, r)
	if !ok {
		return
	}
	if err := s.Broadcast(r.Context(), string(data)); err != nil {
		slog.Warn("httpapi: broadcast", "err", err)
		http.Error(w, "broadcast failed", http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	data, err := io.ReadAll(r.Body)
	if err == nil {
		return data, true
	}
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
	} else {
		http.Error(w, "read body", http.StatusBadRequest)
	}
	return nil, false
}
