package httpadmin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/you/grimoire-overlay/internal/channel"
	"github.com/you/grimoire-overlay/internal/core"
	"github.com/you/grimoire-overlay/internal/publisher"
	"github.com/you/grimoire-overlay/internal/reconcile"
	"github.com/you/grimoire-overlay/internal/record"
	"github.com/you/grimoire-overlay/internal/script"
)

const maxScriptBody = 4 << 20

// Saver is the admin write path.
type Saver interface {
	Save(ctx context.Context, sel core.Selection, raw []byte) (publisher.Outcome, error)
	Current(ctx context.Context) (core.ConfigRecord, error)
}

// Resolver recovers the body a stored record points at. Peek must not
// write to any cache the viewer shares.
type Resolver interface {
	Peek(ctx context.Context, rec core.ConfigRecord) reconcile.Result
}

type Server struct {
	saver    Saver
	resolver Resolver
}

func New(saver Saver, resolver Resolver) *Server {
	return &Server{saver: saver, resolver: resolver}
}

// saveRequest mirrors the fields the admin panel edits. customJson may be
// the script itself or a JSON string holding it.
type saveRequest struct {
	SelectedScript string          `json:"selectedScript"`
	CustomName     string          `json:"customName,omitempty"`
	CustomJSON     json.RawMessage `json:"customJson,omitempty"`
}

type currentResponse struct {
	Record   core.ConfigRecord `json:"record"`
	Encoding core.Encoding     `json:"encoding"`
	Source   reconcile.Source  `json:"source,omitempty"`
	Body     json.RawMessage   `json:"body,omitempty"`
	Error    string            `json:"error,omitempty"`
}

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/admin/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/admin/script", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			s.handleCurrent(w, r)
		case http.MethodPost:
			s.handleSave(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxScriptBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error(), nil)
		return
	}
	sel := selectionFor(req)
	raw := []byte(req.CustomJSON)
	if len(raw) > 0 && raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			writeError(w, http.StatusBadRequest, "invalid customJson string", nil)
			return
		}
		raw = []byte(text)
	}

	out, err := s.saver.Save(r.Context(), sel, raw)
	if err != nil {
		status, extra := statusFor(err)
		writeError(w, status, err.Error(), extra)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	rec, err := s.saver.Current(r.Context())
	if err != nil {
		status, _ := statusFor(err)
		writeError(w, status, err.Error(), nil)
		return
	}
	resp := currentResponse{Record: rec, Encoding: rec.Encoding()}
	if s.resolver != nil && rec.SelectedScript != "" {
		res := s.resolver.Peek(r.Context(), rec)
		resp.Source = res.Source
		if json.Valid([]byte(res.Body.Text)) {
			resp.Body = json.RawMessage(res.Body.Text)
		}
		if res.Err != nil {
			resp.Error = res.Err.Error()
		}
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, resp)
}

func selectionFor(req saveRequest) core.Selection {
	switch req.SelectedScript {
	case "":
		return core.None()
	case core.CustomSentinel:
		if req.CustomName != "" {
			return core.CustomSaved(req.CustomName)
		}
		return core.CustomNew()
	}
	return core.Builtin(req.SelectedScript)
}

func statusFor(err error) (int, map[string]any) {
	var (
		invalid  *script.ValidationError
		tooLarge *record.PayloadTooLargeError
		segment  *channel.SegmentWriteError
	)
	switch {
	case errors.As(err, &invalid):
		return http.StatusBadRequest, map[string]any{"index": invalid.Index, "reason": invalid.Reason}
	case errors.Is(err, script.ErrInvalidName), errors.Is(err, record.ErrNoSelection):
		return http.StatusBadRequest, nil
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, map[string]any{
			"originalLength":   tooLarge.OriginalLength,
			"compressedLength": tooLarge.CompressedLength,
			"capacity":         tooLarge.Capacity,
		}
	case errors.Is(err, publisher.ErrSaveInFlight):
		return http.StatusConflict, nil
	case errors.As(err, &segment):
		return http.StatusInsufficientStorage, map[string]any{"kind": segment.Kind, "size": segment.Size, "capacity": segment.Capacity}
	case errors.Is(err, channel.ErrUnavailable):
		return http.StatusServiceUnavailable, nil
	}
	return http.StatusInternalServerError, nil
}

func writeError(w http.ResponseWriter, status int, msg string, extra map[string]any) {
	payload := map[string]any{"error": msg}
	for k, v := range extra {
		payload[k] = v
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
