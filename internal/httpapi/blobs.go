package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

var emptyBlob = json.RawMessage(`{}`)

// handleGetBlob serves an opaque JSON document kept in memory. Unset
// documents read as {}.
func (s *Server) handleGetBlob(slot *json.RawMessage) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		s.blobMu.RLock()
		data := *slot
		s.blobMu.RUnlock()
		if len(data) == 0 {
			data = emptyBlob
		}
		noCache(w)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write(data)
	}
}

// handlePostBlob replaces the document in slot and tells websocket
// subscribers under eventType.
func (s *Server) handlePostBlob(slot *json.RawMessage, eventType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		noCache(w)
		data, err := io.ReadAll(r.Body)
		if err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "body too large"})
				return
			}
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body"})
			return
		}
		if !json.Valid(data) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
			return
		}
		s.blobMu.Lock()
		*slot = json.RawMessage(data)
		s.blobMu.Unlock()

		s.publish(Event{Type: eventType, Payload: string(data)})
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
