package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

// statusWriter keeps the first status code written so the request metric
// can label it.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.code == 0 {
		w.code = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.code == 0 {
		w.code = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) status() int {
	if w.code == 0 {
		return http.StatusOK
	}
	return w.code
}

// Unwrap exposes the connection writer; websocket.Accept needs its
// http.Hijacker.
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func baseWriter(w http.ResponseWriter) http.ResponseWriter {
	if sw, ok := w.(*statusWriter); ok {
		return sw.Unwrap()
	}
	return w
}

// gzipBody diverts body bytes into a gzip stream. Headers and status still
// go straight to the wrapped writer.
type gzipBody struct {
	http.ResponseWriter
	zw *gzip.Writer
}

func (g gzipBody) Write(b []byte) (int, error) { return g.zw.Write(b) }

// compressible reports whether the response to r may be gzipped.
func compressible(r *http.Request, route string) bool {
	switch {
	case r.Method != http.MethodGet:
		return false
	case r.Header.Get("Upgrade") != "":
		return false
	case route == "/metrics": // promhttp negotiates its own encoding
		return false
	}
	return strings.Contains(r.Header.Get("Accept-Encoding"), "gzip")
}

// startGzip rewires sw so the handler's body is compressed. The returned
// func flushes the trailer and must run after the handler.
func startGzip(sw *statusWriter) func() {
	h := sw.Header()
	h.Set("Content-Encoding", "gzip")
	h.Add("Vary", "Accept-Encoding")
	zw := gzip.NewWriter(sw.ResponseWriter)
	sw.ResponseWriter = gzipBody{ResponseWriter: sw.ResponseWriter, zw: zw}
	return func() { _ = zw.Close() }
}

func (s *Server) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		began := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		route := routeLabel(r)
		defer func() { s.metrics.ObserveRequest(route, r.Method, sw.status(), time.Since(began)) }()

		if r.Method == http.MethodOptions {
			s.origins.preflight(sw, r)
			return
		}
		if !s.origins.admit(sw, r) {
			http.Error(sw, "origin not allowed", http.StatusForbidden)
			return
		}
		if !s.limiter.allow(clientIP(r)) {
			s.metrics.IncRateLimited()
			http.Error(sw, "rate limited", http.StatusTooManyRequests)
			return
		}
		if r.Body != nil {
			r.Body = http.MaxBytesReader(sw, r.Body, s.opts.MaxBodyBytes)
		}
		if s.opts.EnableGzip && compressible(r, route) {
			defer startGzip(sw)()
		}
		next.ServeHTTP(sw, r)
	})
}

// routeLabel maps a path onto a fixed set of metric labels.
func routeLabel(r *http.Request) string {
	p := r.URL.Path
	for prefix, label := range map[string]string{
		"/api/segments/": "/api/segments/{kind}",
		"/Allscript/":    "/Allscript/{file}",
		"/admin/":        "/admin",
	} {
		if strings.HasPrefix(p, prefix) {
			return label
		}
	}
	switch p {
	case "/healthz", "/info", "/metrics", "/api/overlay-config", "/api/seating",
		"/api/broadcast", "/api/ws", "/api/scripts", "/overlay/script":
		return p
	}
	return "other"
}
