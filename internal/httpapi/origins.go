package httpapi

import (
	"net/http"
	"net/url"
	"strings"
)

// originGate decides which browser origins may call the API. With no
// configured origins (or "*") any http(s) origin is echoed back, since the
// extension iframe origin changes per install.
type originGate struct {
	any     bool
	allowed map[string]bool
}

func newOriginGate(origins []string) *originGate {
	g := &originGate{allowed: map[string]bool{}}
	for _, o := range origins {
		switch o = strings.TrimSpace(o); o {
		case "":
		case "*":
			g.any = true
		default:
			g.allowed[o] = true
		}
	}
	if len(g.allowed) == 0 {
		g.any = true
	}
	return g
}

func (g *originGate) permits(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	return g.any || g.allowed[origin]
}

// hosts lists the configured origins as websocket.AcceptOptions patterns.
func (g *originGate) hosts() []string {
	var out []string
	for o := range g.allowed {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
		}
	}
	return out
}

// admit sets the allow-origin headers for r and reports false when the
// request carries an origin that is not permitted.
func (g *originGate) admit(w http.ResponseWriter, r *http.Request) bool {
	origin := r.Header.Get("Origin")
	h := w.Header()
	if origin == "" {
		if g.any {
			h.Set("Access-Control-Allow-Origin", "*")
		}
		return true
	}
	if !g.permits(origin) {
		return false
	}
	h.Set("Access-Control-Allow-Origin", origin)
	h.Add("Vary", "Origin")
	return true
}

func (g *originGate) preflight(w http.ResponseWriter, r *http.Request) {
	if !g.admit(w, r) {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	allowHeaders := r.Header.Get("Access-Control-Request-Headers")
	if allowHeaders == "" {
		allowHeaders = "Content-Type"
	}
	h := w.Header()
	h.Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
	h.Set("Access-Control-Allow-Headers", allowHeaders)
	h.Set("Access-Control-Max-Age", "300")
	w.WriteHeader(http.StatusNoContent)
}
