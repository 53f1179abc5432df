package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/you/grimoire-overlay/internal/channel"
	"github.com/you/grimoire-overlay/internal/core"
	"github.com/you/grimoire-overlay/internal/reconcile"
	"github.com/you/grimoire-overlay/internal/script"
)

// OverlaySource exposes the body a local viewer currently renders.
type OverlaySource interface {
	Current() (reconcile.Result, bool)
}

type Options struct {
	Addr           string
	AllowedOrigins []string // empty echoes any origin
	RateLimitRPS   int
	RateLimitBurst int
	EnableGzip     bool
	MaxBodyBytes   int64
	Build          BuildInfo
	Library        *script.Library
	Overlay        OverlaySource
}

const defaultMaxBody = 1 << 20

// Server is the HTTP fallback surface. It fronts a channel.Adapter and is
// itself an Adapter and Notifier, so segment writes made through it reach
// websocket subscribers and in-process listeners alike.
type Server struct {
	httpServer *http.Server
	opts       Options
	backend    channel.Adapter
	metrics    *Metrics
	limiter    *clientLimiter
	origins    *originGate
	mux        *http.ServeMux

	mu        sync.Mutex
	clients   map[chan Event]struct{}
	listeners map[int]func()
	nextID    int
	closed    bool

	blobMu        sync.RWMutex
	overlayConfig json.RawMessage
	seating       json.RawMessage
}

func New(backend channel.Adapter, opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBody
	}
	if opts.Library == nil {
		opts.Library = script.NewLibrary("")
	}
	srv := &Server{
		opts:      opts,
		backend:   backend,
		metrics:   newMetrics(),
		limiter:   newClientLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
		origins:   newOriginGate(opts.AllowedOrigins),
		clients:   make(map[chan Event]struct{}),
		listeners: make(map[int]func()),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", srv.handleHealthz)
	mux.HandleFunc("GET /info", srv.handleInfo)
	mux.Handle("GET /metrics", srv.metrics.Handler())

	mux.HandleFunc("GET /api/overlay-config", srv.handleGetBlob(&srv.overlayConfig))
	mux.HandleFunc("POST /api/overlay-config", srv.handlePostBlob(&srv.overlayConfig, EventOverlayConfig))
	mux.HandleFunc("GET /api/seating", srv.handleGetBlob(&srv.seating))
	mux.HandleFunc("POST /api/seating", srv.handlePostBlob(&srv.seating, EventSeating))

	mux.HandleFunc("GET /api/segments/{kind}", srv.handleGetSegment)
	mux.HandleFunc("PUT /api/segments/{kind}", srv.handlePutSegment)
	mux.HandleFunc("POST /api/broadcast", srv.handleBroadcast)
	mux.HandleFunc("GET /api/ws", srv.handleWS)

	mux.HandleFunc("GET /api/scripts", srv.handleScriptList)
	mux.HandleFunc("GET /Allscript/{file}", srv.handleScriptFile)
	mux.HandleFunc("GET /overlay/script", srv.handleOverlayScript)

	srv.mux = mux
	srv.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           srv.wrap(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv
}

// Mux lets other packages (httpadmin) register routes.
func (s *Server) Mux() *http.ServeMux { return s.mux }

// Handler is the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Metrics exposes the collectors so other components can share the registry.
func (s *Server) Metrics() *Metrics { return s.metrics }

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// SetSegment writes through to the backend and announces the change.
func (s *Server) SetSegment(ctx context.Context, kind core.ChannelKind, payload string) error {
	if err := s.backend.SetSegment(ctx, kind, payload); err != nil {
		s.metrics.IncSegmentWrite(string(kind), "error")
		return err
	}
	s.metrics.IncSegmentWrite(string(kind), "ok")
	s.publish(Event{Type: EventSegment, Kind: kind})
	return nil
}

func (s *Server) GetSegment(ctx context.Context, kind core.ChannelKind) (string, error) {
	return s.backend.GetSegment(ctx, kind)
}

// Broadcast forwards to the backend and always fans out locally.
func (s *Server) Broadcast(ctx context.Context, payload string) error {
	err := s.backend.Broadcast(ctx, payload)
	s.publish(Event{Type: EventBroadcast, Payload: payload})
	return err
}

func (s *Server) Notify(ctx context.Context, fn func()) error {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}()
	return nil
}

// publish fans ev out to websocket clients (dropping for slow ones) and
// calls in-process listeners for channel changes.
func (s *Server) publish(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	for ch := range s.clients {
		select {
		case ch <- ev:
		default:
			s.metrics.IncBroadcastDrops("ws")
		}
	}
	var fns []func()
	if ev.Type == EventSegment || ev.Type == EventBroadcast {
		fns = make([]func(), 0, len(s.listeners))
		for _, fn := range s.listeners {
			fns = append(fns, fn)
		}
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (s *Server) Start() error {
	log.Printf("httpapi: listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for ch := range s.clients {
		close(ch)
	}
	s.clients = map[chan Event]struct{}{}
	s.mu.Unlock()
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func noCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}
