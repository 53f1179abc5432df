package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"nhooyr.io/websocket"
)

const (
	wsPingInterval = 20 * time.Second
	wsWriteTimeout = 5 * time.Second
)

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if s.origins.any {
		opts.InsecureSkipVerify = true
	} else {
		opts.OriginPatterns = s.origins.hosts()
	}
	conn, err := websocket.Accept(baseWriter(w), r, opts)
	if err != nil {
		slog.Debug("httpapi: ws accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	clientCh := make(chan Event, 64)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	s.clients[clientCh] = struct{}{}
	s.mu.Unlock()
	s.metrics.IncWSClients(1)

	defer func() {
		s.mu.Lock()
		delete(s.clients, clientCh)
		s.mu.Unlock()
		s.metrics.IncWSClients(-1)
	}()

	// subscribers only listen; CloseRead handles pings and close frames
	ctx := conn.CloseRead(r.Context())
	if err := writeEvent(ctx, conn, Event{Type: EventHello}); err != nil {
		return
	}

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		case ev, ok := <-clientCh:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				return
			}
			s.metrics.IncEventsSent("ws")
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}
