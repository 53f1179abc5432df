// Package httpchannel is a channel.Adapter that talks to a running
// overlayd over its HTTP fallback surface.
package httpchannel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"github.com/you/grimoire-overlay/internal/channel"
	"github.com/you/grimoire-overlay/internal/core"
)

const (
	defaultTimeout = 10 * time.Second
	maxSegmentRead = 1 << 20
)

// ReconnectDelay is how long Notify waits before redialing the websocket.
var ReconnectDelay = 2 * time.Second

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

func (c *Client) SetSegment(ctx context.Context, kind core.ChannelKind, payload string) error {
	resp, err := c.do(ctx, http.MethodPut, "/api/segments/"+string(kind), payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK:
		return nil
	case http.StatusRequestEntityTooLarge:
		sw := &channel.SegmentWriteError{Kind: kind, Size: len(payload)}
		var body struct {
			Capacity int `json:"capacity"`
		}
		if json.NewDecoder(resp.Body).Decode(&body) == nil {
			sw.Capacity = body.Capacity
		}
		return sw
	}
	return statusError("put segment", resp)
}

func (c *Client) GetSegment(ctx context.Context, kind core.ChannelKind) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/segments/"+string(kind), "")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return "", nil
	case http.StatusOK:
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxSegmentRead))
		if err != nil {
			return "", fmt.Errorf("%w: read segment: %v", channel.ErrUnavailable, err)
		}
		return string(data), nil
	}
	return "", statusError("get segment", resp)
}

func (c *Client) Broadcast(ctx context.Context, payload string) error {
	resp, err := c.do(ctx, http.MethodPost, "/api/broadcast", payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return statusError("broadcast", resp)
	}
	return nil
}

// Notify subscribes to the server's websocket and calls fn for every
// segment or broadcast event. The connection is redialed until ctx is done.
func (c *Client) Notify(ctx context.Context, fn func()) error {
	go c.subscribe(ctx, fn)
	return nil
}

func (c *Client) subscribe(ctx context.Context, fn func()) {
	first := true
	for {
		err := c.readEvents(ctx, fn, !first)
		if ctx.Err() != nil {
			return
		}
		first = false
		c.logger().Debug("httpchannel: websocket closed, redialing", "err", err, "delay", ReconnectDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(ReconnectDelay):
		}
	}
}

// readEvents holds one websocket session. After a reconnect the hello
// frame also triggers fn since changes may have been missed.
func (c *Client) readEvents(ctx context.Context, fn func(), catchUp bool) error {
	opts := &websocket.DialOptions{}
	if c.HTTPClient != nil {
		// websocket.Dial refuses clients with a Timeout; ctx bounds the dial
		hc := *c.HTTPClient
		hc.Timeout = 0
		opts.HTTPClient = &hc
	}
	conn, _, err := websocket.Dial(ctx, c.wsURL(), opts)
	if err != nil {
		return err
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxSegmentRead)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var ev struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "segment", "broadcast":
			fn()
		case "hello":
			if catchUp {
				fn()
			}
		}
	}
}

func (c *Client) wsURL() string {
	u := c.BaseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/api/ws"
}

func (c *Client) do(ctx context.Context, method, path, body string) (*http.Response, error) {
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rdr)
	if err != nil {
		return nil, err
	}
	if rdr != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", channel.ErrUnavailable, err)
	}
	return resp, nil
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func statusError(op string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	err := fmt.Errorf("httpchannel: %s: status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(snippet)))
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %v", channel.ErrUnavailable, err)
	}
	return err
}
