// Package helix stores the config segments in the Twitch Extension
// Configuration Service and broadcasts over extension PubSub.
package helix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/you/grimoire-overlay/internal/channel"
	"github.com/you/grimoire-overlay/internal/core"
)

// SegmentCapacity is the Configuration Service limit per segment.
const SegmentCapacity = 5120

var (
	helixBaseURL       = "https://api.twitch.tv/helix"
	configurationsPath = "/extensions/configurations"
	pubsubPath         = "/extensions/pubsub"
)

var ErrMissingCredentials = errors.New("helix: extension id, secret and owner id are required")

// Client is a channel.Adapter bound to one extension and one channel.
type Client struct {
	ExtensionID   string
	OwnerID       string
	BroadcasterID string
	// ConfigVersion is sent with every segment write when set.
	ConfigVersion string
	Capacity      int
	HTTP          *http.Client
	Secret        SecretSource

	once sync.Once
}

type configurationResponse struct {
	Data []configurationSegment `json:"data"`
}

type configurationSegment struct {
	Segment       string `json:"segment"`
	BroadcasterID string `json:"broadcaster_id,omitempty"`
	Content       string `json:"content"`
	Version       string `json:"version,omitempty"`
}

type setConfigurationRequest struct {
	ExtensionID   string `json:"extension_id"`
	Segment       string `json:"segment"`
	BroadcasterID string `json:"broadcaster_id,omitempty"`
	Version       string `json:"version,omitempty"`
	Content       string `json:"content"`
}

type pubsubRequest struct {
	Target            []string `json:"target"`
	BroadcasterID     string   `json:"broadcaster_id"`
	IsGlobalBroadcast bool     `json:"is_global_broadcast"`
	Message           string   `json:"message"`
}

func New(extensionID, ownerID, broadcasterID string, secret SecretSource) *Client {
	return &Client{
		ExtensionID:   strings.TrimSpace(extensionID),
		OwnerID:       strings.TrimSpace(ownerID),
		BroadcasterID: strings.TrimSpace(broadcasterID),
		Secret:        secret,
	}
}

func (c *Client) SetSegment(ctx context.Context, kind core.ChannelKind, payload string) error {
	if capacity := c.capacity(); len(payload) > capacity {
		return &channel.SegmentWriteError{Kind: kind, Size: len(payload), Capacity: capacity}
	}
	body := setConfigurationRequest{
		ExtensionID: c.ExtensionID,
		Segment:     string(kind),
		Version:     c.ConfigVersion,
		Content:     payload,
	}
	if kind == core.Broadcaster {
		body.BroadcasterID = c.BroadcasterID
	}
	resp, err := c.send(ctx, http.MethodPut, configurationsPath, nil, body, c.externalClaims)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return statusError("set configuration", resp)
	}
	return nil
}

func (c *Client) GetSegment(ctx context.Context, kind core.ChannelKind) (string, error) {
	q := url.Values{}
	q.Set("extension_id", c.ExtensionID)
	q.Set("segment", string(kind))
	if kind == core.Broadcaster {
		q.Set("broadcaster_id", c.BroadcasterID)
	}
	resp, err := c.send(ctx, http.MethodGet, configurationsPath, q, nil, c.externalClaims)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", statusError("get configuration", resp)
	}

	var payload configurationResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("%w: decode configuration: %v", channel.ErrUnavailable, err)
	}
	for _, seg := range payload.Data {
		if seg.Segment == string(kind) {
			return seg.Content, nil
		}
	}
	return "", nil
}

// Broadcast sends payload to every viewer of the channel over extension
// PubSub.
func (c *Client) Broadcast(ctx context.Context, payload string) error {
	body := pubsubRequest{
		Target:        []string{"broadcast"},
		BroadcasterID: c.BroadcasterID,
		Message:       payload,
	}
	resp, err := c.send(ctx, http.MethodPost, pubsubPath, nil, body, c.pubsubClaims)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return statusError("pubsub send", resp)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, q url.Values, body any, claims func(time.Time) Claims) (*http.Response, error) {
	if c.ExtensionID == "" || c.OwnerID == "" || c.Secret == nil {
		return nil, ErrMissingCredentials
	}
	secret, err := c.Secret.Secret()
	if err != nil {
		return nil, fmt.Errorf("helix: load secret: %w", err)
	}
	token, err := Sign(secret, claims(time.Now()))
	if err != nil {
		return nil, err
	}

	endpoint := helixBaseURL + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Client-Id", c.ExtensionID)
	req.Header.Set("Authorization", "Bearer "+token)
	if rdr != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.once.Do(func() {
		log.Printf("helix: using extension=%s broadcaster=%s", c.ExtensionID, c.BroadcasterID)
	})
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", channel.ErrUnavailable, err)
	}
	return resp, nil
}

func (c *Client) externalClaims(now time.Time) Claims {
	return newClaims(now, c.OwnerID, "")
}

func (c *Client) pubsubClaims(now time.Time) Claims {
	claims := newClaims(now, c.OwnerID, c.BroadcasterID)
	claims.PubSubPerms = &PubSubPerms{Send: []string{"broadcast"}}
	return claims
}

func (c *Client) capacity() int {
	if c.Capacity > 0 {
		return c.Capacity
	}
	return SegmentCapacity
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func statusError(op string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("helix: %s: status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(snippet)))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %v", channel.ErrUnavailable, err)
	}
	return err
}
