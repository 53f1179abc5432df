package httpapi

import "github.com/you/grimoire-overlay/internal/core"

// Event is pushed to /api/ws subscribers.
type Event struct {
	Type    string           `json:"type"`
	Kind    core.ChannelKind `json:"kind,omitempty"`
	Payload string           `json:"payload,omitempty"`
}

const (
	EventSegment       = "segment"
	EventBroadcast     = "broadcast"
	EventOverlayConfig = "overlay-config"
	EventSeating       = "seating"
	EventHello         = "hello"
)
