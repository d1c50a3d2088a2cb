package domain

import "context"

// ChannelStatus reports the runtime state of an output channel.
type ChannelStatus struct {
	ChannelID string `json:"channelId"`
	Running   bool   `json:"running"`
	LastError string `json:"lastError,omitempty"`
}

// Channel is an output sink for pipeline events. Channels are registered
// at startup from configuration and are independent failure domains: a
// Publish error on one channel must not affect delivery to others.
type Channel interface {
	// ID returns the channel identifier (e.g., "console", "push", "redis").
	ID() string

	// Start prepares the channel for publishing (connects, allocates).
	Start(ctx context.Context) error

	// Stop releases the channel's resources.
	Stop(ctx context.Context) error

	// Publish delivers one event through this channel. A channel with no
	// current subscribers still receives the call and handles its own
	// no-op or buffering behavior.
	Publish(ctx context.Context, evt Event) error
}
