package messaging

import (
	"context"
)

// Broker publishes core lifecycle events (message terminal transitions,
// broadcast completions) for the application layer to consume.
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

// Channel names published by the core.
const (
	ChannelMessageEvents   = "messaging.message_events"
	ChannelBroadcastEvents = "messaging.broadcast_events"
	ChannelSessionEvents   = "messaging.session_events"
)

// Event is the envelope published on every channel.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}
