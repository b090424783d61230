// Package channels provides the chat-platform abstraction layer. A
// channel connects one external platform to the gateway via the message
// bus; the manager owns channel lifecycle and outbound dispatch.
package channels

import (
	"context"

	"github.com/linder3hs/livegate/internal/bus"
)

// Channel defines the interface that all channel implementations must satisfy.
type Channel interface {
	// Name returns the channel identifier (e.g. "rocketchat").
	Name() string

	// Start begins listening for messages. Non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop(ctx context.Context) error

	// Send delivers an outbound message to the platform.
	Send(ctx context.Context, msg bus.OutboundMessage) error

	// IsRunning returns whether the channel is actively processing messages.
	IsRunning() bool
}
