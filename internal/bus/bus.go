// Package bus provides the in-process message bus connecting the chat
// channel layer to the gateway. Channels publish inbound messages, the
// gateway consumes them, and replies flow back through the outbound queue
// to the channel dispatcher.
package bus

import "context"

const queueSize = 256

// MessageBus routes inbound and outbound messages between the channel
// layer and the gateway consumer. Both queues are buffered so a slow
// consumer never blocks the websocket read loop.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
}

// New creates a message bus with buffered queues.
func New() *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, queueSize),
		outbound: make(chan OutboundMessage, queueSize),
	}
}

// PublishInbound enqueues a message received from a channel.
// Drops the message if the queue is full rather than blocking the reader.
func (b *MessageBus) PublishInbound(msg InboundMessage) bool {
	select {
	case b.inbound <- msg:
		return true
	default:
		return false
	}
}

// ConsumeInbound blocks until an inbound message is available or the
// context is cancelled. The second return value is false on cancellation.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-b.inbound:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// PublishOutbound enqueues a message for delivery to the chat platform.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) bool {
	select {
	case b.outbound <- msg:
		return true
	default:
		return false
	}
}

// ConsumeOutbound blocks until an outbound message is available or the
// context is cancelled.
func (b *MessageBus) ConsumeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg := <-b.outbound:
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}
