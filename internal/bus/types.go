package bus

// Room type flags as reported by the Rocket.Chat realtime stream.
const (
	RoomTypeLiveChat = "l" // omnichannel / live-support room
	RoomTypeChannel  = "c" // public channel
	RoomTypeDirect   = "d" // direct message
	RoomTypePrivate  = "p" // private group
)

// Sender identifies the author of an inbound message.
type Sender struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name"`
	Roles       []string `json:"roles,omitempty"`
}

// InboundMessage represents a message received from the chat platform.
type InboundMessage struct {
	Sender   Sender `json:"sender"`
	Text     string `json:"text"`
	RoomID   string `json:"room_id"`
	RoomType string `json:"room_type"`
}

// IsLiveChat reports whether the message was posted in a live-support room.
func (m InboundMessage) IsLiveChat() bool {
	return m.RoomType == RoomTypeLiveChat
}

// OutboundMessage represents a message to be sent back to the chat platform.
type OutboundMessage struct {
	RoomID string `json:"room_id"`
	Text   string `json:"text"`
}

// MessageHandler handles an inbound message from a channel.
type MessageHandler func(InboundMessage) error
