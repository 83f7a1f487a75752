package websocket

import "time"

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Channel state changed through a write operation
	MessageTypeChannelState MessageType = "channel_state"

	// Link to the hub came up or went down
	MessageTypeLinkState MessageType = "link_state"

	// Periodic full snapshot of all channels
	MessageTypeSnapshot MessageType = "snapshot"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// ChannelStateData reports a write that changed channel state.
// Kind is "power" or "dataline".
type ChannelStateData struct {
	Kind     string `json:"kind"`
	Channels []int  `json:"channels"`
	State    bool   `json:"state"`
}

// LinkStateData reports a link transition.
type LinkStateData struct {
	State  string      `json:"state"`
	Device interface{} `json:"device,omitempty"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func NewChannelStateMessage(kind string, channels []int, state bool) Message {
	return NewMessage(MessageTypeChannelState, ChannelStateData{
		Kind:     kind,
		Channels: channels,
		State:    state,
	})
}

func NewLinkStateMessage(state string, device interface{}) Message {
	return NewMessage(MessageTypeLinkState, LinkStateData{
		State:  state,
		Device: device,
	})
}

func NewSnapshotMessage(channels interface{}) Message {
	return NewMessage(MessageTypeSnapshot, channels)
}
