// Package bus defines the message shapes that flow between channel
// adapters and the gateway. There is no broker in between: channels call
// the gateway's handler directly on receipt, and the gateway calls a
// channel's Send directly to deliver a reply.
package bus

// InboundMessage represents a message received from a channel (Telegram, Discord, etc.)
type InboundMessage struct {
	Channel      string            `json:"channel"`
	SenderID     string            `json:"sender_id"`
	ChatID       string            `json:"chat_id"`
	Content      string            `json:"content"`
	Media        []string          `json:"media,omitempty"`
	PeerKind     string            `json:"peer_kind,omitempty"` // "direct" or "group"
	GuildID      string            `json:"guild_id,omitempty"`
	AgentID      string            `json:"agent_id,omitempty"` // explicit target agent, if the channel pins one
	UserID       string            `json:"user_id,omitempty"`
	From         string            `json:"from,omitempty"` // "" (normal), or "subagent-announce" for re-entry
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage represents a message to be sent to a channel.
type OutboundMessage struct {
	Channel  string            `json:"channel"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	Media    []MediaAttachment `json:"media,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// MediaAttachment represents a media file to be sent with a message.
type MediaAttachment struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
	Caption     string `json:"caption,omitempty"`
}

// MessageHandler handles an inbound message from a specific channel. Channels
// call this directly on receipt; there is no intermediate queue.
type MessageHandler func(InboundMessage)
