// Package channels provides the channel abstraction layer for multi-platform
// messaging. Channels connect external platforms (Telegram, Discord, an
// interactive terminal socket) to the Gateway: inbound messages are handed
// directly to a registered handler, outbound replies are delivered via Send.
package channels

import (
	"context"
	"strings"

	"github.com/san-tian/miniclaw/internal/bus"
)

// InternalChannels are system channels excluded from outbound dispatch.
var InternalChannels = map[string]bool{
	"cron":     true,
	"system":   true,
	"subagent": true,
}

// IsInternalChannel checks if a channel name is internal.
func IsInternalChannel(name string) bool {
	return InternalChannels[name]
}

// Channel defines the interface that all channel implementations must satisfy.
type Channel interface {
	// Name returns the channel identifier (e.g., "telegram", "discord", "terminal").
	Name() string

	// Start begins listening for messages. Should be non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop(ctx context.Context) error

	// Send delivers an outbound message to the channel.
	Send(ctx context.Context, msg bus.OutboundMessage) error

	// IsRunning returns whether the channel is actively processing messages.
	IsRunning() bool

	// IsAllowed checks if a sender is permitted by the channel's allowlist.
	IsAllowed(senderID string) bool

	// OnMessage registers the handler the Gateway uses to receive inbound
	// messages. Channels call it directly and synchronously on receipt.
	OnMessage(handler bus.MessageHandler)
}

// TypingChannel extends Channel with a "user is typing" indicator.
type TypingChannel interface {
	Channel
	SendTyping(ctx context.Context, chatID string) error
}

// StreamingChannel extends Channel with real-time streaming preview support
// used by interactive sockets (chunk-by-chunk text, tool-call/result events).
type StreamingChannel interface {
	Channel
	SendChunk(ctx context.Context, chatID string, text string) error
	SendToolCall(ctx context.Context, chatID string, name string) error
	SendToolResult(ctx context.Context, chatID string, name string, summary string) error
}

// BaseChannel provides shared functionality for all channel implementations.
// Channel implementations should embed this struct.
type BaseChannel struct {
	name      string
	handler   bus.MessageHandler
	running   bool
	allowList []string
	agentID   string
}

// NewBaseChannel creates a new BaseChannel with the given parameters.
func NewBaseChannel(name string, allowList []string) *BaseChannel {
	return &BaseChannel{
		name:      name,
		allowList: allowList,
	}
}

// Name returns the channel name.
func (c *BaseChannel) Name() string { return c.name }

// SetName overrides the channel name.
func (c *BaseChannel) SetName(name string) { c.name = name }

// AgentID returns the explicit agent ID pinned to this channel (empty = let
// the Router decide).
func (c *BaseChannel) AgentID() string { return c.agentID }

// SetAgentID pins an explicit agent ID for this channel's inbound traffic.
func (c *BaseChannel) SetAgentID(id string) { c.agentID = id }

// IsRunning returns whether the channel is running.
func (c *BaseChannel) IsRunning() bool { return c.running }

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) { c.running = running }

// OnMessage registers the Gateway's inbound handler.
func (c *BaseChannel) OnMessage(handler bus.MessageHandler) { c.handler = handler }

// HasAllowList returns true if an allowlist is configured (non-empty).
func (c *BaseChannel) HasAllowList() bool { return len(c.allowList) > 0 }

// IsAllowed checks if a sender is permitted by the allowlist.
// Supports compound senderID format: "123456|username".
// Empty allowlist means all senders are allowed.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}

	idPart := senderID
	userPart := ""
	if idx := strings.Index(senderID, "|"); idx > 0 {
		idPart = senderID[:idx]
		userPart = senderID[idx+1:]
	}

	for _, allowed := range c.allowList {
		trimmed := strings.TrimPrefix(allowed, "@")
		allowedID := trimmed
		allowedUser := ""
		if idx := strings.Index(trimmed, "|"); idx > 0 {
			allowedID = trimmed[:idx]
			allowedUser = trimmed[idx+1:]
		}

		if senderID == allowed ||
			idPart == allowed ||
			senderID == trimmed ||
			idPart == trimmed ||
			idPart == allowedID ||
			(allowedUser != "" && senderID == allowedUser) ||
			(userPart != "" && (userPart == allowed || userPart == trimmed || userPart == allowedUser)) {
			return true
		}
	}

	return false
}

// CheckPolicy evaluates DM/Group policy for a message.
// Returns true if the message should be accepted, false if rejected.
// peerKind is "direct" or "group".
func (c *BaseChannel) CheckPolicy(peerKind, dmPolicy, groupPolicy, senderID string) bool {
	policy := dmPolicy
	if peerKind == "group" {
		policy = groupPolicy
	}
	if policy == "" {
		policy = "open"
	}

	switch policy {
	case "disabled":
		return false
	case "allowlist":
		return c.IsAllowed(senderID)
	default: // "open"
		return true
	}
}

// Deliver hands an inbound message to the registered handler, first checking
// the allowlist. Channels should call this rather than invoking the handler
// field directly.
func (c *BaseChannel) Deliver(msg bus.InboundMessage) {
	if !c.IsAllowed(msg.SenderID) {
		return
	}
	if msg.AgentID == "" {
		msg.AgentID = c.agentID
	}
	if c.handler != nil {
		c.handler(msg)
	}
}

// Truncate shortens a string to maxLen, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
