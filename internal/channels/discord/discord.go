package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/san-tian/miniclaw/internal/bus"
	"github.com/san-tian/miniclaw/internal/channels"
	"github.com/san-tian/miniclaw/internal/config"
)

// discordMessageLimit is Discord's hard cap on a single message body.
const discordMessageLimit = 2000

// Channel connects to Discord via the Bot API using gateway events.
type Channel struct {
	*channels.BaseChannel
	session        *discordgo.Session
	config         config.DiscordConfig
	botUserID      string
	requireMention bool
	placeholders   sync.Map // inbound message id -> placeholder message id
}

// New creates a new Discord channel from config.
func New(cfg config.DiscordConfig) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	base := channels.NewBaseChannel("discord", cfg.AllowFrom)

	requireMention := true
	if cfg.RequireMention != nil {
		requireMention = *cfg.RequireMention
	}

	return &Channel{
		BaseChannel:    base,
		session:        session,
		config:         cfg,
		requireMention: requireMention,
	}, nil
}

// Start opens the Discord gateway connection and begins receiving events.
func (c *Channel) Start(_ context.Context) error {
	slog.Info("starting discord bot")

	c.session.AddHandler(c.handleMessage)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	user, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	c.botUserID = user.ID

	c.SetRunning(true)
	slog.Info("discord bot connected", "username", user.Username, "id", user.ID)
	return nil
}

// Stop closes the Discord gateway connection.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping discord bot")
	c.SetRunning(false)
	return c.session.Close()
}

// SendTyping shows Discord's typing indicator once; Discord auto-expires it
// after ~10s, and the Gateway sends it once at the start of each turn.
func (c *Channel) SendTyping(_ context.Context, chatID string) error {
	return c.session.ChannelTyping(chatID)
}

// Send delivers an outbound message, editing a placeholder "Thinking..."
// message in place when one exists for this inbound turn and chunking any
// overflow across Discord's 2000 character limit.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord bot not running")
	}
	channelID := msg.ChatID
	if channelID == "" {
		return fmt.Errorf("empty chat ID for discord send")
	}

	placeholderKey := msg.Metadata["placeholder_key"]
	content := msg.Content

	if content == "" {
		if pID, ok := c.placeholders.LoadAndDelete(placeholderKey); ok {
			_ = c.session.ChannelMessageDelete(channelID, pID.(string))
		}
		return nil
	}

	if pID, ok := c.placeholders.LoadAndDelete(placeholderKey); ok {
		msgID := pID.(string)
		head, rest := splitDiscordMessage(content)
		if _, err := c.session.ChannelMessageEdit(channelID, msgID, head); err == nil {
			return c.sendChunked(channelID, rest)
		}
		slog.Warn("discord: placeholder edit failed, sending new message", "channel_id", channelID)
	}

	return c.sendChunked(channelID, content)
}

func splitDiscordMessage(content string) (head, rest string) {
	if len(content) <= discordMessageLimit {
		return content, ""
	}
	cut := discordMessageLimit
	if idx := lastIndexByte(content[:discordMessageLimit], '\n'); idx > discordMessageLimit/2 {
		cut = idx + 1
	}
	return content[:cut], content[cut:]
}

func (c *Channel) sendChunked(channelID, content string) error {
	for len(content) > 0 {
		head, rest := splitDiscordMessage(content)
		if head == "" {
			break
		}
		if _, err := c.session.ChannelMessageSend(channelID, head); err != nil {
			return fmt.Errorf("send discord message: %w", err)
		}
		content = rest
	}
	return nil
}

// handleMessage processes incoming Discord messages and, once it passes
// policy checks, delivers them to the Gateway via BaseChannel.Deliver.
func (c *Channel) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == c.botUserID || m.Author.Bot {
		return
	}

	senderID := m.Author.ID
	senderName := resolveDisplayName(m)
	channelID := m.ChannelID
	isDM := m.GuildID == ""

	peerKind := "group"
	if isDM {
		peerKind = "direct"
	}

	dmPolicy := c.config.DMPolicy
	if dmPolicy == "" {
		dmPolicy = "allowlist"
	}
	groupPolicy := c.config.GroupPolicy
	if groupPolicy == "" {
		groupPolicy = "open"
	}
	if !c.CheckPolicy(peerKind, dmPolicy, groupPolicy, senderID) {
		slog.Debug("discord message rejected by policy", "peer_kind", peerKind, "sender_id", senderID)
		return
	}

	content := m.Content
	for _, att := range m.Attachments {
		if content != "" {
			content += "\n"
		}
		content += fmt.Sprintf("[attachment: %s]", att.URL)
	}
	if content == "" {
		content = "[empty message]"
	}

	if peerKind == "group" && c.requireMention {
		mentioned := false
		for _, u := range m.Mentions {
			if u.ID == c.botUserID {
				mentioned = true
				break
			}
		}
		if !mentioned {
			return
		}
	}

	if peerKind == "group" {
		content = fmt.Sprintf("[From: %s]\n%s", senderName, content)
	}

	placeholder, err := c.session.ChannelMessageSend(channelID, "Thinking...")
	if err == nil {
		c.placeholders.Store(m.ID, placeholder.ID)
	}

	c.Deliver(bus.InboundMessage{
		Channel:  c.Name(),
		SenderID: senderID,
		ChatID:   channelID,
		Content:  content,
		PeerKind: peerKind,
		UserID:   senderID,
		GuildID:  m.GuildID,
		Metadata: map[string]string{
			"message_id":      m.ID,
			"username":        m.Author.Username,
			"display_name":    senderName,
			"placeholder_key": m.ID,
		},
	})
}

// resolveDisplayName returns the best available display name for a Discord
// message author: server nickname, then global display name, then username.
func resolveDisplayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}

func lastIndexByte(s string, b byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == b {
			return i
		}
	}
	return -1
}
