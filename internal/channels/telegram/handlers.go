package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mymmrac/telego"

	"github.com/san-tian/miniclaw/internal/bus"
)

// handleMessage processes an incoming Telegram message and, once it passes
// policy checks, delivers it to the Gateway via BaseChannel.Deliver.
func (c *Channel) handleMessage(ctx context.Context, message *telego.Message) {
	if isServiceMessage(message) {
		return
	}

	user := message.From
	if user == nil {
		return
	}

	userID := fmt.Sprintf("%d", user.ID)
	senderID := userID
	if user.Username != "" {
		senderID = fmt.Sprintf("%s|%s", userID, user.Username)
	}

	isGroup := message.Chat.Type == "group" || message.Chat.Type == "supergroup"
	peerKind := "direct"
	if isGroup {
		peerKind = "group"
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
		slog.Debug("telegram message rejected by policy", "peer_kind", peerKind, "sender_id", senderID)
		return
	}

	content := message.Text
	if message.Caption != "" {
		if content != "" {
			content += "\n"
		}
		content += message.Caption
	}

	mediaList := c.resolveMedia(ctx, message)
	var mediaPaths []string
	for _, m := range mediaList {
		if m.Type == "document" && m.FileName != "" && m.FilePath != "" {
			if docContent, err := extractDocumentContent(m.FilePath, m.FileName); err != nil {
				slog.Warn("telegram: document extraction failed", "file", m.FileName, "error", err)
			} else if docContent != "" {
				content += "\n\n" + docContent
			}
		}
		if m.FilePath != "" {
			mediaPaths = append(mediaPaths, m.FilePath)
		}
	}
	if tags := buildMediaTags(mediaList); tags != "" {
		if content != "" {
			content = tags + "\n\n" + content
		} else {
			content = tags
		}
	}
	if content == "" {
		content = "[empty message]"
	}

	requireMention := true
	if c.config.RequireMention != nil {
		requireMention = *c.config.RequireMention
	}
	if isGroup && requireMention && !c.detectMention(message, c.bot.Username()) {
		slog.Debug("telegram group message skipped: bot not mentioned", "chat_id", message.Chat.ID)
		return
	}

	senderLabel := user.FirstName
	if user.Username != "" {
		senderLabel = "@" + user.Username
	}
	if isGroup {
		content = fmt.Sprintf("[From: %s]\n%s", senderLabel, content)
	}

	c.Deliver(bus.InboundMessage{
		Channel:  c.Name(),
		SenderID: senderID,
		ChatID:   fmt.Sprintf("%d", message.Chat.ID),
		Content:  content,
		Media:    mediaPaths,
		PeerKind: peerKind,
		UserID:   userID,
		Metadata: map[string]string{
			"message_id": fmt.Sprintf("%d", message.MessageID),
			"username":   user.Username,
			"first_name": user.FirstName,
		},
	})
}

// detectMention checks if a Telegram message mentions the bot, by entity or
// by a reply to one of the bot's own messages.
func (c *Channel) detectMention(msg *telego.Message, botUsername string) bool {
	if botUsername == "" {
		return false
	}
	lowerBot := strings.ToLower(botUsername)

	for _, text := range []string{msg.Text, msg.Caption} {
		if text != "" && strings.Contains(strings.ToLower(text), "@"+lowerBot) {
			return true
		}
	}

	if msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil &&
		msg.ReplyToMessage.From.Username == botUsername {
		return true
	}

	return false
}

// isServiceMessage returns true for Telegram service/system messages
// (member added/removed, title changed, etc.) with no user content.
func isServiceMessage(msg *telego.Message) bool {
	if msg.Text != "" || msg.Caption != "" {
		return false
	}
	if msg.Photo != nil || msg.Audio != nil || msg.Video != nil ||
		msg.Document != nil || msg.Voice != nil || msg.VideoNote != nil ||
		msg.Sticker != nil || msg.Animation != nil || msg.Contact != nil ||
		msg.Location != nil || msg.Venue != nil || msg.Poll != nil {
		return false
	}
	return true
}
