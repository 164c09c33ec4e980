// Package sessions implements the Session Manager: a metadata index keyed
// by sessionKey, paired with a per-session append-only transcript log.
package sessions

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a TranscriptEntry.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCallRef is an assistant entry's declared invocation of a tool.
type ToolCallRef struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // raw JSON
}

// TranscriptEntry is one append-only record in a session's history.
// Tool entries follow the assistant entry whose ToolCalls declared their
// ID; a session's first entry is exactly one system entry.
type TranscriptEntry struct {
	Role       Role          `json:"role"`
	Content    string        `json:"content"`
	Timestamp  time.Time     `json:"timestamp"`
	ToolCalls  []ToolCallRef `json:"toolCalls,omitempty"`
	ToolCallID string        `json:"toolCallId,omitempty"`
}

// Session is the metadata record for one conversation. At most one Session
// exists per SessionKey.
type Session struct {
	SessionID    string    `json:"sessionId"`
	SessionKey   string    `json:"sessionKey"`
	AgentID      string    `json:"agentId"`
	Channel      string    `json:"channel"`
	To           string    `json:"to,omitempty"` // destination identifier on Channel (chat id, peer id)
	DisplayName  string    `json:"displayName,omitempty"`
	Subject      string    `json:"subject,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	MessageCount int       `json:"messageCount"`

	// Accounting carried for the agent runner and session_status tool.
	Model           string `json:"model,omitempty"`
	Provider        string `json:"provider,omitempty"`
	InputTokens     int64  `json:"inputTokens,omitempty"`
	OutputTokens    int64  `json:"outputTokens,omitempty"`
	CompactionCount int    `json:"compactionCount,omitempty"`

	// Set for subagent sessions and cron-run sessions.
	SpawnedBy string `json:"spawnedBy,omitempty"`
}

func newSession(key string) *Session {
	now := time.Now()
	return &Session{
		SessionID:  uuid.NewString(),
		SessionKey: key,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Title derives a human-readable label for the session: explicit
// DisplayName, then Subject, then the first user transcript entry
// truncated to <=60 chars on a word boundary with an ellipsis, then an
// 8-char session-id prefix plus the creation date.
func (s *Session) Title(firstUserContent string) string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	if s.Subject != "" {
		return s.Subject
	}
	if t := truncateOnWord(firstUserContent, 60); t != "" {
		return t
	}
	prefix := s.SessionID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return fmt.Sprintf("%s %s", prefix, s.CreatedAt.Format("2006-01-02"))
}

func truncateOnWord(s string, max int) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut) + "…"
}
