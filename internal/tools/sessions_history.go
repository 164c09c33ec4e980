package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/san-tian/miniclaw/internal/sessions"
)

// SessionsHistoryTool dumps the transcript of another session by key, so
// one conversation can review a subagent's or another channel's history.
type SessionsHistoryTool struct {
	sessionsMgr *sessions.Manager
}

func NewSessionsHistoryTool(sessionsMgr *sessions.Manager) *SessionsHistoryTool {
	return &SessionsHistoryTool{sessionsMgr: sessionsMgr}
}

func (t *SessionsHistoryTool) Name() string { return "sessions_history" }

func (t *SessionsHistoryTool) Description() string {
	return "Read the transcript of a session by its session key."
}

func (t *SessionsHistoryTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"sessionKey": map[string]interface{}{
				"type":        "string",
				"description": "The session key to read",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum number of entries to return, most recent last (default 50)",
			},
		},
		"required": []string{"sessionKey"},
	}
}

func (t *SessionsHistoryTool) Execute(ctx context.Context, args map[string]interface{}, tc ToolContext) *Result {
	sessionKey, _ := args["sessionKey"].(string)
	if sessionKey == "" {
		return ErrorResult("sessionKey is required")
	}
	limit := 50
	if l, ok := args["limit"].(float64); ok && l > 0 {
		limit = int(l)
	}

	s, ok := t.sessionsMgr.FindByKey(sessionKey)
	if !ok {
		return ErrorResult(fmt.Sprintf("no session found for key %q", sessionKey))
	}
	entries, err := t.sessionsMgr.LoadTranscript(s.SessionID)
	if err != nil {
		return ErrorResult(fmt.Sprintf("load transcript: %v", err))
	}
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}

	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "[%s] %s: %s\n", e.Timestamp.Format("15:04:05"), e.Role, e.Content)
	}
	return NewResult(b.String())
}
