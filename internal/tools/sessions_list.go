package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/san-tian/miniclaw/internal/sessions"
)

// SessionsListTool lists known sessions, optionally filtered by agent or
// channel. Subagent and cron sessions are included since nothing in the
// session-key convention hides them from an owning agent's visibility.
type SessionsListTool struct {
	sessionsMgr *sessions.Manager
}

func NewSessionsListTool(sessionsMgr *sessions.Manager) *SessionsListTool {
	return &SessionsListTool{sessionsMgr: sessionsMgr}
}

func (t *SessionsListTool) Name() string        { return "sessions_list" }
func (t *SessionsListTool) Description() string { return "List known sessions, most recently active first." }

func (t *SessionsListTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"agentId": map[string]interface{}{
				"type":        "string",
				"description": "Only list sessions for this agent",
			},
			"channel": map[string]interface{}{
				"type":        "string",
				"description": "Only list sessions on this channel",
			},
		},
	}
}

func (t *SessionsListTool) Execute(ctx context.Context, args map[string]interface{}, tc ToolContext) *Result {
	agentID, _ := args["agentId"].(string)
	channel, _ := args["channel"].(string)

	list := t.sessionsMgr.List(sessions.ListFilter{AgentID: agentID, Channel: channel})
	if len(list) == 0 {
		return NewResult("no sessions found")
	}

	var b strings.Builder
	for _, s := range list {
		fmt.Fprintf(&b, "%s  agent=%s channel=%s title=%q updated=%s\n",
			s.SessionKey, s.AgentID, s.Channel, t.sessionsMgr.TitleFor(s), s.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return NewResult(b.String())
}
