package tools

import (
	"context"
	"fmt"

	"github.com/san-tian/miniclaw/internal/sessions"
)

// SessionStatusTool reports the current session's identity and accounting.
// It is the sole tool in the "minimal" profile, so it must not depend on
// any other tool group being enabled.
type SessionStatusTool struct {
	sessionsMgr *sessions.Manager
}

func NewSessionStatusTool(sessionsMgr *sessions.Manager) *SessionStatusTool {
	return &SessionStatusTool{sessionsMgr: sessionsMgr}
}

func (t *SessionStatusTool) Name() string { return "session_status" }

func (t *SessionStatusTool) Description() string {
	return "Report the current session's agent, channel, and token accounting."
}

func (t *SessionStatusTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *SessionStatusTool) Execute(ctx context.Context, args map[string]interface{}, tc ToolContext) *Result {
	s, ok := t.sessionsMgr.FindByKey(tc.SessionKey)
	if !ok {
		return ErrorResult("no session found for this context")
	}
	return NewResult(fmt.Sprintf(
		"agent=%s channel=%s model=%s provider=%s messages=%d input_tokens=%d output_tokens=%d compactions=%d",
		s.AgentID, s.Channel, s.Model, s.Provider, s.MessageCount, s.InputTokens, s.OutputTokens, s.CompactionCount,
	))
}
