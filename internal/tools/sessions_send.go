package tools

import (
	"context"
	"fmt"
)

// SessionsSendTool delivers text to a session's channel destination without
// running another agent turn. Cron runs rely on this to satisfy their "must
// deliver before the turn ends" requirement, since a scheduled run has no
// live channel adapter to auto-push a final reply through.
type SessionsSendTool struct {
	gw GatewayRef
}

func NewSessionsSendTool(gw GatewayRef) *SessionsSendTool {
	return &SessionsSendTool{gw: gw}
}

func (t *SessionsSendTool) Name() string { return "sessions_send" }

func (t *SessionsSendTool) Description() string {
	return "Send a message to a session's channel destination. Use this to deliver results from a scheduled or background task; it does not start another agent turn."
}

func (t *SessionsSendTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"text": map[string]interface{}{
				"type":        "string",
				"description": "The message to deliver",
			},
			"channel": map[string]interface{}{
				"type":        "string",
				"description": "Override the destination channel (defaults to the current session's channel)",
			},
		},
		"required": []string{"text"},
	}
}

func (t *SessionsSendTool) Execute(ctx context.Context, args map[string]interface{}, tc ToolContext) *Result {
	text, _ := args["text"].(string)
	if text == "" {
		return ErrorResult("text is required")
	}
	channel, _ := args["channel"].(string)

	if err := t.gw.SendToSession(tc.SessionKey, channel, text); err != nil {
		return ErrorResult(fmt.Sprintf("sessions_send failed: %v", err))
	}
	return SilentResult("message sent")
}
