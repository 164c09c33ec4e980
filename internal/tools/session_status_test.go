package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/san-tian/miniclaw/internal/sessions"
)

func TestSessionStatusTool_ReportsAccounting(t *testing.T) {
	mgr := sessions.NewManager(t.TempDir())
	s, err := mgr.GetOrCreate("telegram:1", "default", "telegram", "1")
	if err != nil {
		t.Fatal(err)
	}
	s.Model = "claude-sonnet-4-5-20250929"
	s.Provider = "anthropic"
	s.InputTokens = 100
	s.OutputTokens = 40

	tool := NewSessionStatusTool(mgr)
	res := tool.Execute(context.Background(), nil, ToolContext{SessionKey: "telegram:1"})

	if res.IsError {
		t.Fatalf("unexpected error: %v", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "anthropic") || !strings.Contains(res.ForLLM, "input_tokens=100") {
		t.Errorf("unexpected status output: %q", res.ForLLM)
	}
}

func TestSessionStatusTool_UnknownSession(t *testing.T) {
	mgr := sessions.NewManager(t.TempDir())
	tool := NewSessionStatusTool(mgr)

	res := tool.Execute(context.Background(), nil, ToolContext{SessionKey: "telegram:missing"})
	if !res.IsError {
		t.Error("expected an error for an unknown session")
	}
}

func TestSessionsListTool_FiltersByChannel(t *testing.T) {
	mgr := sessions.NewManager(t.TempDir())
	if _, err := mgr.GetOrCreate("telegram:1", "default", "telegram", "1"); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.GetOrCreate("discord:1", "default", "discord", "1"); err != nil {
		t.Fatal(err)
	}

	tool := NewSessionsListTool(mgr)
	res := tool.Execute(context.Background(), map[string]interface{}{"channel": "discord"}, ToolContext{})

	if strings.Contains(res.ForLLM, "telegram:1") {
		t.Errorf("expected telegram session to be filtered out: %q", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "discord:1") {
		t.Errorf("expected discord session in output: %q", res.ForLLM)
	}
}

func TestSessionsHistoryTool_ReturnsTranscript(t *testing.T) {
	mgr := sessions.NewManager(t.TempDir())
	s, err := mgr.GetOrCreate("telegram:1", "default", "telegram", "1")
	if err != nil {
		t.Fatal(err)
	}
	if err := mgr.Append(s, sessions.TranscriptEntry{Role: sessions.RoleUser, Content: "hi"}); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Append(s, sessions.TranscriptEntry{Role: sessions.RoleAssistant, Content: "hello"}); err != nil {
		t.Fatal(err)
	}

	tool := NewSessionsHistoryTool(mgr)
	res := tool.Execute(context.Background(), map[string]interface{}{"sessionKey": "telegram:1"}, ToolContext{})

	if res.IsError {
		t.Fatalf("unexpected error: %v", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "hi") || !strings.Contains(res.ForLLM, "hello") {
		t.Errorf("unexpected transcript output: %q", res.ForLLM)
	}
}

func TestSessionsHistoryTool_UnknownSession(t *testing.T) {
	mgr := sessions.NewManager(t.TempDir())
	tool := NewSessionsHistoryTool(mgr)

	res := tool.Execute(context.Background(), map[string]interface{}{"sessionKey": "telegram:missing"}, ToolContext{})
	if !res.IsError {
		t.Error("expected an error for an unknown session key")
	}
}
