package agent

import (
	"context"
	"testing"

	"github.com/san-tian/miniclaw/internal/providers"
	"github.com/san-tian/miniclaw/internal/sessions"
	"github.com/san-tian/miniclaw/internal/tools"
)

type scriptedProvider struct {
	responses []*providers.ChatResponse
	call      int
	seen      [][]providers.Message
}

func (p *scriptedProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	p.seen = append(p.seen, req.Messages)
	if p.call >= len(p.responses) {
		return &providers.ChatResponse{Content: "(done)"}, nil
	}
	resp := p.responses[p.call]
	p.call++
	return resp, nil
}

func (p *scriptedProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return p.Chat(ctx, req)
}
func (p *scriptedProvider) DefaultModel() string { return "test-model" }
func (p *scriptedProvider) Name() string         { return "test" }

type echoTool struct{ calls int }

func (e *echoTool) Name() string        { return "echo" }
func (e *echoTool) Description() string { return "echoes input" }
func (e *echoTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object"}
}
func (e *echoTool) Execute(ctx context.Context, args map[string]interface{}, tc tools.ToolContext) *tools.Result {
	e.calls++
	return tools.NewResult("echoed")
}

func newTestRunner(t *testing.T, provider providers.Provider, registry *tools.Registry) (*Runner, *sessions.Manager) {
	t.Helper()
	mgr := sessions.NewManager(t.TempDir())
	r := NewRunner(Config{
		SessionKey:   "telegram:1",
		AgentID:      "default",
		Channel:      "telegram",
		To:           "1",
		SystemPrompt: "you are a helpful agent",
		Provider:     provider,
		Model:        "test-model",
		Registry:     registry,
		Sessions:     mgr,
	})
	return r, mgr
}

func TestRunner_Run_SimpleTextReply(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.ChatResponse{
		{Content: "hello there", FinishReason: "stop"},
	}}
	r, mgr := newTestRunner(t, provider, tools.NewRegistry())

	final, err := r.Run(context.Background(), RunInput{Source: SourceUser, Content: "hi"}, Callbacks{})
	if err != nil {
		t.Fatal(err)
	}
	if final != "hello there" {
		t.Errorf("final = %q, want %q", final, "hello there")
	}

	session, ok := mgr.FindByKey("telegram:1")
	if !ok {
		t.Fatal("expected session to exist")
	}
	entries, err := mgr.LoadTranscript(session.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected system+user+assistant entries, got %d", len(entries))
	}
	if entries[0].Role != sessions.RoleSystem {
		t.Errorf("expected first entry to be system, got %s", entries[0].Role)
	}
}

func TestRunner_Run_ExecutesToolCallThenReplies(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{{ID: "tc1", Name: "echo", Arguments: map[string]interface{}{"x": 1}}}, FinishReason: "tool_calls"},
		{Content: "done using echo", FinishReason: "stop"},
	}}
	registry := tools.NewRegistry()
	tool := &echoTool{}
	registry.Register(tool)

	r, mgr := newTestRunner(t, provider, registry)

	final, err := r.Run(context.Background(), RunInput{Source: SourceUser, Content: "use echo"}, Callbacks{})
	if err != nil {
		t.Fatal(err)
	}
	if final != "done using echo" {
		t.Errorf("final = %q", final)
	}
	if tool.calls != 1 {
		t.Errorf("expected tool to be called once, got %d", tool.calls)
	}

	session, _ := mgr.FindByKey("telegram:1")
	entries, _ := mgr.LoadTranscript(session.SessionID)
	var sawTool bool
	for _, e := range entries {
		if e.Role == sessions.RoleTool {
			sawTool = true
			if e.ToolCallID != "tc1" {
				t.Errorf("expected tool result to carry tool call id, got %q", e.ToolCallID)
			}
			if e.Content != "echoed" {
				t.Errorf("expected tool result content 'echoed', got %q", e.Content)
			}
		}
	}
	if !sawTool {
		t.Error("expected a tool-role transcript entry")
	}
}

func TestRunner_Run_CronInputIsFramed(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.ChatResponse{{Content: "ran it"}}}
	r, mgr := newTestRunner(t, provider, tools.NewRegistry())

	if _, err := r.Run(context.Background(), RunInput{Source: SourceCron, Content: "back up the database"}, Callbacks{}); err != nil {
		t.Fatal(err)
	}

	session, _ := mgr.FindByKey("telegram:1")
	entries, _ := mgr.LoadTranscript(session.SessionID)
	found := false
	for _, e := range entries {
		if e.Role == sessions.RoleUser && e.Content == "[SCHEDULED TASK] Execute the following scheduled task and send the result to the user: back up the database" {
			found = true
		}
	}
	if !found {
		t.Error("expected cron input to be framed as a scheduled task")
	}
}

func TestRunner_Run_SubagentExcludesSpawnTool(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.ChatResponse{{Content: "ok"}}}
	registry := tools.NewRegistry()
	registry.Register(&echoTool{})
	registry.Register(&nameOnlyTool{name: "subagent_spawn"})

	mgr := sessions.NewManager(t.TempDir())
	r := NewRunner(Config{
		SessionKey:   "subagent:abc",
		AgentID:      "default",
		Channel:      "subagent",
		IsSubagent:   true,
		SystemPrompt: "you are a subagent",
		Provider:     provider,
		Model:        "test-model",
		Registry:     registry,
		Sessions:     mgr,
	})

	if _, err := r.Run(context.Background(), RunInput{Source: SourceUser, Content: "go"}, Callbacks{}); err != nil {
		t.Fatal(err)
	}

	for _, msgs := range provider.seen {
		_ = msgs
	}
	defs := r.toolDefs()
	for _, d := range defs {
		if d.Function.Name == "subagent_spawn" {
			t.Error("subagent runner must not be offered subagent_spawn")
		}
	}
}

type nameOnlyTool struct{ name string }

func (n *nameOnlyTool) Name() string                   { return n.name }
func (n *nameOnlyTool) Description() string            { return "" }
func (n *nameOnlyTool) Parameters() map[string]interface{} { return map[string]interface{}{} }
func (n *nameOnlyTool) Execute(ctx context.Context, args map[string]interface{}, tc tools.ToolContext) *tools.Result {
	return tools.NewResult("")
}
