package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/san-tian/miniclaw/internal/bus"
	"github.com/san-tian/miniclaw/internal/channels"
	"github.com/san-tian/miniclaw/internal/config"
	"github.com/san-tian/miniclaw/internal/providers"
	"github.com/san-tian/miniclaw/internal/router"
	"github.com/san-tian/miniclaw/internal/sessions"
	"github.com/san-tian/miniclaw/internal/subagent"
	"github.com/san-tian/miniclaw/internal/tools"
)

// scriptedProvider replays a fixed sequence of responses, mirroring the
// fake used by the agent package's own tests.
type scriptedProvider struct {
	responses []*providers.ChatResponse
	call      int
}

func (p *scriptedProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
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

// fakeChannel records every outbound Send and lets a test deliver an
// inbound message by calling its stored handler directly.
type fakeChannel struct {
	*channels.BaseChannel
	sent []bus.OutboundMessage
}

func newFakeChannel(name string) *fakeChannel {
	return &fakeChannel{BaseChannel: channels.NewBaseChannel(name, nil)}
}

func (f *fakeChannel) Start(context.Context) error { return nil }
func (f *fakeChannel) Stop(context.Context) error  { return nil }
func (f *fakeChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	f.sent = append(f.sent, msg)
	return nil
}

func newTestGateway(t *testing.T, provider providers.Provider) (*Gateway, *fakeChannel) {
	t.Helper()
	cfg := config.Default()
	cfg.Agents.Defaults.Provider = "test"

	sessionsMgr := sessions.NewManager(t.TempDir())
	subagents := subagent.NewRegistry(t.TempDir(), 60)
	registry := tools.NewRegistry()
	channelsMgr := channels.NewManager()
	policy := tools.NewPolicyEngine(&cfg.Tools)

	gw := New(cfg, sessionsMgr, router.New(), registry, policy, channelsMgr,
		map[string]providers.Provider{"test": provider}, subagents)

	ch := newFakeChannel("telegram")
	gw.RegisterChannel("telegram", ch)
	return gw, ch
}

func TestGateway_HandleInbound_DeliversFinalReply(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.ChatResponse{
		{Content: "hello from the gateway", FinishReason: "stop"},
	}}
	gw, ch := newTestGateway(t, provider)

	gw.handleInbound(bus.InboundMessage{Channel: "telegram", ChatID: "42", Content: "hi"})

	deadline := time.Now().Add(2 * time.Second)
	for len(ch.sent) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if len(ch.sent) != 1 {
		t.Fatalf("expected 1 outbound message, got %d", len(ch.sent))
	}
	if ch.sent[0].Content != "hello from the gateway" {
		t.Errorf("content = %q", ch.sent[0].Content)
	}
	if ch.sent[0].ChatID != "42" {
		t.Errorf("chatID = %q, want 42", ch.sent[0].ChatID)
	}
}

func TestGateway_HandleInbound_SuppressesNoReply(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.ChatResponse{
		{Content: "NO_REPLY", FinishReason: "stop"},
	}}
	gw, ch := newTestGateway(t, provider)

	gw.handleInbound(bus.InboundMessage{Channel: "telegram", ChatID: "1", Content: "just logging this"})

	time.Sleep(200 * time.Millisecond)

	if len(ch.sent) != 0 {
		t.Fatalf("expected no outbound message for NO_REPLY, got %v", ch.sent)
	}
}

func TestGateway_SendToSession_AppendsAndDelivers(t *testing.T) {
	gw, ch := newTestGateway(t, &scriptedProvider{})

	sessionKey := gw.sessionKeyFor(bus.InboundMessage{Channel: "telegram", ChatID: "7"})
	s, err := gw.sessionsMgr.GetOrCreate(sessionKey, "default", "telegram", "7")
	if err != nil {
		t.Fatal(err)
	}

	if err := gw.SendToSession(s.SessionKey, "", "scheduled update"); err != nil {
		t.Fatal(err)
	}

	if len(ch.sent) != 1 || ch.sent[0].Content != "scheduled update" {
		t.Fatalf("unexpected sent messages: %v", ch.sent)
	}
}

func TestIsSuppressed(t *testing.T) {
	cases := map[string]bool{
		"NO_REPLY":    true,
		"(done)":      true,
		"(aborted)":   true,
		"hello there": false,
		"":            false,
	}
	for text, want := range cases {
		if got := isSuppressed(text); got != want {
			t.Errorf("isSuppressed(%q) = %v, want %v", text, got, want)
		}
	}
}
