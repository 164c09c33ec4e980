// Package agent implements the AgentRunner: the per-session tool-calling
// loop that drives one conversation turn from user input through zero or
// more tool round-trips to a final reply.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/san-tian/miniclaw/internal/providers"
	"github.com/san-tian/miniclaw/internal/sessions"
	"github.com/san-tian/miniclaw/internal/tools"
)

const (
	maxIterations   = 10
	maxEmptyRetry   = 2
	sentinelNoReply = "NO_REPLY"
	sentinelDone    = "(done)"
	sentinelAborted = "(aborted)"
)

// Exported sentinel aliases, for callers (the gateway's delivery path) that
// need to recognize a suppressed final reply without depending on internal
// constant names.
const (
	SentinelNoReply = sentinelNoReply
	SentinelDone    = sentinelDone
	SentinelAborted = sentinelAborted
)

// Source identifies what triggered a run, controlling how its input text
// is framed before being appended as a user entry.
type Source string

const (
	SourceUser             Source = "user"
	SourceCron             Source = "cron"
	SourceSubagentAnnounce Source = "subagent-announce"
)

func frameInput(source Source, content string) string {
	switch source {
	case SourceCron:
		return fmt.Sprintf("[SCHEDULED TASK] Execute the following scheduled task and send the result to the user: %s", content)
	case SourceSubagentAnnounce:
		return fmt.Sprintf("[SUBAGENT RESULT] %s", content)
	default:
		return content
	}
}

// Callbacks receives streaming events out of a run as it progresses.
type Callbacks struct {
	OnChunk      func(text string)
	OnToolCall   func(name, id string)
	OnToolResult func(name, id string, result *tools.Result)
	OnComplete   func(finalText string)
}

// RunInput describes one invocation of Run.
type RunInput struct {
	Source  Source
	Content string
}

// Runner drives the tool-calling loop for exactly one session. It is safe
// for one Run to execute at a time; Inject and IsActive may be called
// concurrently with a running Run.
type Runner struct {
	sessionKey   string
	agentID      string
	channel      string
	to           string
	isSubagent   bool
	systemPrompt string

	provider providers.Provider
	model    string

	registry *tools.Registry
	allowed  []string // tool names this runner may offer; nil = all in registry

	sessionsMgr *sessions.Manager

	running atomic.Bool
	aborted atomic.Bool

	injectMu sync.Mutex
	injected []string
}

// Config bundles the dependencies needed to construct a Runner.
type Config struct {
	SessionKey   string
	AgentID      string
	Channel      string
	To           string
	IsSubagent   bool
	SystemPrompt string
	Provider     providers.Provider
	Model        string
	Registry     *tools.Registry
	AllowedTools []string // nil = offer everything in Registry
	Sessions     *sessions.Manager
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		sessionKey:   cfg.SessionKey,
		agentID:      cfg.AgentID,
		channel:      cfg.Channel,
		to:           cfg.To,
		isSubagent:   cfg.IsSubagent,
		systemPrompt: cfg.SystemPrompt,
		provider:     cfg.Provider,
		model:        cfg.Model,
		registry:     cfg.Registry,
		allowed:      cfg.AllowedTools,
		sessionsMgr:  cfg.Sessions,
	}
}

// IsActive reports whether a run is currently executing.
func (r *Runner) IsActive() bool { return r.running.Load() }

// Abort requests the current run stop at its next check point. The run
// returns the "(aborted)" sentinel without appending further entries.
func (r *Runner) Abort() { r.aborted.Store(true) }

// Inject queues a message to be spliced into the running loop as an
// interrupt. If no run is active the caller should route the message as a
// fresh invocation instead (the FollowupQueue callback decides this).
func (r *Runner) Inject(text string) {
	r.injectMu.Lock()
	defer r.injectMu.Unlock()
	r.injected = append(r.injected, text)
}

func (r *Runner) drainOneInjected() (string, bool) {
	r.injectMu.Lock()
	defer r.injectMu.Unlock()
	if len(r.injected) == 0 {
		return "", false
	}
	msg := r.injected[0]
	r.injected = r.injected[1:]
	return msg, true
}

func (r *Runner) hasPendingInjected() bool {
	r.injectMu.Lock()
	defer r.injectMu.Unlock()
	return len(r.injected) > 0
}

// Run executes the tool-calling loop to completion and returns the final
// reply text (which may be a sentinel). The transcript is the single
// source of truth for conversation state; Run re-reads it at the top of
// every iteration so side-channel appends (from other tools, or from
// Inject) are picked up.
func (r *Runner) Run(ctx context.Context, input RunInput, cb Callbacks) (string, error) {
	r.running.Store(true)
	r.aborted.Store(false)
	defer r.running.Store(false)

	session, err := r.sessionsMgr.GetOrCreate(r.sessionKey, r.agentID, r.channel, r.to)
	if err != nil {
		return "", fmt.Errorf("get session: %w", err)
	}

	existing, err := r.sessionsMgr.LoadTranscript(session.SessionID)
	if err != nil {
		return "", fmt.Errorf("load transcript: %w", err)
	}
	if len(existing) == 0 {
		if err := r.sessionsMgr.Append(session, sessions.TranscriptEntry{
			Role:    sessions.RoleSystem,
			Content: r.systemPrompt,
		}); err != nil {
			return "", fmt.Errorf("append system prompt: %w", err)
		}
	}

	if err := r.sessionsMgr.Append(session, sessions.TranscriptEntry{
		Role:    sessions.RoleUser,
		Content: frameInput(input.Source, input.Content),
	}); err != nil {
		return "", fmt.Errorf("append input: %w", err)
	}

	final, err := r.loop(ctx, session, cb, maxIterations)
	if err != nil {
		return "", err
	}
	if cb.OnComplete != nil {
		cb.OnComplete(final)
	}
	return final, nil
}

func (r *Runner) loop(ctx context.Context, session *sessions.Session, cb Callbacks, budget int) (string, error) {
	emptyRetries := 0

	for iter := 0; iter < budget; iter++ {
		if r.aborted.Load() {
			return sentinelAborted, nil
		}

		entries, err := r.sessionsMgr.LoadTranscript(session.SessionID)
		if err != nil {
			return "", fmt.Errorf("sync transcript: %w", err)
		}

		if msg, ok := r.drainOneInjected(); ok {
			if err := r.sessionsMgr.Append(session, sessions.TranscriptEntry{
				Role:    sessions.RoleUser,
				Content: "[INTERRUPT] New message from user: " + msg,
			}); err != nil {
				return "", fmt.Errorf("append injected: %w", err)
			}
			entries, err = r.sessionsMgr.LoadTranscript(session.SessionID)
			if err != nil {
				return "", fmt.Errorf("sync transcript: %w", err)
			}
		}

		messages := toProviderMessages(entries)
		toolDefs := r.toolDefs()

		req := providers.ChatRequest{
			Messages: messages,
			Tools:    toolDefs,
			Model:    r.model,
		}

		var resp *providers.ChatResponse
		if cb.OnChunk != nil {
			resp, err = r.provider.ChatStream(ctx, req, func(chunk providers.StreamChunk) {
				if chunk.Content != "" {
					cb.OnChunk(chunk.Content)
				}
			})
		} else {
			resp, err = r.provider.Chat(ctx, req)
		}
		if err != nil {
			return "", fmt.Errorf("model call: %w", err)
		}

		if len(resp.ToolCalls) > 0 {
			if err := r.appendAssistantWithToolCalls(session, resp); err != nil {
				return "", err
			}
			if err := r.executeToolCalls(ctx, session, resp.ToolCalls, cb); err != nil {
				return "", err
			}
			continue
		}

		if resp.Content != "" {
			clean := SanitizeAssistantContent(resp.Content)
			if err := r.sessionsMgr.Append(session, sessions.TranscriptEntry{
				Role:    sessions.RoleAssistant,
				Content: clean,
			}); err != nil {
				return "", fmt.Errorf("append final: %w", err)
			}
			if r.hasPendingInjected() {
				continue
			}
			if IsSilentReply(clean) {
				return sentinelNoReply, nil
			}
			return clean, nil
		}

		// Empty response: neither text nor tool calls.
		if r.hasPendingInjected() {
			continue
		}
		emptyRetries++
		if emptyRetries > maxEmptyRetry {
			return sentinelDone, nil
		}
	}

	// Loop exhausted its iteration budget. Pending injected messages are
	// drained inside the loop above and share this same budget, so none is
	// left for them here: any still queued stay queued for the next Run.
	return sentinelDone, nil
}

func (r *Runner) appendAssistantWithToolCalls(session *sessions.Session, resp *providers.ChatResponse) error {
	refs := make([]sessions.ToolCallRef, 0, len(resp.ToolCalls))
	for _, tc := range resp.ToolCalls {
		argsJSON, err := json.Marshal(tc.Arguments)
		if err != nil {
			slog.Error("agent: dropping malformed tool call arguments", "tool", tc.Name, "error", err)
			continue
		}
		refs = append(refs, sessions.ToolCallRef{ID: tc.ID, Name: tc.Name, Arguments: string(argsJSON)})
	}
	return r.sessionsMgr.Append(session, sessions.TranscriptEntry{
		Role:      sessions.RoleAssistant,
		Content:   resp.Content,
		ToolCalls: refs,
	})
}

type toolExecOutcome struct {
	idx    int
	tc     providers.ToolCall
	result *tools.Result
}

// executeToolCalls runs the given tool calls against the runner's tool
// context, sequentially when there is exactly one (no goroutine overhead)
// and concurrently otherwise, re-ordering results back to declaration
// order before appending them to the transcript.
func (r *Runner) executeToolCalls(ctx context.Context, session *sessions.Session, calls []providers.ToolCall, cb Callbacks) error {
	tc := tools.ToolContext{
		SessionKey: r.sessionKey,
		Channel:    r.channel,
		To:         r.to,
		AgentID:    r.agentID,
	}

	run := func(idx int, call providers.ToolCall) toolExecOutcome {
		if cb.OnToolCall != nil {
			cb.OnToolCall(call.Name, call.ID)
		}
		result := r.registry.Execute(ctx, call.Name, call.Arguments, tc)
		return toolExecOutcome{idx: idx, tc: call, result: result}
	}

	var outcomes []toolExecOutcome
	if len(calls) == 1 {
		outcomes = []toolExecOutcome{run(0, calls[0])}
	} else {
		resultCh := make(chan toolExecOutcome, len(calls))
		var wg sync.WaitGroup
		for i, call := range calls {
			wg.Add(1)
			go func(idx int, call providers.ToolCall) {
				defer wg.Done()
				resultCh <- run(idx, call)
			}(i, call)
		}
		go func() { wg.Wait(); close(resultCh) }()
		for o := range resultCh {
			outcomes = append(outcomes, o)
		}
		sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].idx < outcomes[j].idx })
	}

	for _, o := range outcomes {
		if cb.OnToolResult != nil {
			cb.OnToolResult(o.tc.Name, o.tc.ID, o.result)
		}
		if err := r.sessionsMgr.Append(session, sessions.TranscriptEntry{
			Role:       sessions.RoleTool,
			Content:    o.result.ForLLM,
			ToolCallID: o.tc.ID,
		}); err != nil {
			return fmt.Errorf("append tool result: %w", err)
		}
	}
	return nil
}

// toolDefs returns the provider-facing tool schema list, filtered to the
// runner's allowed set and, for subagent runners, excluding subagent_spawn
// so background agents cannot recursively fan out further subagents.
func (r *Runner) toolDefs() []providers.ToolDefinition {
	names := r.registry.List()
	if r.allowed != nil {
		allowedSet := make(map[string]bool, len(r.allowed))
		for _, n := range r.allowed {
			allowedSet[n] = true
		}
		filtered := names[:0:0]
		for _, n := range names {
			if allowedSet[n] {
				filtered = append(filtered, n)
			}
		}
		names = filtered
	}

	defs := make([]providers.ToolDefinition, 0, len(names))
	for _, name := range names {
		if r.isSubagent && name == "subagent_spawn" {
			continue
		}
		t, ok := r.registry.Get(name)
		if !ok {
			continue
		}
		defs = append(defs, tools.ToProviderDef(t))
	}
	return defs
}

func toProviderMessages(entries []sessions.TranscriptEntry) []providers.Message {
	msgs := make([]providers.Message, 0, len(entries))
	for _, e := range entries {
		m := providers.Message{
			Role:       string(e.Role),
			Content:    e.Content,
			ToolCallID: e.ToolCallID,
		}
		for _, tc := range e.ToolCalls {
			var args map[string]interface{}
			if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
				slog.Warn("agent: skipping unparsable tool call on replay", "tool", tc.Name, "error", err)
				continue
			}
			m.ToolCalls = append(m.ToolCalls, providers.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: args})
		}
		msgs = append(msgs, m)
	}
	return msgs
}
