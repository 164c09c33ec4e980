// Package gateway wires the routing, session, tool, followup, announce,
// cron and subagent layers into the composition root that channel adapters
// talk to: one inbound handler, one re-entry surface for background work.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/san-tian/miniclaw/internal/agent"
	"github.com/san-tian/miniclaw/internal/announce"
	"github.com/san-tian/miniclaw/internal/bus"
	"github.com/san-tian/miniclaw/internal/channels"
	"github.com/san-tian/miniclaw/internal/config"
	"github.com/san-tian/miniclaw/internal/cron"
	"github.com/san-tian/miniclaw/internal/followup"
	"github.com/san-tian/miniclaw/internal/providers"
	"github.com/san-tian/miniclaw/internal/router"
	"github.com/san-tian/miniclaw/internal/sessions"
	"github.com/san-tian/miniclaw/internal/subagent"
	"github.com/san-tian/miniclaw/internal/tools"
)

// pendingCtx is the destination info stashed between an inbound message
// arriving and its FollowupQueue callback firing, so the callback can route
// a brand-new session without re-deriving channel/to/agent from scratch.
type pendingCtx struct {
	channel string
	to      string
	agentID string
}

var _ tools.GatewayRef = (*Gateway)(nil)

// Gateway is the process composition root: it owns no transport of its own,
// only the glue between registered channels and the agent runners that
// answer them.
type Gateway struct {
	cfg         *config.Config
	sessionsMgr *sessions.Manager
	router      *router.Router
	registry    *tools.Registry
	policy      *tools.PolicyEngine
	channelsMgr *channels.Manager
	providers   map[string]providers.Provider
	subagents   *subagent.Registry

	followupQ *followup.Queue
	announceQ *announce.Queue
	cronSvc   *cron.Service

	mu           sync.Mutex
	runners      map[string]*agent.Runner
	sessionLocks map[string]*sync.Mutex
	pending      map[string]pendingCtx
}

// New builds a Gateway. Channels are registered afterward via
// RegisterChannel; cron jobs are added afterward via AddCronJob.
func New(
	cfg *config.Config,
	sessionsMgr *sessions.Manager,
	rtr *router.Router,
	registry *tools.Registry,
	policy *tools.PolicyEngine,
	channelsMgr *channels.Manager,
	provs map[string]providers.Provider,
	subagents *subagent.Registry,
) *Gateway {
	g := &Gateway{
		cfg:          cfg,
		sessionsMgr:  sessionsMgr,
		router:       rtr,
		registry:     registry,
		policy:       policy,
		channelsMgr:  channelsMgr,
		providers:    provs,
		subagents:    subagents,
		runners:      make(map[string]*agent.Runner),
		sessionLocks: make(map[string]*sync.Mutex),
		pending:      make(map[string]pendingCtx),
	}
	g.followupQ = followup.NewQueue(followup.ModeSteer, g.handleFollowup)
	g.announceQ = announce.NewQueue(g.triggerAnnounce)
	cronDir := filepath.Join(filepath.Dir(config.ExpandHome(cfg.Sessions.Storage)), "cron")
	g.cronSvc = cron.NewPersistentService(g.runCronJob, cfg.Cron.ToRetryConfig(), cronDir)
	return g
}

// RegisterChannel wires a channel adapter's inbound messages to the
// gateway and makes it available for outbound delivery.
func (g *Gateway) RegisterChannel(name string, ch channels.Channel) {
	g.channelsMgr.RegisterChannel(name, ch)
	ch.OnMessage(g.handleInbound)
}

// Start restarts any persisted cron jobs, starts the subagent archival
// sweeper, then starts all registered channels.
func (g *Gateway) Start(ctx context.Context) error {
	if err := g.cronSvc.LoadPersisted(ctx); err != nil {
		slog.Error("gateway: failed to reload persisted cron jobs", "error", err)
	}
	g.subagents.StartSweeper()
	return g.channelsMgr.StartAll(ctx)
}

// Stop stops the subagent sweeper and all registered channels.
func (g *Gateway) Stop(ctx context.Context) error {
	g.subagents.Stop()
	return g.channelsMgr.StopAll(ctx)
}

// AddCronJob schedules a recurring job.
func (g *Gateway) AddCronJob(ctx context.Context, job cron.Job) error {
	return g.cronSvc.Add(ctx, job)
}

// RemoveCronJob cancels a scheduled job.
func (g *Gateway) RemoveCronJob(jobID string) { g.cronSvc.Remove(jobID) }

// ListCronJobs returns the currently scheduled jobs.
func (g *Gateway) ListCronJobs() []cron.Job { return g.cronSvc.List() }

// ScheduleCronJob implements tools.GatewayRef: an agent uses this to set up
// its own recurring reminders or reports.
func (g *Gateway) ScheduleCronJob(jobID, agentID, expression, prompt, channel, to string) error {
	if jobID == "" {
		jobID = uuid.NewString()
	}
	return g.AddCronJob(context.Background(), cron.Job{
		ID:         jobID,
		AgentID:    agentID,
		Expression: expression,
		Prompt:     prompt,
		Channel:    channel,
		To:         to,
		CreatedAt:  time.Now(),
		Enabled:    true,
	})
}

// CancelCronJob implements tools.GatewayRef.
func (g *Gateway) CancelCronJob(jobID string) error {
	g.RemoveCronJob(jobID)
	return nil
}

// ListCronJobsFor implements tools.GatewayRef.
func (g *Gateway) ListCronJobsFor() []cron.Job { return g.ListCronJobs() }

// handleInbound is the bus.MessageHandler every channel calls directly on
// receipt. It resolves the session key and agent, stashes the destination
// for the FollowupQueue's callback, then lets the queue decide whether this
// message steers a live turn or starts a fresh one.
func (g *Gateway) handleInbound(msg bus.InboundMessage) {
	sessionKey := g.sessionKeyFor(msg)

	agentID := msg.AgentID
	if agentID == "" {
		agentID = g.resolveAgentID(msg)
	}

	g.mu.Lock()
	g.pending[sessionKey] = pendingCtx{channel: msg.Channel, to: msg.ChatID, agentID: agentID}
	g.mu.Unlock()

	g.followupQ.Enqueue(sessionKey, msg.Content)
}

// handleFollowup is the FollowupQueue's steer callback: inject into a live
// runner, or consume the stashed destination and start a fresh turn.
func (g *Gateway) handleFollowup(sessionKey, text string, isActive bool) {
	if isActive {
		if r := g.getCachedRunner(sessionKey); r != nil {
			r.Inject(text)
			return
		}
	}

	g.mu.Lock()
	pc, ok := g.pending[sessionKey]
	delete(g.pending, sessionKey)
	g.mu.Unlock()
	if !ok {
		slog.Warn("gateway: followup fired with no pending destination", "session", sessionKey)
		return
	}

	go g.runTurn(context.Background(), sessionKey, pc.agentID, pc.channel, pc.to, agent.SourceUser, text)
}

// sessionKeyFor derives the session key for an inbound message per the
// configured scoping rules.
func (g *Gateway) sessionKeyFor(msg bus.InboundMessage) string {
	kind := sessions.PeerKindFromGroup(msg.PeerKind == "group")
	return sessions.BuildScopedSessionKey(
		msg.Channel, kind, msg.ChatID, "",
		g.cfg.Sessions.Scope, g.cfg.Sessions.DmScope, g.cfg.Sessions.MainKey,
	)
}

// resolveAgentID runs the router against the configured bindings.
func (g *Gateway) resolveAgentID(msg bus.InboundMessage) string {
	var peer *config.BindingPeer
	if msg.PeerKind != "" {
		peer = &config.BindingPeer{Kind: msg.PeerKind, ID: msg.ChatID}
	}
	res := g.router.Resolve(g.cfg.Bindings, router.Input{
		Channel: msg.Channel,
		Peer:    peer,
		GuildID: msg.GuildID,
	}, g.cfg.ResolveDefaultAgentID())
	return res.AgentID
}

// runTurn drives one complete agent turn for sessionKey: build (or reuse)
// the runner, stream events to the channel if it supports them, run the
// loop, and deliver the final reply. Turns against the same sessionKey are
// serialized; turns against different sessions run concurrently.
func (g *Gateway) runTurn(ctx context.Context, sessionKey, agentID, channelName, to string, source agent.Source, content string) {
	lock := g.sessionLock(sessionKey)
	lock.Lock()
	defer lock.Unlock()

	g.followupQ.SetActive(sessionKey, true)
	defer g.followupQ.SetActive(sessionKey, false)

	r, err := g.newRunner(sessionKey, agentID, channelName, to, "user")
	if err != nil {
		slog.Error("gateway: build runner", "session", sessionKey, "error", err)
		return
	}
	g.cacheRunner(sessionKey, r)
	defer g.uncacheRunner(sessionKey)

	ch, hasChannel := g.channelsMgr.GetChannel(channelName)
	if hasChannel {
		if typing, ok := ch.(channels.TypingChannel); ok {
			_ = typing.SendTyping(ctx, to)
		}
	}

	cb := agent.Callbacks{}
	if hasChannel {
		if streaming, ok := ch.(channels.StreamingChannel); ok {
			cb.OnChunk = func(text string) { _ = streaming.SendChunk(ctx, to, text) }
			cb.OnToolCall = func(name, id string) { _ = streaming.SendToolCall(ctx, to, name) }
			cb.OnToolResult = func(name, id string, result *tools.Result) {
				summary := result.ForLLM
				if result.ForUser != "" {
					summary = result.ForUser
				}
				_ = streaming.SendToolResult(ctx, to, name, summary)
			}
		}
	}

	final, err := r.Run(ctx, agent.RunInput{Source: source, Content: content}, cb)
	if err != nil {
		slog.Error("gateway: run failed", "session", sessionKey, "error", err)
		if hasChannel {
			_ = ch.Send(ctx, bus.OutboundMessage{Channel: channelName, ChatID: to, Content: fmt.Sprintf("Error: %v", err)})
		}
		return
	}
	if isSuppressed(final) {
		return
	}
	if !hasChannel {
		slog.Warn("gateway: no channel registered to deliver final reply", "channel", channelName, "session", sessionKey)
		return
	}
	if err := ch.Send(ctx, bus.OutboundMessage{Channel: channelName, ChatID: to, Content: final}); err != nil {
		slog.Error("gateway: delivery failed", "session", sessionKey, "channel", channelName, "error", err)
	}
}

func isSuppressed(final string) bool {
	return final == agent.SentinelNoReply || final == agent.SentinelDone || final == agent.SentinelAborted
}

// newRunner resolves an agent's configuration and filtered tool set and
// builds a Runner for sessionKey. role is "user", "subagent", or "cron" and
// controls the system prompt's framing and the subagent tool-policy cut.
func (g *Gateway) newRunner(sessionKey, agentID, channelName, to, role string) (*agent.Runner, error) {
	defaults := g.cfg.ResolveAgent(agentID)
	isSubagent := role == "subagent"

	model := defaults.Model
	subCfg := g.cfg.Agents.Defaults.Subagents
	if isSubagent && subCfg != nil && subCfg.Model != "" {
		model = subCfg.Model
	}

	prov, ok := g.providers[defaults.Provider]
	if !ok {
		return nil, fmt.Errorf("no provider configured for %q", defaults.Provider)
	}

	var agentToolPolicy *config.ToolPolicySpec
	if spec, ok := g.cfg.Agents.List[agentID]; ok {
		agentToolPolicy = spec.Tools
	}

	isLeaf := false
	if isSubagent {
		maxDepth := 1
		if subCfg != nil && subCfg.MaxSpawnDepth > 0 {
			maxDepth = subCfg.MaxSpawnDepth
		}
		isLeaf = maxDepth <= 1
	}

	defs := g.policy.FilterTools(g.registry, agentID, prov.Name(), agentToolPolicy, nil, isSubagent, isLeaf)
	allowed := make([]string, 0, len(defs))
	for _, d := range defs {
		allowed = append(allowed, d.Function.Name)
	}

	return agent.NewRunner(agent.Config{
		SessionKey:   sessionKey,
		AgentID:      agentID,
		Channel:      channelName,
		To:           to,
		IsSubagent:   isSubagent,
		SystemPrompt: g.buildSystemPrompt(agentID, role),
		Provider:     prov,
		Model:        model,
		Registry:     g.registry,
		AllowedTools: allowed,
		Sessions:     g.sessionsMgr,
	}), nil
}

// buildSystemPrompt composes an agent's system prompt from its identity and
// workspace configuration, plus role-specific operating instructions.
func (g *Gateway) buildSystemPrompt(agentID, role string) string {
	defaults := g.cfg.ResolveAgent(agentID)
	name := g.cfg.ResolveDisplayName(agentID)

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, an AI assistant", name)
	if spec, ok := g.cfg.Agents.List[agentID]; ok && spec.Identity != nil && spec.Identity.Emoji != "" {
		fmt.Fprintf(&b, " %s", spec.Identity.Emoji)
	}
	b.WriteString(".\n\n")
	fmt.Fprintf(&b, "Workspace: %s\n", defaults.Workspace)
	b.WriteString("Use tools when they help answer the request; don't narrate a tool call before making it. Keep replies concise for a chat interface.\n")

	switch role {
	case "subagent":
		b.WriteString("\nYou are a background subagent working on a task delegated by another conversation. Complete it without asking clarifying questions — use your best judgement on anything ambiguous. Your final reply is summarized back to the requester automatically; you don't need to send it yourself.\n")
	case "cron":
		b.WriteString("\nYou are running a scheduled task with no one watching interactively. Do not ask clarifying questions. This turn must not end without delivering its result via the sessions_send tool.\n")
	}
	return b.String()
}

// runCronJob is the cron.RunFunc: it builds a fresh runner for every fire
// (never reused across runs) and requires the run to self-deliver via
// sessions_send, since "cron" has no channel adapter to push a reply
// through automatically.
func (g *Gateway) runCronJob(ctx context.Context, job cron.Job, runID string) error {
	sessionKey := sessions.BuildCronSessionKey(job.ID)
	agentID := job.AgentID
	if agentID == "" {
		agentID = g.cfg.ResolveDefaultAgentID()
	}

	r, err := g.newRunner(sessionKey, agentID, job.Channel, job.To, "cron")
	if err != nil {
		return fmt.Errorf("cron: build runner: %w", err)
	}

	content := fmt.Sprintf(
		"%s\n\n(Deliver the result with the sessions_send tool, channel=%q; this run has no other way to reach the user.)",
		job.Prompt, job.Channel,
	)

	final, err := r.Run(ctx, agent.RunInput{Source: agent.SourceCron, Content: content}, agent.Callbacks{})
	if err != nil {
		return fmt.Errorf("cron run failed: %w", err)
	}
	if final == agent.SentinelAborted {
		return fmt.Errorf("cron run aborted")
	}
	slog.Info("cron job completed", "job", job.ID, "run", runID)
	return nil
}

// SendToSession implements tools.GatewayRef: it appends text to sessionKey's
// transcript as an assistant entry and pushes it through the channel
// without running another agent turn. channel overrides the session's
// recorded channel when non-empty.
func (g *Gateway) SendToSession(sessionKey, channel, text string) error {
	s, ok := g.sessionsMgr.FindByKey(sessionKey)
	if !ok {
		return fmt.Errorf("no session for key %q", sessionKey)
	}
	destChannel := channel
	if destChannel == "" {
		destChannel = s.Channel
	}
	if err := g.sessionsMgr.Append(s, sessions.TranscriptEntry{Role: sessions.RoleAssistant, Content: text}); err != nil {
		return fmt.Errorf("append sent message: %w", err)
	}
	return g.channelsMgr.SendToChannel(context.Background(), destChannel, s.To, text)
}

// triggerAnnounce implements announce.TriggerFunc: the re-entry path a
// composed subagent announcement uses to reach its requester session.
func (g *Gateway) triggerAnnounce(sessionKey, channel, message string) announce.TriggerResult {
	if r := g.getCachedRunner(sessionKey); r != nil && r.IsActive() {
		r.Inject(message)
		return announce.TriggerSteered
	}

	s, ok := g.sessionsMgr.FindByKey(sessionKey)
	if !ok {
		slog.Warn("gateway: announce target session missing", "session", sessionKey)
		return announce.TriggerFailed
	}
	channelName := channel
	if channelName == "" {
		channelName = s.Channel
	}
	go g.runTurn(context.Background(), sessionKey, s.AgentID, channelName, s.To, agent.SourceSubagentAnnounce, message)
	return announce.TriggerInvoked
}

// SpawnSubagent implements tools.GatewayRef: it registers a background run
// and starts it on its own goroutine, returning immediately.
func (g *Gateway) SpawnSubagent(requesterSessionKey, task, label, cleanup string) (string, error) {
	cleanupVal := subagent.CleanupDelete
	if cleanup == "keep" {
		cleanupVal = subagent.CleanupKeep
	}

	childSessionKey := sessions.BuildSubagentSessionKey(uuid.NewString())
	run, err := g.subagents.Register(subagent.RegisterParams{
		ChildSessionKey:     childSessionKey,
		RequesterSessionKey: requesterSessionKey,
		Task:                task,
		Label:               label,
		Cleanup:             cleanupVal,
	})
	if err != nil {
		return "", err
	}

	go g.runSubagent(run)
	return run.RunID, nil
}

func (g *Gateway) runSubagent(run *subagent.Run) {
	start := time.Now()
	if err := g.subagents.MarkStarted(run.RunID); err != nil {
		slog.Error("gateway: mark subagent started", "run", run.RunID, "error", err)
	}

	agentID := g.cfg.ResolveDefaultAgentID()
	channelName, to := "", ""
	if s, ok := g.sessionsMgr.FindByKey(run.RequesterSessionKey); ok {
		agentID = s.AgentID
		channelName = s.Channel
		to = s.To
	}

	var outcome subagent.Outcome
	var errMsg, findings string

	r, err := g.newRunner(run.ChildSessionKey, agentID, channelName, to, "subagent")
	if err != nil {
		outcome = subagent.OutcomeError
		errMsg = err.Error()
	} else {
		final, runErr := r.Run(context.Background(), agent.RunInput{Source: agent.SourceUser, Content: run.Task}, agent.Callbacks{})
		switch {
		case runErr != nil:
			outcome = subagent.OutcomeError
			errMsg = runErr.Error()
		case final == agent.SentinelAborted:
			outcome = subagent.OutcomeError
			errMsg = "subagent run aborted"
		default:
			outcome = subagent.OutcomeOK
			findings = g.lastAssistantEntry(run.ChildSessionKey)
		}
	}

	if err := g.subagents.MarkCompleted(run.RunID, outcome, errMsg); err != nil {
		slog.Error("gateway: mark subagent completed", "run", run.RunID, "error", err)
	}

	g.announceQ.Enqueue(run.RequesterSessionKey, announce.Item{
		Label:    run.Label,
		Outcome:  string(outcome),
		Err:      errMsg,
		Findings: findings,
		Duration: time.Since(start),
		Channel:  channelName,
	})

	if err := g.subagents.FinalizeCleanup(run.RunID, true); err != nil {
		slog.Error("gateway: finalize subagent cleanup", "run", run.RunID, "error", err)
	}
	if run.Cleanup == subagent.CleanupDelete {
		if err := g.sessionsMgr.Delete(run.ChildSessionKey); err != nil {
			slog.Warn("gateway: delete child session", "session", run.ChildSessionKey, "error", err)
		}
	}
}

func (g *Gateway) lastAssistantEntry(sessionKey string) string {
	s, ok := g.sessionsMgr.FindByKey(sessionKey)
	if !ok {
		return ""
	}
	entries, err := g.sessionsMgr.LoadTranscript(s.SessionID)
	if err != nil {
		return ""
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Role == sessions.RoleAssistant && entries[i].Content != "" {
			return entries[i].Content
		}
	}
	return ""
}

func (g *Gateway) cacheRunner(sessionKey string, r *agent.Runner) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.runners[sessionKey] = r
}

func (g *Gateway) uncacheRunner(sessionKey string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.runners, sessionKey)
}

func (g *Gateway) getCachedRunner(sessionKey string) *agent.Runner {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.runners[sessionKey]
}

func (g *Gateway) sessionLock(sessionKey string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.sessionLocks[sessionKey]
	if !ok {
		l = &sync.Mutex{}
		g.sessionLocks[sessionKey] = l
	}
	return l
}
