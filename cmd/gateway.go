package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/san-tian/miniclaw/internal/bootstrap"
	"github.com/san-tian/miniclaw/internal/channels"
	"github.com/san-tian/miniclaw/internal/channels/discord"
	"github.com/san-tian/miniclaw/internal/channels/telegram"
	"github.com/san-tian/miniclaw/internal/channels/terminal"
	"github.com/san-tian/miniclaw/internal/config"
	"github.com/san-tian/miniclaw/internal/gateway"
	"github.com/san-tian/miniclaw/internal/providers"
	"github.com/san-tian/miniclaw/internal/router"
	"github.com/san-tian/miniclaw/internal/sessions"
	"github.com/san-tian/miniclaw/internal/subagent"
	"github.com/san-tian/miniclaw/internal/tools"
)

// runGateway loads configuration, wires every layer together and blocks
// until interrupted. This is the process's single composition root.
func runGateway() {
	initLogging()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg.ApplyEnvOverrides()

	if !cfg.HasAnyProvider() {
		slog.Error("no model provider configured (set providers.anthropic.api_key or providers.openai.api_key)")
		os.Exit(1)
	}

	workspace := cfg.WorkspacePath()
	if _, err := bootstrap.EnsureWorkspaceFiles(workspace); err != nil {
		slog.Warn("failed to seed workspace templates", "error", err)
	}

	sessionsDir := config.ExpandHome(cfg.Sessions.Storage)
	sessionsMgr := sessions.NewManager(sessionsDir)

	subagentDir := filepath.Join(filepath.Dir(sessionsDir), "subagents")
	archiveAfter := 60
	if sub := cfg.Agents.Defaults.Subagents; sub != nil && sub.ArchiveAfterMinutes > 0 {
		archiveAfter = sub.ArchiveAfterMinutes
	}
	subagents := subagent.NewRegistry(subagentDir, archiveAfter)
	if err := subagents.Load(); err != nil {
		slog.Warn("failed to load subagent records", "error", err)
	}

	rtr := router.New()
	registry := tools.NewRegistry()
	policy := tools.NewPolicyEngine(&cfg.Tools)
	channelsMgr := channels.NewManager()
	provs := buildProviders(cfg)

	registerCoreTools(registry, sessionsMgr, workspace, cfg.Agents.Defaults.RestrictToWorkspace)

	gw := gateway.New(cfg, sessionsMgr, rtr, registry, policy, channelsMgr, provs, subagents)

	// sessions_send, subagent_spawn and the cron tools all call back into
	// the gateway, so they can only be registered once it exists.
	registry.Register(tools.NewSessionsSendTool(gw))
	registry.Register(tools.NewSubagentSpawnTool(gw))
	registry.Register(tools.NewCronScheduleTool(gw))
	registry.Register(tools.NewCronCancelTool(gw))
	registry.Register(tools.NewCronListTool(gw))

	registerChannels(gw, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := gw.Start(ctx); err != nil {
		slog.Error("failed to start gateway", "error", err)
		os.Exit(1)
	}
	slog.Info("miniclaw gateway running", "workspace", workspace)

	<-ctx.Done()
	slog.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := gw.Stop(stopCtx); err != nil {
		slog.Error("error during shutdown", "error", err)
	}
}

func initLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// buildProviders constructs one providers.Provider per configured model
// backend, keyed by the name agent configs reference in agents.defaults.provider.
func buildProviders(cfg *config.Config) map[string]providers.Provider {
	provs := make(map[string]providers.Provider)
	if key := cfg.Providers.Anthropic.APIKey; key != "" {
		var opts []providers.AnthropicOption
		if cfg.Providers.Anthropic.APIBase != "" {
			opts = append(opts, providers.WithAnthropicBaseURL(cfg.Providers.Anthropic.APIBase))
		}
		provs["anthropic"] = providers.NewAnthropicProvider(key, opts...)
	}
	if key := cfg.Providers.OpenAI.APIKey; key != "" {
		provs["openai"] = providers.NewOpenAIProvider("openai", key, cfg.Providers.OpenAI.APIBase, "gpt-4o")
	}
	return provs
}

// registerCoreTools wires the tools that need no callback into the gateway:
// filesystem, shell, web and session-introspection tools.
func registerCoreTools(registry *tools.Registry, sessionsMgr *sessions.Manager, workspace string, restrict bool) {
	registry.Register(tools.NewReadFileTool(workspace, restrict))
	registry.Register(tools.NewWriteFileTool(workspace, restrict))
	registry.Register(tools.NewListFilesTool(workspace, restrict))
	registry.Register(tools.NewExecTool(workspace, restrict))
	registry.Register(tools.NewWebFetchTool(tools.WebFetchConfig{}))
	registry.Register(tools.NewSessionStatusTool(sessionsMgr))
	registry.Register(tools.NewSessionsListTool(sessionsMgr))
	registry.Register(tools.NewSessionsHistoryTool(sessionsMgr))
}

// registerChannels constructs and registers every enabled channel adapter.
func registerChannels(gw *gateway.Gateway, cfg *config.Config) {
	if cfg.Channels.Telegram.Enabled {
		ch, err := telegram.New(cfg.Channels.Telegram)
		if err != nil {
			slog.Error("failed to create telegram channel", "error", err)
		} else {
			gw.RegisterChannel("telegram", ch)
		}
	}
	if cfg.Channels.Discord.Enabled {
		ch, err := discord.New(cfg.Channels.Discord)
		if err != nil {
			slog.Error("failed to create discord channel", "error", err)
		} else {
			gw.RegisterChannel("discord", ch)
		}
	}
	if cfg.Channels.Terminal.Enabled {
		termCfg := cfg.Channels.Terminal
		if termCfg.RateLimitRPM == 0 {
			termCfg.RateLimitRPM = cfg.Gateway.RateLimitRPM
		}
		ch, err := terminal.New(termCfg)
		if err != nil {
			slog.Error("failed to create terminal channel", "error", err)
		} else {
			gw.RegisterChannel("terminal", ch)
		}
	}
	if !cfg.Channels.Telegram.Enabled && !cfg.Channels.Discord.Enabled && !cfg.Channels.Terminal.Enabled {
		slog.Warn("no channels enabled; the gateway will run with nothing to talk to")
	}
}
