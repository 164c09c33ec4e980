package config

// ChannelsConfig contains per-channel configuration.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
	Terminal TerminalConfig `json:"terminal"`
}

type TelegramConfig struct {
	Enabled        bool                `json:"enabled"`
	Token          string              `json:"token"`
	Proxy          string              `json:"proxy,omitempty"`
	AllowFrom      FlexibleStringSlice `json:"allow_from"`
	DMPolicy       string              `json:"dm_policy,omitempty"`       // "allowlist" (default), "open", "disabled"
	GroupPolicy    string              `json:"group_policy,omitempty"`    // "open" (default), "allowlist", "disabled"
	RequireMention *bool               `json:"require_mention,omitempty"` // require @bot mention in groups (default true)
	MediaMaxBytes  int64               `json:"media_max_bytes,omitempty"` // max media download size (default 20MB)
}

type DiscordConfig struct {
	Enabled        bool                `json:"enabled"`
	Token          string              `json:"token"`
	AllowFrom      FlexibleStringSlice `json:"allow_from"`
	DMPolicy       string              `json:"dm_policy,omitempty"`
	GroupPolicy    string              `json:"group_policy,omitempty"`
	RequireMention *bool               `json:"require_mention,omitempty"`
}

// TerminalConfig configures the interactive WebSocket terminal channel.
type TerminalConfig struct {
	Enabled      bool   `json:"enabled"`
	Addr         string `json:"addr,omitempty"` // listen address, e.g. ":8765"
	Token        string `json:"token,omitempty"`
	RateLimitRPM int    `json:"rate_limit_rpm,omitempty"` // per-connection-address budget; falls back to Gateway.RateLimitRPM
}

// ProvidersConfig maps provider name to its config.
type ProvidersConfig struct {
	Anthropic ProviderConfig `json:"anthropic"`
	OpenAI    ProviderConfig `json:"openai"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key"`
	APIBase string `json:"api_base,omitempty"`
}

// HasAnyProvider returns true if at least one provider has an API key configured.
func (c *Config) HasAnyProvider() bool {
	p := c.Providers
	return p.Anthropic.APIKey != "" || p.OpenAI.APIKey != ""
}

// GatewayConfig controls the gateway server.
type GatewayConfig struct {
	Host              string   `json:"host"`
	Port              int      `json:"port"`
	Token             string   `json:"token,omitempty"`
	OwnerIDs          []string `json:"owner_ids,omitempty"`
	AllowedOrigins    []string `json:"allowed_origins,omitempty"`
	MaxMessageChars   int      `json:"max_message_chars,omitempty"`
	RateLimitRPM      int      `json:"rate_limit_rpm,omitempty"`
	InjectionAction   string   `json:"injection_action,omitempty"`
	InboundDebounceMs int      `json:"inbound_debounce_ms,omitempty"`
}

// ToolsConfig controls tool availability and policy.
type ToolsConfig struct {
	Profile          string                     `json:"profile,omitempty"`
	Allow            []string                   `json:"allow,omitempty"`
	Deny             []string                   `json:"deny,omitempty"`
	AlsoAllow        []string                   `json:"alsoAllow,omitempty"`
	ByProvider       map[string]*ToolPolicySpec `json:"byProvider,omitempty"`
	RateLimitPerHour int                        `json:"rate_limit_per_hour,omitempty"`
	ScrubCredentials *bool                      `json:"scrub_credentials,omitempty"`
}

// ToolPolicySpec defines a tool policy at any level (global, per-agent, per-provider).
type ToolPolicySpec struct {
	Profile    string                     `json:"profile,omitempty"`
	Allow      []string                   `json:"allow,omitempty"`
	Deny       []string                   `json:"deny,omitempty"`
	AlsoAllow  []string                   `json:"alsoAllow,omitempty"`
	ByProvider map[string]*ToolPolicySpec `json:"byProvider,omitempty"`
}

// SessionsConfig controls session persistence and session-key scoping.
type SessionsConfig struct {
	Storage string `json:"storage"`            // directory for session/transcript files
	Scope   string `json:"scope,omitempty"`    // "per-sender" (default), "global"
	DmScope string `json:"dm_scope,omitempty"` // "main", "per-peer", "per-channel-peer" (default), "per-account-channel-peer"
	MainKey string `json:"main_key,omitempty"` // main session key suffix (default "main")
}
