package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/san-tian/miniclaw/internal/providers"
)

// ToolContext carries the per-call values a tool needs to act on behalf of
// the session that invoked it. It is passed explicitly on every Execute
// call rather than smuggled through context.Value, so a tool's dependency
// on "which session/channel am I running in" is visible in its signature.
type ToolContext struct {
	SessionKey string
	Channel    string
	To         string // destination identifier on the channel (chat id, peer id)
	AgentID    string
}

// AsyncCallback lets a tool that returns immediately (Result.Async) deliver
// its eventual output back into the originating session once work finishes
// off the critical path of the tool-calling loop.
type AsyncCallback func(ctx context.Context, tc ToolContext, result *Result)

// Tool is the contract every built-in tool implements.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}, tc ToolContext) *Result
}

// Registry holds the set of tools available to agents in this process.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all registered tool names, sorted for deterministic output.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute looks up a tool by name and runs it, converting a missing tool
// into an error Result instead of panicking the caller.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}, tc ToolContext) *Result {
	tool, ok := r.Get(name)
	if !ok {
		return ErrorResult(fmt.Sprintf("unknown tool: %s", name))
	}
	return tool.Execute(ctx, args, tc)
}

// ToProviderDef converts a Tool's schema into the wire shape the provider
// clients send as part of a chat request.
func ToProviderDef(t Tool) providers.ToolDefinition {
	return providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		},
	}
}
