// Package router resolves an incoming message's channel/account/peer/guild
// coordinates to the agent that should handle it.
package router

import (
	"sort"

	"github.com/san-tian/miniclaw/internal/config"
)

// Input describes the coordinates of an incoming message to match against
// the binding list.
type Input struct {
	Channel   string
	AccountID string
	Peer      *config.BindingPeer
	GuildID   string
	TeamID    string
}

// MatchedBy names which tier of the matching order produced a Resolution.
type MatchedBy string

const (
	MatchedByPeer      MatchedBy = "peer"
	MatchedByGuild     MatchedBy = "guild"
	MatchedByTeam      MatchedBy = "team"
	MatchedByAccount   MatchedBy = "account"
	MatchedByChannel   MatchedBy = "channel-default"
	MatchedByDefault   MatchedBy = "default"
)

// Resolution is the outcome of resolving an Input to an agent.
type Resolution struct {
	AgentID   string
	MatchedBy MatchedBy
}

// Router resolves routing bindings. It holds no mutable state of its own;
// callers pass the current binding list on every call so config reloads
// take effect without needing to rebuild the Router.
type Router struct{}

func New() *Router {
	return &Router{}
}

// Resolve walks bindings in matching-tier order — peer, then guild, then
// team, then account-only, then channel-default, then fallback to
// defaultAgentID — and within each tier picks the lowest Priority,
// breaking ties by position in the list.
func (r *Router) Resolve(bindings []config.AgentBinding, in Input, defaultAgentID string) Resolution {
	sameChannel := make([]config.AgentBinding, 0, len(bindings))
	for _, b := range bindings {
		if b.Match.Channel == in.Channel {
			sameChannel = append(sameChannel, b)
		}
	}

	if b, ok := bestMatch(sameChannel, func(m config.BindingMatch) bool {
		return m.Peer != nil && in.Peer != nil && m.Peer.Kind == in.Peer.Kind && m.Peer.ID == in.Peer.ID
	}); ok {
		return Resolution{AgentID: b.AgentID, MatchedBy: MatchedByPeer}
	}

	if b, ok := bestMatch(sameChannel, func(m config.BindingMatch) bool {
		return m.GuildID != "" && m.GuildID == in.GuildID
	}); ok {
		return Resolution{AgentID: b.AgentID, MatchedBy: MatchedByGuild}
	}

	if b, ok := bestMatch(sameChannel, func(m config.BindingMatch) bool {
		return m.TeamID != "" && m.TeamID == in.TeamID
	}); ok {
		return Resolution{AgentID: b.AgentID, MatchedBy: MatchedByTeam}
	}

	if b, ok := bestMatch(sameChannel, func(m config.BindingMatch) bool {
		return m.Peer == nil && m.GuildID == "" && m.AccountID != "" && m.AccountID != "*" && m.AccountID == in.AccountID
	}); ok {
		return Resolution{AgentID: b.AgentID, MatchedBy: MatchedByAccount}
	}

	if b, ok := bestMatch(sameChannel, func(m config.BindingMatch) bool {
		return m.Peer == nil && m.GuildID == "" && (m.AccountID == "" || m.AccountID == "*")
	}); ok {
		return Resolution{AgentID: b.AgentID, MatchedBy: MatchedByChannel}
	}

	return Resolution{AgentID: defaultAgentID, MatchedBy: MatchedByDefault}
}

// bestMatch returns the lowest-priority (then earliest-inserted) binding
// among those satisfying pred.
func bestMatch(bindings []config.AgentBinding, pred func(config.BindingMatch) bool) (config.AgentBinding, bool) {
	type candidate struct {
		binding config.AgentBinding
		index   int
	}
	var candidates []candidate
	for i, b := range bindings {
		if pred(b.Match) {
			candidates = append(candidates, candidate{b, i})
		}
	}
	if len(candidates) == 0 {
		return config.AgentBinding{}, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].binding.Priority != candidates[j].binding.Priority {
			return candidates[i].binding.Priority < candidates[j].binding.Priority
		}
		return candidates[i].index < candidates[j].index
	})
	return candidates[0].binding, true
}
