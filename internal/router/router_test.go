package router

import (
	"testing"

	"github.com/san-tian/miniclaw/internal/config"
)

func TestRouter_Resolve_MatchingOrder(t *testing.T) {
	bindings := []config.AgentBinding{
		{AgentID: "channel-default", Match: config.BindingMatch{Channel: "telegram"}, Priority: 10},
		{AgentID: "account-agent", Match: config.BindingMatch{Channel: "telegram", AccountID: "acct1"}, Priority: 5},
		{AgentID: "guild-agent", Match: config.BindingMatch{Channel: "discord", GuildID: "g1"}, Priority: 5},
		{AgentID: "peer-agent", Match: config.BindingMatch{Channel: "telegram", Peer: &config.BindingPeer{Kind: "direct", ID: "u1"}}, Priority: 20},
	}
	r := New()

	tests := []struct {
		name string
		in   Input
		want Resolution
	}{
		{
			name: "peer beats everything even with worse priority",
			in:   Input{Channel: "telegram", AccountID: "acct1", Peer: &config.BindingPeer{Kind: "direct", ID: "u1"}},
			want: Resolution{AgentID: "peer-agent", MatchedBy: MatchedByPeer},
		},
		{
			name: "guild match on discord",
			in:   Input{Channel: "discord", GuildID: "g1"},
			want: Resolution{AgentID: "guild-agent", MatchedBy: MatchedByGuild},
		},
		{
			name: "account match when no peer given",
			in:   Input{Channel: "telegram", AccountID: "acct1"},
			want: Resolution{AgentID: "account-agent", MatchedBy: MatchedByAccount},
		},
		{
			name: "channel default when only channel matches",
			in:   Input{Channel: "telegram", AccountID: "other"},
			want: Resolution{AgentID: "channel-default", MatchedBy: MatchedByChannel},
		},
		{
			name: "fallback to global default for unknown channel",
			in:   Input{Channel: "unknown"},
			want: Resolution{AgentID: "fallback", MatchedBy: MatchedByDefault},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Resolve(bindings, tt.in, "fallback")
			if got != tt.want {
				t.Errorf("Resolve() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRouter_Resolve_PriorityBreaksTie(t *testing.T) {
	bindings := []config.AgentBinding{
		{AgentID: "low-priority-wins", Match: config.BindingMatch{Channel: "telegram"}, Priority: 1},
		{AgentID: "high-priority-number-loses", Match: config.BindingMatch{Channel: "telegram"}, Priority: 5},
	}
	r := New()
	got := r.Resolve(bindings, Input{Channel: "telegram"}, "fallback")
	if got.AgentID != "low-priority-wins" {
		t.Errorf("expected lowest priority number to win, got %s", got.AgentID)
	}
}
