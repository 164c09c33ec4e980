package sessions

import "fmt"

// PeerKind distinguishes DM from group conversations.
type PeerKind string

const (
	PeerDirect PeerKind = "direct"
	PeerGroup  PeerKind = "group"
)

// BuildSessionKey builds the full, unscoped session key for a channel
// conversation: "{channel}:{kind}:{peerID}" for direct messages and
// "{channel}:group:{peerID}" for group chats.
func BuildSessionKey(channel string, kind PeerKind, peerID string) string {
	return fmt.Sprintf("%s:%s:%s", channel, kind, peerID)
}

// BuildSubagentSessionKey builds a subagent's child session key. Always
// prefixed "subagent:" per the session-key convention the rest of the
// system relies on to recognise subagent contexts.
func BuildSubagentSessionKey(runID string) string {
	return "subagent:" + runID
}

// BuildCronSessionKey builds a cron job's session key.
func BuildCronSessionKey(jobID string) string {
	return "cron:" + jobID
}

// BuildMainSessionKey builds the shared "main" session key used when
// dmScope="main" — all of an account's DMs collapse onto one session.
func BuildMainSessionKey(mainKey string) string {
	if mainKey == "" {
		mainKey = "main"
	}
	return "main:" + mainKey
}

// BuildScopedSessionKey resolves the session key for an inbound channel
// message according to the configured scope and, for DMs, dmScope:
//
//	scope="global"               -> "global"
//	group messages                -> always the full key, scope/dmScope ignored
//	dmScope="main"                -> BuildMainSessionKey(mainKey)
//	dmScope="per-peer"            -> "direct:{peerID}"
//	dmScope="per-channel-peer"    -> "{channel}:direct:{peerID}"  (default)
//	dmScope="per-account-channel-peer" -> "{channel}:{accountID}:direct:{peerID}"
func BuildScopedSessionKey(channel string, kind PeerKind, peerID, accountID, scope, dmScope, mainKey string) string {
	if scope == "global" {
		return "global"
	}
	if kind == PeerGroup {
		return BuildSessionKey(channel, kind, peerID)
	}

	switch dmScope {
	case "main":
		return BuildMainSessionKey(mainKey)
	case "per-peer":
		return fmt.Sprintf("direct:%s", peerID)
	case "per-account-channel-peer":
		if accountID == "" {
			return BuildSessionKey(channel, kind, peerID)
		}
		return fmt.Sprintf("%s:%s:direct:%s", channel, accountID, peerID)
	default: // "per-channel-peer" or empty
		return BuildSessionKey(channel, kind, peerID)
	}
}

// IsSubagentSession reports whether key identifies a subagent session.
func IsSubagentSession(key string) bool {
	return len(key) >= len("subagent:") && key[:len("subagent:")] == "subagent:"
}

// IsCronSession reports whether key identifies a cron session.
func IsCronSession(key string) bool {
	return len(key) >= len("cron:") && key[:len("cron:")] == "cron:"
}

// PeerKindFromGroup returns PeerGroup if isGroup is true, PeerDirect otherwise.
func PeerKindFromGroup(isGroup bool) PeerKind {
	if isGroup {
		return PeerGroup
	}
	return PeerDirect
}
