package sessions

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/san-tian/miniclaw/internal/store"
)

// Manager owns the session metadata index and per-session transcript logs
// rooted at a storage directory. Metadata lives in metaDir as one JSON file
// per sessionKey; transcripts live in transcriptDir as one append-only
// JSONL file per sessionId.
type Manager struct {
	meta          *store.KeyedStore[Session]
	transcriptDir string

	mu        sync.Mutex
	appendFMu map[string]*sync.Mutex
}

func NewManager(storageDir string) *Manager {
	metaDir := filepath.Join(storageDir, "meta")
	transcriptDir := filepath.Join(storageDir, "transcripts")
	m := &Manager{
		meta:          store.NewKeyedStore[Session](metaDir, newSession),
		transcriptDir: transcriptDir,
		appendFMu:     make(map[string]*sync.Mutex),
	}
	return m
}

// Load rebuilds the in-memory metadata index from disk at startup.
func (m *Manager) Load() error {
	return m.meta.LoadAll(func(s *Session) string { return s.SessionKey })
}

// FindByKey returns the session for sessionKey if one already exists.
func (m *Manager) FindByKey(sessionKey string) (*Session, bool) {
	return m.meta.Peek(sessionKey)
}

// GetOrCreate returns the existing session for sessionKey, or creates and
// persists a new one. At most one session exists per sessionKey. "to" is
// the channel-specific destination identifier (chat id, peer id) used to
// route re-entry deliveries (followups, announcements) back to the right
// place; it is refreshed on every call so a peer's current destination
// always wins even if the session predates it.
func (m *Manager) GetOrCreate(sessionKey, agentID, channel, to string) (*Session, error) {
	s := m.meta.GetOrCreate(sessionKey)
	dirty := false
	if s.AgentID == "" {
		s.AgentID = agentID
		s.Channel = channel
		dirty = true
	}
	if to != "" && s.To != to {
		s.To = to
		dirty = true
	}
	if dirty {
		if err := m.meta.Save(sessionKey); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Create always starts a fresh session for sessionKey, overwriting any
// existing one, and writes its mandatory leading system entry.
func (m *Manager) Create(sessionKey, agentID, channel, to, systemPrompt string) (*Session, error) {
	if _, ok := m.meta.Peek(sessionKey); ok {
		m.meta.Delete(sessionKey)
	}
	s := m.meta.GetOrCreate(sessionKey)
	s.AgentID = agentID
	s.Channel = channel
	s.To = to
	if err := m.meta.Save(sessionKey); err != nil {
		return nil, err
	}
	if err := m.resetTranscript(s.SessionID); err != nil {
		return nil, err
	}
	if err := m.Append(s, TranscriptEntry{Role: RoleSystem, Content: systemPrompt}); err != nil {
		return nil, err
	}
	return s, nil
}

func (m *Manager) transcriptPath(sessionID string) string {
	return filepath.Join(m.transcriptDir, store.SanitizeFilename(sessionID)+".jsonl")
}

func (m *Manager) resetTranscript(sessionID string) error {
	if err := os.MkdirAll(m.transcriptDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(m.transcriptPath(sessionID), nil, 0o644)
}

func (m *Manager) appendLock(sessionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.appendFMu[sessionID]
	if !ok {
		l = &sync.Mutex{}
		m.appendFMu[sessionID] = l
	}
	return l
}

// Append adds entry to the session's transcript and advances its metadata.
// The write is a single O_APPEND write of one JSON line, serialized per
// session so concurrent turns never interleave partial lines.
func (m *Manager) Append(s *Session, entry TranscriptEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	lock := m.appendLock(s.SessionID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(m.transcriptDir, 0o755); err != nil {
		return err
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(m.transcriptPath(s.SessionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("append entry: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync transcript: %w", err)
	}

	s.MessageCount++
	s.UpdatedAt = entry.Timestamp
	return m.meta.Save(s.SessionKey)
}

// LoadTranscript reads all entries for a session in order. Lines that fail
// to parse (a truncated write from a crash mid-append) are skipped rather
// than failing the whole load.
func (m *Manager) LoadTranscript(sessionID string) ([]TranscriptEntry, error) {
	f, err := os.Open(m.transcriptPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var entries []TranscriptEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e TranscriptEntry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Delete removes a session's metadata and transcript entirely.
func (m *Manager) Delete(sessionKey string) error {
	s, ok := m.meta.Peek(sessionKey)
	if !ok {
		return nil
	}
	if err := m.meta.Delete(sessionKey); err != nil {
		return err
	}
	path := m.transcriptPath(s.SessionID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ListFilter narrows List results; zero-value fields match anything.
type ListFilter struct {
	AgentID string
	Channel string
}

// List returns sessions matching filter, sorted by UpdatedAt descending.
func (m *Manager) List(filter ListFilter) []*Session {
	keys := m.meta.Keys()
	out := make([]*Session, 0, len(keys))
	for _, k := range keys {
		s, ok := m.meta.Peek(k)
		if !ok {
			continue
		}
		if filter.AgentID != "" && s.AgentID != filter.AgentID {
			continue
		}
		if filter.Channel != "" && s.Channel != filter.Channel {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Save persists the current in-memory state of a session's metadata, for
// callers that mutate fields (title, token accounting) outside of Append.
func (m *Manager) Save(s *Session) error {
	return m.meta.Save(s.SessionKey)
}

// TitleFor resolves a session's display title, reading its transcript to
// find the first user entry only when no displayName/subject is set.
func (m *Manager) TitleFor(s *Session) string {
	if s.DisplayName != "" || s.Subject != "" {
		return s.Title("")
	}
	entries, err := m.LoadTranscript(s.SessionID)
	if err == nil {
		for _, e := range entries {
			if e.Role == RoleUser {
				return s.Title(e.Content)
			}
		}
	}
	return s.Title("")
}
