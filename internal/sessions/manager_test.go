package sessions

import (
	"os"
	"testing"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(t.TempDir())
}

func TestManager_GetOrCreate_SingleSessionPerKey(t *testing.T) {
	m := newTestManager(t)

	s1, err := m.GetOrCreate("telegram:123", "default", "telegram", "123")
	if err != nil {
		t.Fatal(err)
	}
	s2, err := m.GetOrCreate("telegram:123", "default", "telegram", "123")
	if err != nil {
		t.Fatal(err)
	}
	if s1.SessionID != s2.SessionID {
		t.Errorf("expected same session, got %s and %s", s1.SessionID, s2.SessionID)
	}
}

func TestManager_Create_WritesLeadingSystemEntry(t *testing.T) {
	m := newTestManager(t)

	s, err := m.Create("telegram:123", "default", "telegram", "123", "you are a helpful agent")
	if err != nil {
		t.Fatal(err)
	}

	entries, err := m.LoadTranscript(s.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Role != RoleSystem {
		t.Errorf("expected first entry to be system, got %s", entries[0].Role)
	}
	if entries[0].Content != "you are a helpful agent" {
		t.Errorf("unexpected system content: %q", entries[0].Content)
	}
	if s.MessageCount != 1 {
		t.Errorf("expected message count 1, got %d", s.MessageCount)
	}
}

func TestManager_Append_IsOrderedAndPersisted(t *testing.T) {
	m := newTestManager(t)
	s, err := m.Create("telegram:123", "default", "telegram", "123", "system prompt")
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Append(s, TranscriptEntry{Role: RoleUser, Content: "hello"}); err != nil {
		t.Fatal(err)
	}
	if err := m.Append(s, TranscriptEntry{Role: RoleAssistant, Content: "hi there"}); err != nil {
		t.Fatal(err)
	}

	entries, err := m.LoadTranscript(s.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	wantRoles := []Role{RoleSystem, RoleUser, RoleAssistant}
	for i, role := range wantRoles {
		if entries[i].Role != role {
			t.Errorf("entry %d: role = %s, want %s", i, entries[i].Role, role)
		}
	}
	if s.MessageCount != 3 {
		t.Errorf("expected message count 3, got %d", s.MessageCount)
	}
}

func TestManager_LoadTranscript_SkipsCorruptedLines(t *testing.T) {
	m := newTestManager(t)
	s, err := m.Create("telegram:123", "default", "telegram", "123", "system prompt")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Append(s, TranscriptEntry{Role: RoleUser, Content: "hello"}); err != nil {
		t.Fatal(err)
	}

	path := m.transcriptPath(s.SessionID)
	appendRaw(t, path, "{not valid json\n")

	entries, err := m.LoadTranscript(s.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected corrupted line to be skipped, got %d entries", len(entries))
	}
}

func TestManager_Delete_RemovesMetadataAndTranscript(t *testing.T) {
	m := newTestManager(t)
	s, err := m.Create("telegram:123", "default", "telegram", "123", "system prompt")
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Delete("telegram:123"); err != nil {
		t.Fatal(err)
	}

	if _, ok := m.FindByKey("telegram:123"); ok {
		t.Error("expected session metadata to be gone")
	}
	entries, err := m.LoadTranscript(s.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected transcript to be gone, got %d entries", len(entries))
	}
}

func TestManager_List_SortedByUpdatedAtDescending(t *testing.T) {
	m := newTestManager(t)

	older, err := m.Create("telegram:1", "default", "telegram", "1", "sys")
	if err != nil {
		t.Fatal(err)
	}
	newer, err := m.Create("telegram:2", "default", "telegram", "2", "sys")
	if err != nil {
		t.Fatal(err)
	}
	newer.UpdatedAt = older.UpdatedAt.Add(1)
	if err := m.Save(newer); err != nil {
		t.Fatal(err)
	}

	got := m.List(ListFilter{})
	if len(got) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(got))
	}
	if got[0].SessionKey != "telegram:2" {
		t.Errorf("expected most recently updated first, got %s", got[0].SessionKey)
	}
}

func appendRaw(t *testing.T, path, s string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString(s); err != nil {
		t.Fatal(err)
	}
}
