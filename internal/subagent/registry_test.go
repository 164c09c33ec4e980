package subagent

import (
	"strings"
	"testing"
)

func TestRegistry_Register_ChildSessionKeyConvention(t *testing.T) {
	r := NewRegistry(t.TempDir(), 60)
	run, err := r.Register(RegisterParams{
		ChildSessionKey:     "subagent:abc123",
		RequesterSessionKey: "telegram:1",
		Task:                "research pricing",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(run.ChildSessionKey, "subagent:") {
		t.Errorf("expected subagent: prefix, got %s", run.ChildSessionKey)
	}
	if run.Cleanup != CleanupDelete {
		t.Errorf("expected default cleanup=delete, got %s", run.Cleanup)
	}
}

func TestRegistry_MarkCompleted_FiresCallback(t *testing.T) {
	r := NewRegistry(t.TempDir(), 60)
	run, err := r.Register(RegisterParams{ChildSessionKey: "subagent:1", RequesterSessionKey: "p"})
	if err != nil {
		t.Fatal(err)
	}

	fired := make(chan *Run, 1)
	r.OnCompletion(run.RunID, func(completed *Run) { fired <- completed })

	if err := r.MarkCompleted(run.RunID, OutcomeOK, ""); err != nil {
		t.Fatal(err)
	}

	select {
	case completed := <-fired:
		if completed.Outcome != OutcomeOK {
			t.Errorf("expected outcome ok, got %s", completed.Outcome)
		}
	default:
		t.Fatal("completion callback did not fire synchronously")
	}
}

func TestRegistry_OnCompletion_FiresImmediatelyIfAlreadyDone(t *testing.T) {
	r := NewRegistry(t.TempDir(), 60)
	run, err := r.Register(RegisterParams{ChildSessionKey: "subagent:1", RequesterSessionKey: "p"})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.MarkCompleted(run.RunID, OutcomeError, "boom"); err != nil {
		t.Fatal(err)
	}

	called := false
	r.OnCompletion(run.RunID, func(completed *Run) {
		called = true
		if completed.Error != "boom" {
			t.Errorf("expected error boom, got %s", completed.Error)
		}
	})
	if !called {
		t.Error("expected callback to fire immediately for already-completed run")
	}
}

func TestRegistry_FinalizeCleanup_DeleteRemovesRun(t *testing.T) {
	r := NewRegistry(t.TempDir(), 60)
	run, err := r.Register(RegisterParams{ChildSessionKey: "subagent:1", RequesterSessionKey: "p", Cleanup: CleanupDelete})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.FinalizeCleanup(run.RunID, true); err != nil {
		t.Fatal(err)
	}
	if _, ok := r.Get(run.RunID); ok {
		t.Error("expected run to be deleted")
	}
}

func TestRegistry_FinalizeCleanup_KeepSchedulesArchive(t *testing.T) {
	r := NewRegistry(t.TempDir(), 60)
	run, err := r.Register(RegisterParams{ChildSessionKey: "subagent:1", RequesterSessionKey: "p", Cleanup: CleanupKeep})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.FinalizeCleanup(run.RunID, true); err != nil {
		t.Fatal(err)
	}
	got, ok := r.Get(run.RunID)
	if !ok {
		t.Fatal("expected run to still exist")
	}
	if got.ArchiveAtMs == 0 {
		t.Error("expected archiveAtMs to be set")
	}
}

func TestRegistry_ListByRequester(t *testing.T) {
	r := NewRegistry(t.TempDir(), 60)
	if _, err := r.Register(RegisterParams{ChildSessionKey: "subagent:1", RequesterSessionKey: "p1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Register(RegisterParams{ChildSessionKey: "subagent:2", RequesterSessionKey: "p1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Register(RegisterParams{ChildSessionKey: "subagent:3", RequesterSessionKey: "p2"}); err != nil {
		t.Fatal(err)
	}

	got := r.ListByRequester("p1")
	if len(got) != 2 {
		t.Errorf("expected 2 runs for p1, got %d", len(got))
	}
}
