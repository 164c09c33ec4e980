// Package subagent tracks background agent runs spawned by a parent
// session: their lifecycle, persistence, and eventual archival.
package subagent

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/san-tian/miniclaw/internal/store"
)

// Outcome is the terminal status of a subagent run.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeError   Outcome = "error"
	OutcomeTimeout Outcome = "timeout"
)

// Cleanup controls what happens to a run's child session once it finishes.
type Cleanup string

const (
	CleanupDelete Cleanup = "delete"
	CleanupKeep   Cleanup = "keep"
)

// Run is one subagent execution record. Persisted to disk; childSessionKey
// is always prefixed "subagent:".
type Run struct {
	RunID               string    `json:"runId"`
	ChildSessionKey     string    `json:"childSessionKey"`
	RequesterSessionKey string    `json:"requesterSessionKey"`
	Task                string    `json:"task"`
	Label               string    `json:"label,omitempty"`
	Cleanup             Cleanup   `json:"cleanup"`
	CreatedAt           time.Time `json:"createdAt"`
	StartedAt           time.Time `json:"startedAt,omitempty"`
	CompletedAt         time.Time `json:"completedAt,omitempty"`
	Outcome             Outcome   `json:"outcome,omitempty"`
	Error               string    `json:"error,omitempty"`
	ArchiveAtMs         int64     `json:"archiveAtMs,omitempty"`
}

func newRun(key string) *Run { return &Run{} }

// RegisterParams are the inputs to Register.
type RegisterParams struct {
	ChildSessionKey     string
	RequesterSessionKey string
	Task                string
	Label               string
	Cleanup             Cleanup
}

// Registry tracks subagent runs, keyed by runId, with per-run
// serialization so the runner, tools, and the sweeper never race on the
// same record.
type Registry struct {
	store               *store.KeyedStore[Run]
	archiveAfterMinutes int

	mu        sync.Mutex
	runLocks  map[string]*sync.Mutex
	callbacks map[string][]func(*Run)

	stopSweep chan struct{}
}

func NewRegistry(dir string, archiveAfterMinutes int) *Registry {
	if archiveAfterMinutes <= 0 {
		archiveAfterMinutes = 60
	}
	return &Registry{
		store:               store.NewKeyedStore[Run](dir, newRun),
		archiveAfterMinutes: archiveAfterMinutes,
		runLocks:            make(map[string]*sync.Mutex),
		callbacks:           make(map[string][]func(*Run)),
		stopSweep:           make(chan struct{}),
	}
}

// Load restores the registry's in-memory index from disk at startup.
func (r *Registry) Load() error {
	return r.store.LoadAll(func(run *Run) string { return run.RunID })
}

func (r *Registry) lockFor(runID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.runLocks[runID]
	if !ok {
		l = &sync.Mutex{}
		r.runLocks[runID] = l
	}
	return l
}

// Register creates and persists a new run record.
func (r *Registry) Register(p RegisterParams) (*Run, error) {
	runID := uuid.NewString()
	run := r.store.GetOrCreate(runID)
	run.RunID = runID
	run.ChildSessionKey = p.ChildSessionKey
	run.RequesterSessionKey = p.RequesterSessionKey
	run.Task = p.Task
	run.Label = p.Label
	run.Cleanup = p.Cleanup
	if run.Cleanup == "" {
		run.Cleanup = CleanupDelete
	}
	run.CreatedAt = time.Now()

	lock := r.lockFor(runID)
	lock.Lock()
	defer lock.Unlock()
	if err := r.store.Save(runID); err != nil {
		return nil, err
	}
	return run, nil
}

// MarkStarted records a run's start time.
func (r *Registry) MarkStarted(runID string) error {
	lock := r.lockFor(runID)
	lock.Lock()
	defer lock.Unlock()

	run, ok := r.store.Peek(runID)
	if !ok {
		return nil
	}
	run.StartedAt = time.Now()
	return r.store.Save(runID)
}

// MarkCompleted records a run's terminal outcome and notifies any
// registered completion callbacks.
func (r *Registry) MarkCompleted(runID string, outcome Outcome, errMsg string) error {
	lock := r.lockFor(runID)
	lock.Lock()
	run, ok := r.store.Peek(runID)
	if !ok {
		lock.Unlock()
		return nil
	}
	run.CompletedAt = time.Now()
	run.Outcome = outcome
	run.Error = errMsg
	err := r.store.Save(runID)
	lock.Unlock()
	if err != nil {
		return err
	}

	r.mu.Lock()
	cbs := append([]func(*Run){}, r.callbacks[runID]...)
	r.mu.Unlock()
	for _, cb := range cbs {
		cb(run)
	}
	return nil
}

// OnCompletion registers a callback fired the next time MarkCompleted is
// called for runID. If the run has already completed, the callback fires
// immediately.
func (r *Registry) OnCompletion(runID string, cb func(*Run)) {
	if run, ok := r.store.Peek(runID); ok && !run.CompletedAt.IsZero() {
		cb(run)
		return
	}
	r.mu.Lock()
	r.callbacks[runID] = append(r.callbacks[runID], cb)
	r.mu.Unlock()
}

// FinalizeCleanup applies a run's cleanup policy once the parent has been
// notified (or chose not to be, via didAnnounce=false for a suppressed
// announcement). cleanup=delete drops the record immediately; cleanup=keep
// schedules archival after archiveAfterMinutes.
func (r *Registry) FinalizeCleanup(runID string, didAnnounce bool) error {
	lock := r.lockFor(runID)
	lock.Lock()
	defer lock.Unlock()

	run, ok := r.store.Peek(runID)
	if !ok {
		return nil
	}
	if run.Cleanup == CleanupDelete {
		return r.store.Delete(runID)
	}
	run.ArchiveAtMs = time.Now().Add(time.Duration(r.archiveAfterMinutes) * time.Minute).UnixMilli()
	return r.store.Save(runID)
}

// Get returns a run by ID.
func (r *Registry) Get(runID string) (*Run, bool) {
	return r.store.Peek(runID)
}

// ListByRequester returns all runs spawned by requesterSessionKey.
func (r *Registry) ListByRequester(requesterSessionKey string) []*Run {
	var out []*Run
	for _, k := range r.store.Keys() {
		if run, ok := r.store.Peek(k); ok && run.RequesterSessionKey == requesterSessionKey {
			out = append(out, run)
		}
	}
	return out
}

// ListActive returns all runs that have started but not yet completed.
func (r *Registry) ListActive() []*Run {
	var out []*Run
	for _, k := range r.store.Keys() {
		if run, ok := r.store.Peek(k); ok && !run.StartedAt.IsZero() && run.CompletedAt.IsZero() {
			out = append(out, run)
		}
	}
	return out
}

// Delete removes a run record unconditionally.
func (r *Registry) Delete(runID string) error {
	return r.store.Delete(runID)
}

// StartSweeper runs a background goroutine that removes any run whose
// ArchiveAtMs has passed, once per minute, until Stop is called.
func (r *Registry) StartSweeper() {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopSweep:
				return
			case <-ticker.C:
				r.sweep()
			}
		}
	}()
}

func (r *Registry) sweep() {
	now := time.Now().UnixMilli()
	for _, k := range r.store.Keys() {
		run, ok := r.store.Peek(k)
		if !ok || run.ArchiveAtMs == 0 {
			continue
		}
		if run.ArchiveAtMs <= now {
			r.store.Delete(k)
		}
	}
}

// Stop halts the background sweeper.
func (r *Registry) Stop() {
	close(r.stopSweep)
}
