// Package cron schedules recurring agent turns. Each job owns one timer,
// keyed by job ID, and triggers the gateway's re-entry path at the next
// matching tick of its cron expression.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/san-tian/miniclaw/internal/store"
)

// RetryConfig controls retry/backoff behaviour for a failed job run.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second}
}

func (r RetryConfig) delayFor(attempt int) time.Duration {
	d := float64(r.BaseDelay) * math.Pow(2, float64(attempt))
	if time.Duration(d) > r.MaxDelay {
		return r.MaxDelay
	}
	return time.Duration(d)
}

// Job describes a recurring scheduled task.
type Job struct {
	ID         string    `json:"id"`
	AgentID    string    `json:"agentId"`
	Expression string    `json:"expression"`
	Prompt     string    `json:"prompt"`
	Channel    string    `json:"channel"`
	To         string    `json:"to"`
	CreatedAt  time.Time `json:"createdAt"`
	LastRunAt  time.Time `json:"lastRunAt,omitempty"`
	Enabled    bool      `json:"enabled"`
}

// RunFunc executes one scheduled invocation of a job. It returns an error
// if the agent turn failed to complete, triggering the retry backoff.
type RunFunc func(ctx context.Context, job Job, runID string) error

// Service owns one scheduling goroutine per active job.
type Service struct {
	mu    sync.Mutex
	jobs  map[string]*scheduledJob
	run   RunFunc
	retry RetryConfig
	gron  gronx.Gronx
	store *store.KeyedStore[Job]
}

type scheduledJob struct {
	job    Job
	cancel context.CancelFunc
}

func NewService(run RunFunc, retry RetryConfig) *Service {
	return &Service{
		jobs:  make(map[string]*scheduledJob),
		run:   run,
		retry: retry,
		gron:  gronx.New(),
	}
}

// NewPersistentService is NewService with a file-backed job store: jobs
// added with Add survive a restart, reloaded via LoadPersisted.
func NewPersistentService(run RunFunc, retry RetryConfig, dir string) *Service {
	s := NewService(run, retry)
	s.store = store.NewKeyedStore[Job](dir, func(string) *Job { return &Job{} })
	return s
}

// LoadPersisted reads every job file under the service's store directory
// and starts its scheduling loop, rebuilding the in-memory schedule a
// fresh process lost on restart. A no-op if the service has no store.
func (s *Service) LoadPersisted(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.LoadAll(func(j *Job) string { return j.ID }); err != nil {
		return err
	}
	for _, id := range s.store.Keys() {
		j, ok := s.store.Peek(id)
		if !ok || j.ID == "" || !j.Enabled {
			continue
		}
		if err := s.Add(ctx, *j); err != nil {
			slog.Error("cron: failed to restart persisted job", "job", j.ID, "error", err)
		}
	}
	return nil
}

// ValidateExpression reports whether a cron expression is well-formed.
func (s *Service) ValidateExpression(expr string) error {
	if !s.gron.IsValid(expr) {
		return fmt.Errorf("invalid cron expression: %s", expr)
	}
	return nil
}

// Add registers a job and starts its scheduling loop. If a job with the
// same ID is already scheduled, it is stopped and replaced.
func (s *Service) Add(ctx context.Context, job Job) error {
	if err := s.ValidateExpression(job.Expression); err != nil {
		return err
	}

	s.mu.Lock()
	if existing, ok := s.jobs[job.ID]; ok {
		existing.cancel()
	}
	jobCtx, cancel := context.WithCancel(ctx)
	s.jobs[job.ID] = &scheduledJob{job: job, cancel: cancel}
	s.mu.Unlock()

	if s.store != nil {
		*s.store.GetOrCreate(job.ID) = job
		if err := s.store.Save(job.ID); err != nil {
			slog.Error("cron: failed to persist job", "job", job.ID, "error", err)
		}
	}

	go s.loop(jobCtx, job)
	return nil
}

// Remove stops a job's scheduling loop and deletes its persisted record.
func (s *Service) Remove(jobID string) {
	s.mu.Lock()
	if existing, ok := s.jobs[jobID]; ok {
		existing.cancel()
		delete(s.jobs, jobID)
	}
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.Delete(jobID); err != nil {
			slog.Error("cron: failed to delete persisted job", "job", jobID, "error", err)
		}
	}
}

// List returns a snapshot of all scheduled jobs.
func (s *Service) List() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, sj := range s.jobs {
		out = append(out, sj.job)
	}
	return out
}

func (s *Service) loop(ctx context.Context, job Job) {
	for {
		next, err := s.gron.NextTick(job.Expression, false)
		if err != nil {
			slog.Error("cron: invalid expression, stopping job", "job", job.ID, "error", err)
			return
		}
		wait := time.Until(next)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.mu.Lock()
		if sj, ok := s.jobs[job.ID]; ok {
			sj.job.LastRunAt = time.Now()
			job.LastRunAt = sj.job.LastRunAt
		}
		s.mu.Unlock()

		if s.store != nil {
			s.store.GetOrCreate(job.ID).LastRunAt = job.LastRunAt
			if err := s.store.Save(job.ID); err != nil {
				slog.Warn("cron: failed to persist lastRunAt", "job", job.ID, "error", err)
			}
		}

		s.runWithRetry(ctx, job)
	}
}

func (s *Service) runWithRetry(ctx context.Context, job Job) {
	runID := uuid.NewString()
	var lastErr error
	for attempt := 0; attempt <= s.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := s.retry.delayFor(attempt - 1)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		if err := s.run(ctx, job, runID); err != nil {
			lastErr = err
			slog.Warn("cron: run attempt failed", "job", job.ID, "attempt", attempt, "error", err)
			continue
		}
		return
	}
	if lastErr != nil {
		slog.Error("cron: job exhausted retries", "job", job.ID, "error", lastErr)
	}
}
