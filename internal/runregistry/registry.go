// Package runregistry owns the {run_id -> Run} map and the control-plane
// operations layered over engine.Executor: create/get/start/continue/reply/
// pause/resume/cancel, plus a TTL sweeper for terminal runs.
package runregistry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zlhalen/Nexar/internal/auditstore"
	"github.com/zlhalen/Nexar/internal/engine"
)

// ErrRunNotFound and ErrRunConflict map onto the run_not_found/run_conflict
// error-taxonomy kinds; HTTP handlers translate them to 404/409.
var (
	ErrRunNotFound = errors.New("run_not_found")
	ErrRunConflict = errors.New("run_conflict")
)

// Registry serializes access to each run via the run's own lock (acquired
// inside engine.Run's methods); the registry's own mutex only ever guards
// the id->Run map itself.
type Registry struct {
	executor *engine.Executor
	audit    *auditstore.Store
	ttl      time.Duration

	mu   sync.RWMutex
	runs map[string]*engine.Run

	stop chan struct{}
}

// New builds a Registry backed by executor. audit may be nil, disabling
// terminal-run archiving (NEXAR_AUDIT_DB_PATH set to the empty string).
func New(executor *engine.Executor, ttlSec int, audit *auditstore.Store) *Registry {
	if ttlSec <= 0 {
		ttlSec = 1800
	}
	r := &Registry{
		executor: executor,
		audit:    audit,
		ttl:      time.Duration(ttlSec) * time.Second,
		runs:     make(map[string]*engine.Run),
		stop:     make(chan struct{}),
	}
	go r.sweepLoop()
	return r
}

// Close stops the background sweeper. It does not touch in-flight runs.
func (r *Registry) Close() {
	close(r.stop)
}

func (r *Registry) put(run *engine.Run) {
	r.mu.Lock()
	r.runs[run.RunID] = run
	r.mu.Unlock()
}

func (r *Registry) get(runID string) (*engine.Run, error) {
	r.mu.RLock()
	run, ok := r.runs[runID]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrRunNotFound
	}
	return run, nil
}

// GetRun returns the run's deep-copied read view.
func (r *Registry) GetRun(runID string) (*engine.Snapshot, error) {
	run, err := r.get(runID)
	if err != nil {
		return nil, err
	}
	return run.Snapshot(), nil
}

// Chat implements the one-shot /ai/chat contract: create_run(req), run one
// tick synchronously, return its AIResponse.
func (r *Registry) Chat(ctx context.Context, intent, providerID string, snapshot engine.RequestSnapshot, maxRetries int) (*engine.AIResponse, error) {
	run := engine.NewRun(intent, providerID, snapshot, maxRetries)
	r.put(run)
	resp, err := r.executor.Tick(ctx, run)
	if err != nil {
		return nil, err
	}
	r.archiveIfTerminal(run)
	return resp, nil
}

// Start creates a run and fires its first tick asynchronously, returning
// the run id immediately without waiting for that tick to finish.
func (r *Registry) Start(intent, providerID string, snapshot engine.RequestSnapshot, maxRetries int) string {
	run := engine.NewRun(intent, providerID, snapshot, maxRetries)
	r.put(run)
	go func() {
		_, _ = r.executor.Tick(context.Background(), run)
		r.archiveIfTerminal(run)
	}()
	return run.RunID
}

// Continue runs one more tick. A run already in a terminal status is a
// conflict at this layer (the HTTP surface documents 409 here); the
// executor's own ContinueTick stays idempotent for any other caller path.
func (r *Registry) Continue(ctx context.Context, runID string) (*engine.AIResponse, error) {
	run, err := r.get(runID)
	if err != nil {
		return nil, err
	}
	if run.Snapshot().Status.IsTerminal() {
		return nil, ErrRunConflict
	}
	resp, err := r.executor.ContinueTick(ctx, run)
	if err != nil {
		return nil, err
	}
	r.archiveIfTerminal(run)
	return resp, nil
}

// Reply injects a user message into a waiting_user run, then ticks.
func (r *Registry) Reply(ctx context.Context, runID, message string) (*engine.AIResponse, error) {
	run, err := r.get(runID)
	if err != nil {
		return nil, err
	}
	if run.Snapshot().Status != engine.StatusWaitingUser {
		return nil, ErrRunConflict
	}
	resp, err := r.executor.Reply(ctx, run, message)
	if err != nil {
		return nil, err
	}
	r.archiveIfTerminal(run)
	return resp, nil
}

// Pause and Cancel set flags and return immediately; they never block on
// executor completion.
func (r *Registry) Pause(runID string) (*engine.Snapshot, error) {
	run, err := r.get(runID)
	if err != nil {
		return nil, err
	}
	run.RequestPause()
	r.archiveIfTerminal(run)
	return run.Snapshot(), nil
}

func (r *Registry) Resume(runID string) (*engine.Snapshot, error) {
	run, err := r.get(runID)
	if err != nil {
		return nil, err
	}
	run.ClearPause()
	return run.Snapshot(), nil
}

func (r *Registry) Cancel(runID string) (*engine.Snapshot, error) {
	run, err := r.get(runID)
	if err != nil {
		return nil, err
	}
	run.RequestCancel()
	r.archiveIfTerminal(run)
	return run.Snapshot(), nil
}

func (r *Registry) archiveIfTerminal(run *engine.Run) {
	if r.audit == nil {
		return
	}
	snap := run.Snapshot()
	if !snap.Status.IsTerminal() {
		return
	}
	finishedAt := snap.StartedAt
	if snap.FinishedAt != nil {
		finishedAt = *snap.FinishedAt
	}
	_ = r.audit.Record(context.Background(), auditstore.RunRecord{
		RunID:            snap.RunID,
		Intent:           snap.Intent,
		ProviderID:       snap.ProviderID,
		Status:           string(snap.Status),
		ActionCount:      len(snap.ActionHistory),
		StartedAtUnixMs:  snap.StartedAt.UnixMilli(),
		FinishedAtUnixMs: finishedAt.UnixMilli(),
		ResultContent:    snap.ResultContent,
	})
}

func (r *Registry) sweepLoop() {
	interval := r.ttl / 10
	if interval < time.Second {
		interval = time.Second
	}
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep evicts terminal runs older than ttl from the in-memory map. Their
// summaries already reached the audit store (if configured) when they
// finished, so eviction here only frees memory.
func (r *Registry) sweep() {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, run := range r.runs {
		snap := run.Snapshot()
		if !snap.Status.IsTerminal() || snap.FinishedAt == nil {
			continue
		}
		if now.Sub(*snap.FinishedAt) >= r.ttl {
			delete(r.runs, id)
		}
	}
}
