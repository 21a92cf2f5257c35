package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// NewRun creates a fresh Run in the queued state. Its master context is
// rooted in context.Background() rather than any single caller's request
// context, since a run outlives the HTTP request that started it.
func NewRun(intent, providerID string, snapshot RequestSnapshot, maxRetries int) *Run {
	if maxRetries <= 0 {
		maxRetries = 2
	}
	runCtx, cancel := context.WithCancel(context.Background())
	r := &Run{
		ctx:              runCtx,
		cancelFn:         cancel,
		RunID:            uuid.NewString(),
		Intent:           intent,
		ProviderID:       providerID,
		Status:           StatusQueued,
		MaxRetries:       maxRetries,
		Messages:         append([]ChatMessage(nil), snapshot.Messages...),
		RequestSnapshot:  &snapshot,
		ActionHistory:    []ActionExecutionRecord{},
		PendingActionIDs: []string{},
		Events:           []ExecutionEvent{},
		StartedAt:        time.Now(),
	}
	return r
}

// eventOpts groups AddEvent's optional fields to keep call sites readable.
type eventOpts struct {
	Iteration      int
	ActionID       string
	ParentActionID string
	Input          map[string]any
	Output         map[string]any
	Metrics        map[string]any
	Artifacts      []string
	Error          string
	Data           map[string]any
}

// addEventLocked appends a totally-ordered ExecutionEvent. Caller must hold mu.
func (r *Run) addEventLocked(kind, stage, title, detail, status string, opts eventOpts) ExecutionEvent {
	r.nextEvent++
	ev := ExecutionEvent{
		EventID:        r.nextEvent,
		Kind:           kind,
		Stage:          stage,
		Title:          title,
		Detail:         detail,
		Status:         status,
		Timestamp:      time.Now(),
		Iteration:      opts.Iteration,
		ActionID:       opts.ActionID,
		ParentActionID: opts.ParentActionID,
		Input:          opts.Input,
		Output:         opts.Output,
		Metrics:        opts.Metrics,
		Artifacts:      opts.Artifacts,
		Error:          opts.Error,
		Data:           opts.Data,
	}
	if len(r.Events) > 0 {
		last := r.Events[len(r.Events)-1].Timestamp
		if ev.Timestamp.Before(last) {
			ev.Timestamp = last
		}
	}
	r.Events = append(r.Events, ev)
	return ev
}

// AddEvent appends an event under lock, for callers that do not already
// hold the run's lock. Its eventOpts parameter is unexported, so only code
// in this package can call it.
func (r *Run) AddEvent(kind, stage, title, detail, status string, opts eventOpts) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addEventLocked(kind, stage, title, detail, status, opts)
}

// Lock/Unlock expose the run mutex to the executor, which holds it for the
// duration of a tick to satisfy "at most one executor goroutine runs per
// run_id at any instant".
func (r *Run) Lock()   { r.mu.Lock() }
func (r *Run) Unlock() { r.mu.Unlock() }

// RequestPause and RequestCancel may be called by any goroutine: callers
// set pause_requested/cancel_requested directly. They take
// their own short-lived lock rather than requiring the caller to hold one.
func (r *Run) RequestPause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.PauseRequested = true
	if r.Status == StatusWaitingUser {
		r.Status = StatusPaused
	}
}

func (r *Run) RequestCancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CancelRequested = true
	r.cancelFn()
	if r.Status == StatusWaitingUser || r.Status == StatusPaused {
		r.PendingActionIDs = nil
		r.finishLocked(StatusCancelled)
	}
}

func (r *Run) ClearPause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.PauseRequested = false
	if r.Status == StatusPaused {
		r.Status = StatusRunning
	}
}

// removePendingLocked drops id from pending_action_ids, if present.
func (r *Run) removePendingLocked(id string) {
	out := r.PendingActionIDs[:0]
	for _, x := range r.PendingActionIDs {
		if x != id {
			out = append(out, x)
		}
	}
	r.PendingActionIDs = out
}

func (r *Run) finishLocked(status RunStatus) {
	r.Status = status
	now := time.Now()
	r.FinishedAt = &now
}

// SnapshotLocked builds a deep-copied read view. Caller must hold mu.
func (r *Run) SnapshotLocked() *Snapshot {
	s := &Snapshot{
		RunID:             r.RunID,
		Intent:            r.Intent,
		ProviderID:        r.ProviderID,
		Status:            r.Status,
		Iteration:         r.Iteration,
		MaxRetries:        r.MaxRetries,
		Messages:          append([]ChatMessage(nil), r.Messages...),
		ActionHistory:     append([]ActionExecutionRecord(nil), r.ActionHistory...),
		PendingActionIDs:  append([]string(nil), r.PendingActionIDs...),
		ActiveActionID:    r.ActiveActionID,
		Events:            append([]ExecutionEvent(nil), r.Events...),
		ResultAction:      r.ResultAction,
		ResultContent:     r.ResultContent,
		ResultFilePath:    r.ResultFilePath,
		ResultFileContent: r.ResultFileContent,
		ResultChanges:     append([]FileChange(nil), r.ResultChanges...),
		PauseRequested:    r.PauseRequested,
		CancelRequested:   r.CancelRequested,
		StartedAt:         r.StartedAt,
		FinishedAt:        r.FinishedAt,
	}
	if r.LatestBatch != nil {
		cp := *r.LatestBatch
		cp.Actions = append([]ActionSpec(nil), r.LatestBatch.Actions...)
		s.LatestBatch = &cp
	}
	return s
}

// Snapshot takes the lock and returns a deep-copied view.
func (r *Run) Snapshot() *Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.SnapshotLocked()
}

// PendingActionsLocked resolves pending_action_ids against latest_batch.actions,
// preserving batch order (used to fill AIResponse.pending_actions).
func (r *Run) PendingActionsLocked() []ActionSpec {
	if r.LatestBatch == nil || len(r.PendingActionIDs) == 0 {
		return nil
	}
	pending := make(map[string]struct{}, len(r.PendingActionIDs))
	for _, id := range r.PendingActionIDs {
		pending[id] = struct{}{}
	}
	out := make([]ActionSpec, 0, len(pending))
	for _, a := range r.LatestBatch.Actions {
		if _, ok := pending[a.ID]; ok {
			out = append(out, a)
		}
	}
	return out
}
