package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/zlhalen/Nexar/internal/provider"
	"github.com/zlhalen/Nexar/internal/tools"
	"github.com/zlhalen/Nexar/internal/workspace"
)

const (
	defaultActionTimeoutSec  = 120
	defaultActionPoolSize    = 16
	actionRetryBaseDelay     = 300 * time.Millisecond
)

// Executor drives a Run from its current state through one tick: plan, then
// execute every action the batch makes runnable, honoring depends_on
// ordering, can_parallel grouping, pause/cancel safe points, and per-action
// retry. A run only ever has one tick in flight at a time because callers
// obtain it through the Run Registry, which serializes access per run id.
type Executor struct {
	planner   Planner
	router    *provider.Router
	workspace *workspace.Service
	pool      chan struct{}
}

// NewExecutor wires a Planner (see engine.Planner) against the workspace and
// provider adapter tool handlers need, bounding total concurrent tool
// executions at poolSize (default defaultActionPoolSize).
func NewExecutor(p Planner, router *provider.Router, ws *workspace.Service, poolSize int) *Executor {
	if poolSize <= 0 {
		poolSize = defaultActionPoolSize
	}
	return &Executor{planner: p, router: router, workspace: ws, pool: make(chan struct{}, poolSize)}
}

// Tick performs one full plan-then-execute pass: it calls the planner once,
// then runs every action the resulting batch makes runnable this round,
// stopping early at a pause/cancel safe point or a waiting_user suspension.
func (e *Executor) Tick(ctx context.Context, run *Run) (*AIResponse, error) {
	run.Lock()
	if run.CancelRequested {
		run.finishLocked(StatusCancelled)
		run.addEventLocked("system", "finalize", "Run cancelled", "", "cancelled", eventOpts{Iteration: run.Iteration})
		snap := run.SnapshotLocked()
		run.Unlock()
		return responseFromSnapshot(snap), nil
	}
	if run.PauseRequested {
		run.Status = StatusPaused
		snap := run.SnapshotLocked()
		run.Unlock()
		return responseFromSnapshot(snap), nil
	}
	if run.Status.IsTerminal() {
		snap := run.SnapshotLocked()
		run.Unlock()
		return responseFromSnapshot(snap), nil
	}

	run.Status = StatusRunning
	run.Iteration++
	iteration := run.Iteration
	req := PlanRequest{
		RunID:         run.RunID,
		ProviderID:    run.ProviderID,
		Snapshot:      *run.RequestSnapshot,
		Iteration:     iteration,
		ActionHistory: append([]ActionExecutionRecord(nil), run.ActionHistory...),
	}
	run.Unlock()

	batch, chatResult, err := e.planner.Next(ctx, req)
	if err != nil {
		batch = e.planner.Fallback(iteration, err.Error())
	}

	run.Lock()
	run.LatestBatch = batch
	run.addEventLocked("planning", "plan", batch.Summary, decisionDetail(batch.Decision), "completed", eventOpts{
		Iteration: iteration,
		Output:    map[string]any{"decision_mode": batch.Decision.Mode, "action_count": len(batch.Actions)},
		Metrics:   chatMetrics(chatResult),
	})

	if batch.Decision.Mode == "blocked" {
		run.ResultContent = batch.Decision.Reason
		run.finishLocked(StatusBlocked)
		run.addEventLocked("system", "finalize", "Run blocked", batch.Decision.Reason, "blocked", eventOpts{Iteration: iteration})
		snap := run.SnapshotLocked()
		run.Unlock()
		return responseFromSnapshot(snap), nil
	}
	if batch.Decision.Mode == "done" && len(batch.Actions) == 0 {
		run.finishLocked(StatusCompleted)
		snap := run.SnapshotLocked()
		run.Unlock()
		return responseFromSnapshot(snap), nil
	}
	if batch.Decision.Mode == "ask_user" && len(batch.Actions) == 0 {
		run.Status = StatusWaitingUser
		snap := run.SnapshotLocked()
		run.Unlock()
		return responseFromSnapshot(snap), nil
	}
	run.PendingActionIDs = actionIDs(batch.Actions)
	run.Unlock()

	e.executeFrontiers(ctx, run, batch, iteration)

	run.Lock()
	snap := run.SnapshotLocked()
	run.Unlock()
	return responseFromSnapshot(snap), nil
}

// ContinueTick advances a run without a fresh user message: terminal and
// waiting_user/paused runs return their latched snapshot untouched (the
// planner is never re-invoked for either), anything else takes another Tick.
func (e *Executor) ContinueTick(ctx context.Context, run *Run) (*AIResponse, error) {
	run.Lock()
	status := run.Status
	snap := run.SnapshotLocked()
	run.Unlock()
	if status.IsTerminal() || status == StatusWaitingUser || status == StatusPaused {
		return responseFromSnapshot(snap), nil
	}
	return e.Tick(ctx, run)
}

// Reply appends message as a user turn, resolves any ask_user/request_approval
// actions the run was waiting on, and immediately runs the next tick.
func (e *Executor) Reply(ctx context.Context, run *Run, message string) (*AIResponse, error) {
	run.Lock()
	if run.Status != StatusWaitingUser {
		snap := run.SnapshotLocked()
		run.Unlock()
		return responseFromSnapshot(snap), fmt.Errorf("run %s is not waiting_user", run.RunID)
	}
	reply := ChatMessage{Role: "user", Content: message}
	run.Messages = append(run.Messages, reply)
	run.RequestSnapshot.Messages = append(run.RequestSnapshot.Messages, reply)
	pending := append([]string(nil), run.PendingActionIDs...)
	for i := range run.ActionHistory {
		rec := &run.ActionHistory[i]
		if containsStr(pending, rec.ActionID) && rec.ActionType.Suspends() {
			rec.Status = "completed"
			rec.Output = map[string]any{"reply": message}
			rec.EndedAt = time.Now().Format(time.RFC3339)
		}
	}
	run.PendingActionIDs = nil
	run.Status = StatusRunning
	run.addEventLocked("system", "reply", "User replied", message, "completed", eventOpts{Iteration: run.Iteration})
	run.Unlock()

	return e.Tick(ctx, run)
}

// executeFrontiers runs batch.Actions frontier by frontier, honoring
// depends_on ordering and can_parallel grouping, stopping at the first
// pause/cancel/waiting_user safe point.
func (e *Executor) executeFrontiers(ctx context.Context, run *Run, batch *ActionBatch, iteration int) {
	skipped := make(map[string]struct{})

	for _, level := range frontiers(batch.Actions) {
		run.Lock()
		cancelRequested := run.CancelRequested
		pauseRequested := run.PauseRequested
		run.Unlock()
		if cancelRequested {
			run.Lock()
			run.finishLocked(StatusCancelled)
			run.addEventLocked("system", "finalize", "Run cancelled", "", "cancelled", eventOpts{Iteration: iteration})
			run.Unlock()
			return
		}
		if pauseRequested {
			run.Lock()
			run.Status = StatusPaused
			run.Unlock()
			return
		}

		for _, group := range groupsWithinFrontier(level) {
			e.runGroup(ctx, run, group, iteration, skipped)

			run.Lock()
			status := run.Status
			run.Unlock()
			if status.IsTerminal() || status == StatusWaitingUser || status == StatusPaused {
				return
			}
		}
	}

	run.Lock()
	defer run.Unlock()
	if run.Status.IsTerminal() {
		return
	}
	if run.CancelRequested {
		run.finishLocked(StatusCancelled)
		run.addEventLocked("system", "finalize", "Run cancelled", "", "cancelled", eventOpts{Iteration: iteration})
		return
	}
	if batch.Decision.Mode == "done" && hasCompletedFinalAnswer(run.ActionHistory) {
		run.finishLocked(StatusCompleted)
		return
	}
	run.Status = StatusRunning
}

// mergeContext derives a context.Context that is done when either ctx or
// other is done, so an action aborts on whichever fires first: the tick's
// own caller context or the run's master cancellation token.
func mergeContext(ctx, other context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(other, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}

// runGroup executes one can_parallel-homogeneous group: concurrently when
// every member has can_parallel=true, otherwise the group is a single action.
func (e *Executor) runGroup(ctx context.Context, run *Run, group []ActionSpec, iteration int, skipped map[string]struct{}) {
	var wg sync.WaitGroup
	for _, action := range group {
		if depSkipped(action, skipped) {
			run.Lock()
			run.removePendingLocked(action.ID)
			run.ActionHistory = append(run.ActionHistory, ActionExecutionRecord{
				Iteration: iteration, ActionID: action.ID, ActionType: action.Type,
				Title: action.Title, Status: "skipped", Reason: "dependency failed",
			})
			run.addEventLocked("action", "execute", action.Title, "dependency failed", "skipped", eventOpts{
				Iteration: iteration, ActionID: action.ID,
			})
			run.Unlock()
			skipped[action.ID] = struct{}{}
			continue
		}
		wg.Add(1)
		go func(a ActionSpec) {
			defer wg.Done()
			e.pool <- struct{}{}
			defer func() { <-e.pool }()
			e.runAction(ctx, run, a, iteration, skipped)
		}(action)
	}
	wg.Wait()
}

// runAction dispatches one action, retrying retryable failures up to
// max_retries with a short backoff, and folds the outcome into run state.
func (e *Executor) runAction(ctx context.Context, run *Run, action ActionSpec, iteration int, skipped map[string]struct{}) {
	timeoutSec := action.TimeoutSec
	if timeoutSec <= 0 {
		timeoutSec = defaultActionTimeoutSec
	}
	maxRetries := action.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	run.Lock()
	run.ActiveActionID = action.ID
	deps := e.buildDeps(run)
	runCtx := run.ctx
	run.addEventLocked("action", "execute", action.Title, action.Reason, "queued", eventOpts{
		Iteration: iteration, ActionID: action.ID, Input: action.Input,
	})
	run.addEventLocked("action", "execute", action.Title, action.Reason, "running", eventOpts{
		Iteration: iteration, ActionID: action.ID,
	})
	run.Unlock()

	started := time.Now()
	var (
		result tools.Result
		err    error
	)
	for attempt := 0; ; attempt++ {
		run.Lock()
		cancelled := run.CancelRequested
		run.Unlock()
		if cancelled {
			err = tools.NewError(tools.ErrCancelled, "run cancelled", false)
			break
		}

		actionParent, stopMerge := mergeContext(ctx, runCtx)
		actionCtx, cancel := context.WithTimeout(actionParent, time.Duration(timeoutSec)*time.Second)
		result, err = tools.Dispatch(actionCtx, action.Type, deps, action.Input)
		cancel()
		stopMerge()
		if err == nil {
			break
		}

		var toolErr *tools.Error
		retryable := errors.As(err, &toolErr) && toolErr.Retryable
		if !retryable || attempt >= maxRetries {
			break
		}
		delay := actionRetryBaseDelay * time.Duration(attempt+1)
		select {
		case <-runCtx.Done():
			err = tools.NewError(tools.ErrCancelled, "run cancelled", false)
		case <-ctx.Done():
			err = tools.NewError(tools.ErrCancelled, "context cancelled during retry", false)
		case <-time.After(delay):
		}
	}
	elapsed := time.Since(started)

	run.Lock()
	defer run.Unlock()
	run.ActiveActionID = ""
	run.removePendingLocked(action.ID)

	rec := ActionExecutionRecord{
		Iteration: iteration, ActionID: action.ID, ActionType: action.Type,
		Title: action.Title, Reason: action.Reason, Input: action.Input,
		Artifacts: action.Artifacts,
		StartedAt: started.Format(time.RFC3339), EndedAt: time.Now().Format(time.RFC3339),
	}
	metrics := map[string]any{"duration_ms": elapsed.Milliseconds()}

	if err != nil {
		rec.Status = "failed"
		rec.Error = err.Error()
		run.ActionHistory = append(run.ActionHistory, rec)
		run.addEventLocked("action", "execute", action.Title, err.Error(), "failed", eventOpts{
			Iteration: iteration, ActionID: action.ID, Error: err.Error(), Metrics: metrics,
		})
		skipped[action.ID] = struct{}{}
		if action.Type.Mutating() {
			run.ResultContent = fmt.Sprintf("action %s (%s) failed: %s", action.ID, action.Type, err.Error())
			run.finishLocked(StatusFailed)
		}
		return
	}

	rec.Status = "completed"
	rec.Output = result.Output
	run.ActionHistory = append(run.ActionHistory, rec)
	run.addEventLocked("action", "execute", action.Title, "", "completed", eventOpts{
		Iteration: iteration, ActionID: action.ID, Output: result.Output, Metrics: metrics,
	})

	if len(result.Changes) > 0 {
		run.ResultChanges = append(run.ResultChanges, result.Changes...)
		last := result.Changes[len(result.Changes)-1]
		run.ResultFilePath = last.FilePath
		run.ResultFileContent = last.AfterContent
	}

	if action.Type == tools.FinalAnswer {
		run.ResultAction = "final_answer"
		if content, ok := action.Input["content"].(string); ok && content != "" {
			run.ResultContent = content
		} else if content, ok := result.Output["content"].(string); ok {
			run.ResultContent = content
		}
	}

	if result.Blocked {
		run.Status = StatusWaitingUser
		if !containsStr(run.PendingActionIDs, action.ID) {
			run.PendingActionIDs = append(run.PendingActionIDs, action.ID)
		}
	}
}

// buildDeps assembles a tools.Deps snapshot from run state. Caller must hold
// run.mu; it only reads already-locked fields.
func (e *Executor) buildDeps(run *Run) tools.Deps {
	history := make([]tools.HistoryRecord, 0, len(run.ActionHistory))
	for _, rec := range run.ActionHistory {
		history = append(history, tools.HistoryRecord{
			ActionID: rec.ActionID, ActionType: rec.ActionType, Status: rec.Status, Error: rec.Error,
		})
	}
	return tools.Deps{
		Workspace:   e.workspace,
		History:     history,
		RunCommand:  e.runCommand,
		Summarize:   e.summarize(run.ProviderID),
		LatestQuery: latestUserQueryFromMessages(run.Messages),
	}
}

// runCommand is the concrete tools.CommandRunner: it shells out under the
// workspace root with a hard timeout and captures capped stdout/stderr.
func (e *Executor) runCommand(ctx context.Context, command, cwd string, timeoutSec int) (stdout, stderr string, exitCode int, truncated bool, err error) {
	if timeoutSec <= 0 {
		timeoutSec = defaultActionTimeoutSec
	}
	cctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
	defer cancel()

	dir := e.workspace.Root()
	if cwd != "" {
		if abs, rerr := e.workspace.Resolve(cwd); rerr == nil {
			dir = abs
		}
	}

	cmd := exec.CommandContext(cctx, "sh", "-c", command)
	cmd.Dir = dir
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	stdout, outTrunc := capCommandOutput(outBuf.String())
	stderr, errTrunc := capCommandOutput(errBuf.String())
	truncated = outTrunc || errTrunc

	switch cctx.Err() {
	case context.DeadlineExceeded:
		return stdout, stderr, -1, truncated, tools.NewError(tools.ErrTimeout, "command timed out", true)
	case context.Canceled:
		return stdout, stderr, -1, truncated, tools.NewError(tools.ErrCancelled, "run cancelled", false)
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return stdout, stderr, exitErr.ExitCode(), truncated, nil
		}
		return stdout, stderr, -1, truncated, tools.NewError(tools.ErrIO, runErr.Error(), true)
	}
	return stdout, stderr, 0, truncated, nil
}

func capCommandOutput(s string) (string, bool) {
	if len(s) > workspace.CommandOutputCap {
		return s[:workspace.CommandOutputCap], true
	}
	return s, false
}

// summarize is the concrete tools.Summarizer, used by validate_result when
// no history failure already settles the question.
func (e *Executor) summarize(providerID string) tools.Summarizer {
	return func(ctx context.Context, prompt string) (string, error) {
		if e.router == nil {
			return "", errors.New("no provider router configured")
		}
		result, err := e.router.Chat(ctx, providerID, []provider.Message{
			{Role: "system", Content: "Judge whether the described result satisfies its success criteria. Be concise."},
			{Role: "user", Content: prompt},
		}, provider.Options{Temperature: 0.1})
		if err != nil {
			return "", err
		}
		return result.Content, nil
	}
}

// frontiers computes a Kahn's-algorithm topological ordering of actions by
// depends_on, restricted to edges within this batch (a dependency on an
// already-completed history action is satisfied by construction). Ties
// within a level break by priority desc, then id asc.
func frontiers(actions []ActionSpec) [][]ActionSpec {
	byID := make(map[string]ActionSpec, len(actions))
	indeg := make(map[string]int, len(actions))
	for _, a := range actions {
		byID[a.ID] = a
	}
	for _, a := range actions {
		for _, dep := range a.DependsOn {
			if _, ok := byID[dep]; ok {
				indeg[a.ID]++
			}
		}
	}
	remaining := make(map[string]struct{}, len(actions))
	for id := range byID {
		remaining[id] = struct{}{}
	}

	var levels [][]ActionSpec
	for len(remaining) > 0 {
		var level []ActionSpec
		for id := range remaining {
			if indeg[id] == 0 {
				level = append(level, byID[id])
			}
		}
		if len(level) == 0 {
			// A cycle should never reach here (the planner rejects it), but
			// don't spin forever if one does: drain what's left as one level.
			for id := range remaining {
				level = append(level, byID[id])
			}
		}
		sort.Slice(level, func(i, j int) bool {
			if level[i].Priority != level[j].Priority {
				return level[i].Priority > level[j].Priority
			}
			return level[i].ID < level[j].ID
		})
		for _, a := range level {
			delete(remaining, a.ID)
			for _, other := range actions {
				for _, dep := range other.DependsOn {
					if dep == a.ID {
						indeg[other.ID]--
					}
				}
			}
		}
		levels = append(levels, level)
	}
	return levels
}

// groupsWithinFrontier splits one frontier into maximal runs of consecutive
// can_parallel actions (executed concurrently) and singleton serialized
// actions, preserving the frontier's priority/id order.
func groupsWithinFrontier(level []ActionSpec) [][]ActionSpec {
	var groups [][]ActionSpec
	for i := 0; i < len(level); {
		if !level[i].CanParallel {
			groups = append(groups, []ActionSpec{level[i]})
			i++
			continue
		}
		j := i
		var group []ActionSpec
		for j < len(level) && level[j].CanParallel {
			group = append(group, level[j])
			j++
		}
		groups = append(groups, group)
		i = j
	}
	return groups
}

func depSkipped(action ActionSpec, skipped map[string]struct{}) bool {
	for _, dep := range action.DependsOn {
		if _, ok := skipped[dep]; ok {
			return true
		}
	}
	return false
}

func hasCompletedFinalAnswer(history []ActionExecutionRecord) bool {
	for _, rec := range history {
		if rec.ActionType == tools.FinalAnswer && rec.Status == "completed" {
			return true
		}
	}
	return false
}

func actionIDs(actions []ActionSpec) []string {
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.ID)
	}
	return out
}

func containsStr(list []string, target string) bool {
	for _, x := range list {
		if x == target {
			return true
		}
	}
	return false
}

func latestUserQueryFromMessages(messages []ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}

func decisionDetail(d ActionBatchDecision) string {
	if d.Reason != "" {
		return d.Reason
	}
	return d.Mode
}

func chatMetrics(result *provider.ChatResult) map[string]any {
	if result == nil {
		return nil
	}
	return map[string]any{
		"elapsed_ms": result.ElapsedMs,
		"tokens_in":  result.Usage.Input,
		"tokens_out": result.Usage.Output,
	}
}

// responseFromSnapshot builds the HTTP-facing AIResponse from a run snapshot.
func responseFromSnapshot(snap *Snapshot) *AIResponse {
	var pending []ActionSpec
	if snap.LatestBatch != nil && len(snap.PendingActionIDs) > 0 {
		pendingSet := make(map[string]struct{}, len(snap.PendingActionIDs))
		for _, id := range snap.PendingActionIDs {
			pendingSet[id] = struct{}{}
		}
		for _, a := range snap.LatestBatch.Actions {
			if _, ok := pendingSet[a.ID]; ok {
				pending = append(pending, a)
			}
		}
	}

	content := snap.ResultContent
	if content == "" && snap.LatestBatch != nil {
		content = snap.LatestBatch.Summary
	}
	action := snap.ResultAction
	if action == "" && snap.LatestBatch != nil && len(snap.LatestBatch.Actions) > 0 {
		action = string(snap.LatestBatch.Actions[len(snap.LatestBatch.Actions)-1].Type)
	}
	needsTrigger := snap.LatestBatch != nil && snap.LatestBatch.Decision.NeedsUserTrigger

	return &AIResponse{
		Content:          content,
		FilePath:         snap.ResultFilePath,
		FileContent:      snap.ResultFileContent,
		Action:           action,
		Changes:          snap.ResultChanges,
		Run:              snap,
		RunID:            snap.RunID,
		NeedsUserTrigger: needsTrigger,
		PendingActions:   pending,
	}
}
