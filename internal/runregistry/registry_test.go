package runregistry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zlhalen/Nexar/internal/engine"
	"github.com/zlhalen/Nexar/internal/provider"
	"github.com/zlhalen/Nexar/internal/tools"
	"github.com/zlhalen/Nexar/internal/workspace"
)

type stubPlanner struct {
	batch *engine.ActionBatch
}

func (p *stubPlanner) Next(_ context.Context, req engine.PlanRequest) (*engine.ActionBatch, *provider.ChatResult, error) {
	b := *p.batch
	b.Iteration = req.Iteration
	return &b, &provider.ChatResult{}, nil
}

func (p *stubPlanner) Fallback(iteration int, reason string) *engine.ActionBatch {
	return &engine.ActionBatch{
		Version:   "1.0",
		Iteration: iteration,
		Decision:  engine.ActionBatchDecision{Mode: "ask_user", Reason: reason},
		Actions:   []engine.ActionSpec{{ID: "a1", Type: tools.AskUser, Input: map[string]any{"question": reason}}},
	}
}

func newTestRegistry(t *testing.T, batch *engine.ActionBatch) *Registry {
	t.Helper()
	ws, err := workspace.New(t.TempDir())
	require.NoError(t, err)
	ex := engine.NewExecutor(&stubPlanner{batch: batch}, nil, ws, 4)
	reg := New(ex, 1800, nil)
	t.Cleanup(reg.Close)
	return reg
}

func snapshotReq() engine.RequestSnapshot {
	return engine.RequestSnapshot{
		Messages:      []engine.ChatMessage{{Role: "user", Content: "do it"}},
		HistoryConfig: engine.DefaultHistoryConfig(),
	}
}

func askUserBatch() *engine.ActionBatch {
	return &engine.ActionBatch{
		Version:  "1.0",
		Decision: engine.ActionBatchDecision{Mode: "ask_user"},
		Actions:  []engine.ActionSpec{{ID: "a1", Type: tools.AskUser, Input: map[string]any{"question": "which file?"}}},
	}
}

func doneBatch() *engine.ActionBatch {
	return &engine.ActionBatch{
		Version:  "1.0",
		Decision: engine.ActionBatchDecision{Mode: "done"},
		Actions:  []engine.ActionSpec{{ID: "a1", Type: tools.FinalAnswer, Input: map[string]any{"content": "done"}}},
	}
}

func TestChatRunsExactlyOneTickSynchronously(t *testing.T) {
	reg := newTestRegistry(t, doneBatch())
	resp, err := reg.Chat(context.Background(), "fix it", "p1", snapshotReq(), 2)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusCompleted, resp.Run.Status)
	assert.Equal(t, "done", resp.Content)
}

func TestGetRunNotFound(t *testing.T) {
	reg := newTestRegistry(t, doneBatch())
	_, err := reg.GetRun("no-such-run")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestStartReturnsImmediatelyAndTicksInBackground(t *testing.T) {
	reg := newTestRegistry(t, doneBatch())
	runID := reg.Start("fix it", "p1", snapshotReq(), 2)
	assert.NotEmpty(t, runID)

	require.Eventually(t, func() bool {
		snap, err := reg.GetRun(runID)
		return err == nil && snap.Status == engine.StatusCompleted
	}, time.Second, 10*time.Millisecond)
}

func TestContinueOnTerminalRunReturnsConflict(t *testing.T) {
	reg := newTestRegistry(t, doneBatch())
	resp, err := reg.Chat(context.Background(), "fix it", "p1", snapshotReq(), 2)
	require.NoError(t, err)

	_, err = reg.Continue(context.Background(), resp.RunID)
	assert.ErrorIs(t, err, ErrRunConflict)
}

func TestReplyOnNonWaitingRunReturnsConflict(t *testing.T) {
	reg := newTestRegistry(t, doneBatch())
	resp, err := reg.Chat(context.Background(), "fix it", "p1", snapshotReq(), 2)
	require.NoError(t, err)

	_, err = reg.Reply(context.Background(), resp.RunID, "hello")
	assert.ErrorIs(t, err, ErrRunConflict)
}

func TestReplyResolvesWaitingUserRun(t *testing.T) {
	reg := newTestRegistry(t, askUserBatch())
	runID := reg.Start("fix it", "p1", snapshotReq(), 2)

	require.Eventually(t, func() bool {
		snap, err := reg.GetRun(runID)
		return err == nil && snap.Status == engine.StatusWaitingUser
	}, time.Second, 10*time.Millisecond)

	resp, err := reg.Reply(context.Background(), runID, "use main.go")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusWaitingUser, resp.Run.Status)
}

func TestPauseAndCancelReturnImmediately(t *testing.T) {
	reg := newTestRegistry(t, askUserBatch())
	runID := reg.Start("fix it", "p1", snapshotReq(), 2)

	require.Eventually(t, func() bool {
		snap, err := reg.GetRun(runID)
		return err == nil && snap.Status == engine.StatusWaitingUser
	}, time.Second, 10*time.Millisecond)

	snap, err := reg.Pause(runID)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusPaused, snap.Status)

	snap, err = reg.Cancel(runID)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusCancelled, snap.Status)
}
