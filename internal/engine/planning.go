package engine

import (
	"context"

	"github.com/zlhalen/Nexar/internal/provider"
)

// PlanRequest carries everything a Planner needs for one iteration. It lives
// in engine (rather than the planner package) so the Executor can depend on
// the Planner interface below without importing planner, keeping the
// dependency edge one-way: planner imports engine, never the reverse.
type PlanRequest struct {
	RunID         string
	ProviderID    string
	Snapshot      RequestSnapshot
	Iteration     int
	ActionHistory []ActionExecutionRecord
}

// Planner is the subset of the planning step the Executor depends on. The
// concrete implementation lives in package planner; Executor is handed one
// through NewExecutor so this package never imports it.
type Planner interface {
	Next(ctx context.Context, req PlanRequest) (*ActionBatch, *provider.ChatResult, error)
	Fallback(iteration int, reason string) *ActionBatch
}
