// Package engine implements the Run Executor and the Run data model:
// the state machine that owns a run's lifecycle from planning through
// action execution to a terminal status.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/zlhalen/Nexar/internal/tools"
	"github.com/zlhalen/Nexar/internal/workspace"
)

// RunStatus is the closed set of lifecycle states a Run may occupy.
type RunStatus string

const (
	StatusQueued      RunStatus = "queued"
	StatusRunning     RunStatus = "running"
	StatusWaitingUser RunStatus = "waiting_user"
	StatusPaused      RunStatus = "paused"
	StatusCompleted   RunStatus = "completed"
	StatusFailed      RunStatus = "failed"
	StatusCancelled   RunStatus = "cancelled"
	StatusBlocked     RunStatus = "blocked"
)

// IsTerminal reports whether a run in this status will never tick again.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusBlocked:
		return true
	default:
		return false
	}
}

// ChatMessage is one entry of a Run's canonical conversation.
type ChatMessage struct {
	Role      string         `json:"role"` // system|user|assistant
	Content   string         `json:"content"`
	Snippets  []CodeSnippet  `json:"snippets,omitempty"`
	ChatOnly  bool           `json:"chat_only,omitempty"`
}

// CodeSnippet is a user-attached file excerpt carried as extra context.
type CodeSnippet struct {
	FilePath  string `json:"file_path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Content   string `json:"content"`
}

// HistoryConfig configures the History Compactor's bounded view.
type HistoryConfig struct {
	Turns             int  `json:"turns"`
	MaxCharsPerMessage int `json:"max_chars_per_message"`
	SummaryEnabled    bool `json:"summary_enabled"`
	SummaryMaxChars   int  `json:"summary_max_chars"`
}

// DefaultHistoryConfig mirrors the reference implementation's defaults.
func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{
		Turns:              20,
		MaxCharsPerMessage: 8000,
		SummaryEnabled:     true,
		SummaryMaxChars:    2000,
	}
}

// ActionFailurePolicy carries the planner's on_failure controls (optional).
type ActionFailurePolicy struct {
	Strategy        string       `json:"strategy"` // retry|replan|ask_user|abort
	FallbackActions []ActionSpec `json:"fallback_actions,omitempty"`
}

// ActionSpec is one planner-emitted unit of work.
type ActionSpec struct {
	ID               string              `json:"id"`
	Type             tools.ActionType    `json:"type"`
	Title            string              `json:"title"`
	Reason           string              `json:"reason"`
	Input            map[string]any      `json:"input"`
	DependsOn        []string            `json:"depends_on,omitempty"`
	CanParallel      bool                `json:"can_parallel"`
	Priority         int                 `json:"priority"`
	TimeoutSec       int                 `json:"timeout_sec"`
	MaxRetries       int                 `json:"max_retries"`
	SuccessCriteria  []string            `json:"success_criteria,omitempty"`
	OnFailure        *ActionFailurePolicy `json:"on_failure,omitempty"`
	Artifacts        []string            `json:"artifacts,omitempty"`
}

// ActionBatchDecision is the planner's verdict on what should happen next.
type ActionBatchDecision struct {
	Mode               string   `json:"mode"` // continue|ask_user|done|blocked
	Reason             string   `json:"reason,omitempty"`
	NeedsUserTrigger   bool     `json:"needs_user_trigger"`
	SatisfactionScore  *float64 `json:"satisfaction_score,omitempty"`
}

// ActionBatch is the planner's output for one tick.
type ActionBatch struct {
	Version       string               `json:"version"`
	Iteration     int                  `json:"iteration"`
	Summary       string               `json:"summary"`
	Decision      ActionBatchDecision  `json:"decision"`
	Actions       []ActionSpec         `json:"actions"`
	Acceptance    []string             `json:"acceptance,omitempty"`
	Risks         []string             `json:"risks,omitempty"`
	NextQuestions []string             `json:"next_questions,omitempty"`
}

// ActionExecutionRecord is the immutable-by-index history entry for one
// executed action.
type ActionExecutionRecord struct {
	Iteration  int              `json:"iteration"`
	ActionID   string           `json:"action_id"`
	ActionType tools.ActionType `json:"action_type"`
	Status     string           `json:"status"` // queued|running|completed|failed|skipped|cancelled
	Title      string           `json:"title"`
	Reason     string           `json:"reason"`
	Input      map[string]any   `json:"input"`
	Output     map[string]any   `json:"output,omitempty"`
	Artifacts  []string         `json:"artifacts,omitempty"`
	Error      string           `json:"error,omitempty"`
	StartedAt  string           `json:"started_at,omitempty"`
	EndedAt    string           `json:"ended_at,omitempty"`
}

// FileChange is emitted by any file-mutating action; the canonical
// definition lives in workspace since HTTP file writes emit it too.
type FileChange = workspace.FileChange

// ExecutionEvent is one append-only, totally-ordered record in a run's
// event stream.
type ExecutionEvent struct {
	EventID        int64          `json:"event_id"`
	Kind           string         `json:"kind"` // planning|action|system
	Stage          string         `json:"stage"`
	Title          string         `json:"title"`
	Detail         string         `json:"detail,omitempty"`
	Status         string         `json:"status"`
	Timestamp      time.Time      `json:"timestamp"`
	Iteration      int            `json:"iteration"`
	ActionID       string         `json:"action_id,omitempty"`
	ParentActionID string         `json:"parent_action_id,omitempty"`
	Input          map[string]any `json:"input,omitempty"`
	Output         map[string]any `json:"output,omitempty"`
	Metrics        map[string]any `json:"metrics,omitempty"`
	Artifacts      []string       `json:"artifacts,omitempty"`
	Error          string         `json:"error,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

// RequestSnapshot pins the request that created a run, so continue/reply
// can be served without the caller re-sending it.
type RequestSnapshot struct {
	Provider      string        `json:"provider"`
	Messages      []ChatMessage `json:"messages"`
	CurrentFile   string        `json:"current_file,omitempty"`
	CurrentCode   string        `json:"current_code,omitempty"`
	FilePath      string        `json:"file_path,omitempty"`
	Snippets      []CodeSnippet `json:"snippets,omitempty"`
	ChatOnly      bool          `json:"chat_only,omitempty"`
	PlanningMode  bool          `json:"planning_mode,omitempty"`
	ForceCodeEdit bool          `json:"force_code_edit,omitempty"`
	HistoryConfig HistoryConfig `json:"history_config"`
}

// Run is the server-side object tracking one user intent end-to-end
// All mutation happens under mu; GetRun/AIResponse callers
// only ever see a deep-copied Snapshot.
type Run struct {
	mu sync.Mutex

	// ctx is the run's master cancellation token: every in-flight action's
	// context is derived from it, so RequestCancel aborts their I/O directly
	// rather than only flipping a flag actions must poll.
	ctx      context.Context
	cancelFn context.CancelFunc

	RunID      string    `json:"run_id"`
	Intent     string    `json:"intent"`
	ProviderID string    `json:"provider_id"`
	Status     RunStatus `json:"status"`
	Iteration  int       `json:"iteration"`
	MaxRetries int       `json:"max_retries"`

	Messages        []ChatMessage           `json:"messages"`
	RequestSnapshot *RequestSnapshot        `json:"request_snapshot,omitempty"`
	ActionHistory   []ActionExecutionRecord `json:"action_history"`

	LatestBatch      *ActionBatch `json:"latest_batch,omitempty"`
	PendingActionIDs []string     `json:"pending_action_ids"`
	ActiveActionID   string       `json:"active_action_id,omitempty"`

	Events    []ExecutionEvent `json:"events"`
	nextEvent int64

	ResultAction      string       `json:"result_action,omitempty"`
	ResultContent     string       `json:"result_content,omitempty"`
	ResultFilePath    string       `json:"result_file_path,omitempty"`
	ResultFileContent string       `json:"result_file_content,omitempty"`
	ResultChanges     []FileChange `json:"result_changes,omitempty"`

	PauseRequested  bool `json:"pause_requested"`
	CancelRequested bool `json:"cancel_requested"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Snapshot is the deep-copied, JSON-safe read view returned to any caller
// outside the owning executor goroutine.
type Snapshot struct {
	RunID            string                  `json:"run_id"`
	Intent           string                  `json:"intent"`
	ProviderID       string                  `json:"provider_id"`
	Status           RunStatus               `json:"status"`
	Iteration        int                     `json:"iteration"`
	MaxRetries       int                     `json:"max_retries"`
	Messages         []ChatMessage           `json:"messages"`
	ActionHistory    []ActionExecutionRecord `json:"action_history"`
	LatestBatch      *ActionBatch            `json:"latest_batch,omitempty"`
	PendingActionIDs []string                `json:"pending_action_ids"`
	ActiveActionID   string                  `json:"active_action_id,omitempty"`
	Events           []ExecutionEvent        `json:"events"`
	ResultAction     string                  `json:"result_action,omitempty"`
	ResultContent    string                  `json:"result_content,omitempty"`
	ResultFilePath   string                  `json:"result_file_path,omitempty"`
	ResultFileContent string                 `json:"result_file_content,omitempty"`
	ResultChanges    []FileChange            `json:"result_changes,omitempty"`
	PauseRequested   bool                    `json:"pause_requested"`
	CancelRequested  bool                    `json:"cancel_requested"`
	StartedAt        time.Time               `json:"started_at"`
	FinishedAt       *time.Time              `json:"finished_at,omitempty"`
}

// AIResponse is the HTTP-facing response envelope.
type AIResponse struct {
	Content          string       `json:"content"`
	FilePath         string       `json:"file_path,omitempty"`
	FileContent      string       `json:"file_content,omitempty"`
	Action           string       `json:"action"`
	Changes          []FileChange `json:"changes,omitempty"`
	Run              *Snapshot    `json:"run,omitempty"`
	RunID            string       `json:"run_id,omitempty"`
	NeedsUserTrigger bool         `json:"needs_user_trigger"`
	PendingActions   []ActionSpec `json:"pending_actions"`
}
