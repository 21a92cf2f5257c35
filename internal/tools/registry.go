package tools

import (
	"context"

	"github.com/zlhalen/Nexar/internal/workspace"
)

// Result is a handler's normalized outcome: pure-data output plus any
// FileChange records produced by a mutating action.
type Result struct {
	Output  map[string]any
	Changes []workspace.FileChange
	Blocked bool // ask_user/request_approval always report blocked=true
}

// Handler executes one action's typed input against the workspace and
// returns its normalized output. ctx carries the action's timeout.
type Handler func(ctx context.Context, deps Deps, input map[string]any) (Result, error)

// Deps bundles what handlers need without importing engine (which imports
// tools), keeping the dependency direction one-way.
type Deps struct {
	Workspace   *workspace.Service
	History     []HistoryRecord
	RunCommand  CommandRunner
	Summarize   Summarizer
	LatestQuery string
}

// HistoryRecord is the minimal action-history view handlers can see
// (summarize_context, validate_result). It mirrors engine.ActionExecutionRecord.
type HistoryRecord struct {
	ActionID   string
	ActionType ActionType
	Status     string
	Error      string
}

// CommandRunner executes a shell command rooted at the workspace and
// returns its captured result; the Run Executor supplies the concrete
// exec.CommandContext-based implementation so this package stays testable.
type CommandRunner func(ctx context.Context, command, cwd string, timeoutSec int) (stdout, stderr string, exitCode int, truncated bool, err error)

// Summarizer produces a short natural-language judgement, used by
// validate_result when no history failures already settle the question.
type Summarizer func(ctx context.Context, prompt string) (string, error)

// registry maps each closed ActionType to its handler. Built once in init
// so Dispatch never needs a mutex.
var registry = map[ActionType]Handler{
	ScanWorkspace:       handleScanWorkspace,
	ReadFiles:           handleReadFiles,
	SearchCode:          handleSearchCode,
	ExtractSymbols:      handleExtractSymbols,
	AnalyzeDependencies: handleAnalyzeDependencies,
	SummarizeContext:    handleSummarizeContext,
	ProposeSubplan:      handleProposeSubplan,
	RunCommand:          handleRunCommand,
	RunTests:            handleRunCommand,
	RunLint:             handleRunCommand,
	RunBuild:            handleRunCommand,
	CreateFile:          handleWriteFile,
	UpdateFile:          handleWriteFile,
	ApplyPatch:          handleApplyPatch,
	DeleteFile:          handleDeleteFile,
	MoveFile:            handleMoveFile,
	ValidateResult:      handleValidateResult,
	AskUser:             handleAskUser,
	RequestApproval:     handleRequestApproval,
	FinalAnswer:         handleFinalAnswer,
	ReportBlocker:       handleReportBlocker,
}

// Dispatch runs the handler registered for t. Callers must have already
// validated t.Valid(); an unregistered type is reported as a
// tool_invalid_input error.
func Dispatch(ctx context.Context, t ActionType, deps Deps, input map[string]any) (Result, error) {
	h, ok := registry[t]
	if !ok {
		return Result{}, NewError(ErrInvalidInput, "unsupported action type: "+string(t), false)
	}
	return h(ctx, deps, input)
}

// stringInput reads a string field, trying each key in order and returning
// the first non-empty match — mirrors the reference implementation's
// tolerance for planner-chosen field-name synonyms (e.g. diff_unified/diff/patch).
func stringInput(input map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := input[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func intInput(input map[string]any, def int, keys ...string) int {
	for _, k := range keys {
		v, ok := input[k]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return def
}

// stringListInput reads a []string field, accepting a bare string as a
// one-element list (planner output is not always careful about arity).
func stringListInput(input map[string]any, keys ...string) []string {
	for _, k := range keys {
		v, ok := input[k]
		if !ok {
			continue
		}
		switch vv := v.(type) {
		case string:
			if vv != "" {
				return []string{vv}
			}
		case []any:
			out := make([]string, 0, len(vv))
			for _, item := range vv {
				if s, ok := item.(string); ok && s != "" {
					out = append(out, s)
				}
			}
			if len(out) > 0 {
				return out
			}
		}
	}
	return nil
}
