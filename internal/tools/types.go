// Package tools defines the closed set of action types the planner may
// invoke and the typed input/output/error shapes shared by every handler.
package tools

import "strings"

// ActionType is the closed enum of side-effectful operations the planner
// may emit in an ActionBatch. The set is fixed; an unrecognized value at
// the JSON boundary is a planner_invalid_output error, never a new tool.
type ActionType string

const (
	ScanWorkspace      ActionType = "scan_workspace"
	ReadFiles          ActionType = "read_files"
	SearchCode         ActionType = "search_code"
	ExtractSymbols     ActionType = "extract_symbols"
	AnalyzeDependencies ActionType = "analyze_dependencies"
	SummarizeContext   ActionType = "summarize_context"
	ProposeSubplan     ActionType = "propose_subplan"
	RunCommand         ActionType = "run_command"
	RunTests           ActionType = "run_tests"
	RunLint            ActionType = "run_lint"
	RunBuild           ActionType = "run_build"
	CreateFile         ActionType = "create_file"
	UpdateFile         ActionType = "update_file"
	DeleteFile         ActionType = "delete_file"
	MoveFile           ActionType = "move_file"
	ApplyPatch         ActionType = "apply_patch"
	ValidateResult     ActionType = "validate_result"
	AskUser            ActionType = "ask_user"
	RequestApproval    ActionType = "request_approval"
	FinalAnswer        ActionType = "final_answer"
	ReportBlocker      ActionType = "report_blocker"
)

// All lists the closed set of action types, in the stable order used when
// the planner's system prompt enumerates them.
var All = []ActionType{
	ScanWorkspace, ReadFiles, SearchCode, ExtractSymbols, AnalyzeDependencies,
	SummarizeContext, ProposeSubplan,
	RunCommand, RunTests, RunLint, RunBuild,
	CreateFile, UpdateFile, DeleteFile, MoveFile, ApplyPatch,
	ValidateResult, AskUser, RequestApproval, FinalAnswer, ReportBlocker,
}

var validTypes = func() map[ActionType]struct{} {
	m := make(map[ActionType]struct{}, len(All))
	for _, t := range All {
		m[t] = struct{}{}
	}
	return m
}()

// Valid reports whether t is one of the closed set of action types.
func (t ActionType) Valid() bool {
	_, ok := validTypes[t]
	return ok
}

// Mutating reports whether actions of this type write to the workspace or
// otherwise terminate the run; these are the "critical" actions of
// whose failure must fail the run rather than merely the action.
func (t ActionType) Mutating() bool {
	switch t {
	case CreateFile, UpdateFile, DeleteFile, MoveFile, ApplyPatch, FinalAnswer, ReportBlocker:
		return true
	default:
		return false
	}
}

// Suspends reports whether a completed action of this type should move
// the run to waiting_user rather than continuing automatically.
func (t ActionType) Suspends() bool {
	return t == AskUser || t == RequestApproval
}

// ErrorKind is a stable, machine-readable error taxonomy shared across the
// engine. Tool errors use the tool_* subset.
type ErrorKind string

const (
	ErrPathEscape    ErrorKind = "tool_path_escape"
	ErrNotFound      ErrorKind = "tool_not_found"
	ErrIO            ErrorKind = "tool_io"
	ErrTimeout       ErrorKind = "tool_timeout"
	ErrCancelled     ErrorKind = "tool_cancelled"
	ErrInvalidInput  ErrorKind = "tool_invalid_input"
)

// Error is the structured failure carried on a failed ActionExecutionRecord.
type Error struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return string(e.Kind) + ": " + e.Message
}

// NewError builds a normalized Error, defaulting the message when blank.
func NewError(kind ErrorKind, message string, retryable bool) *Error {
	message = strings.TrimSpace(message)
	if message == "" {
		message = "tool failed"
	}
	return &Error{Kind: kind, Message: message, Retryable: retryable}
}

// Retryable reports whether repeated attempts at the same input might
// succeed; timeouts and transient IO are retryable, invalid input and
// path escapes are not.
func Retryable(kind ErrorKind) bool {
	switch kind {
	case ErrTimeout, ErrIO:
		return true
	default:
		return false
	}
}
