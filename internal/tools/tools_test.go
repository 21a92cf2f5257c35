package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zlhalen/Nexar/internal/workspace"
)

func newTestDeps(t *testing.T) (Deps, *workspace.Service) {
	t.Helper()
	svc, err := workspace.New(t.TempDir())
	require.NoError(t, err)
	return Deps{Workspace: svc}, svc
}

func TestDispatchUnknownType(t *testing.T) {
	deps, _ := newTestDeps(t)
	_, err := Dispatch(context.Background(), ActionType("bogus"), deps, nil)
	require.Error(t, err)
	var toolErr *Error
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, ErrInvalidInput, toolErr.Kind)
}

func TestScanWorkspaceLimits(t *testing.T) {
	deps, svc := newTestDeps(t)
	for i := 0; i < 5; i++ {
		_, _, err := svc.WriteFile("f"+string(rune('a'+i))+".txt", "x")
		require.NoError(t, err)
	}
	res, err := Dispatch(context.Background(), ScanWorkspace, deps, map[string]any{"limit": float64(3)})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Output["file_count"])
}

func TestReadFilesAcceptsSynonymFields(t *testing.T) {
	deps, svc := newTestDeps(t)
	_, _, err := svc.WriteFile("a.txt", "hello")
	require.NoError(t, err)

	res, err := Dispatch(context.Background(), ReadFiles, deps, map[string]any{
		"file_paths": []any{"a.txt"},
	})
	require.NoError(t, err)
	files := res.Output["files"].([]map[string]any)
	require.Len(t, files, 1)
	assert.Equal(t, "hello", files[0]["content"])
}

func TestSearchCodeFindsMatches(t *testing.T) {
	deps, svc := newTestDeps(t)
	_, _, err := svc.WriteFile("a.go", "package main\nfunc TODO() {}\n")
	require.NoError(t, err)

	res, err := Dispatch(context.Background(), SearchCode, deps, map[string]any{"query": "TODO"})
	require.NoError(t, err)
	matches := res.Output["matches"].([]map[string]any)
	require.Len(t, matches, 1)
	assert.Equal(t, "a.go", matches[0]["path"])
}

func TestSearchCodeEmptyQuery(t *testing.T) {
	deps, _ := newTestDeps(t)
	res, err := Dispatch(context.Background(), SearchCode, deps, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "empty_query", res.Output["reason"])
}

func TestExtractSymbolsFindsFunctions(t *testing.T) {
	deps, svc := newTestDeps(t)
	_, _, err := svc.WriteFile("a.py", "def foo():\n    pass\n\nclass Bar:\n    pass\n")
	require.NoError(t, err)

	res, err := Dispatch(context.Background(), ExtractSymbols, deps, map[string]any{"paths": []any{"a.py"}})
	require.NoError(t, err)
	symbols := res.Output["symbols"].([]map[string]any)
	require.Len(t, symbols, 2)
	assert.Equal(t, "foo", symbols[0]["name"])
}

func TestAnalyzeDependenciesFindsImports(t *testing.T) {
	deps, svc := newTestDeps(t)
	_, _, err := svc.WriteFile("a.py", "from os import path\nimport sys\n")
	require.NoError(t, err)

	res, err := Dispatch(context.Background(), AnalyzeDependencies, deps, map[string]any{"path": "a.py"})
	require.NoError(t, err)
	assert.Contains(t, res.Output["dependencies"], "os")
}

func TestCreateAndUpdateFileProducesFileChange(t *testing.T) {
	deps, _ := newTestDeps(t)
	res, err := Dispatch(context.Background(), CreateFile, deps, map[string]any{"path": "x.txt", "content": "v1"})
	require.NoError(t, err)
	require.Len(t, res.Changes, 1)
	assert.Equal(t, "", res.Changes[0].BeforeContent)
	assert.Equal(t, "v1", res.Changes[0].AfterContent)

	res2, err := Dispatch(context.Background(), UpdateFile, deps, map[string]any{"path": "x.txt", "content": "v2"})
	require.NoError(t, err)
	assert.Equal(t, "v1", res2.Changes[0].BeforeContent)
	assert.Equal(t, "v2", res2.Changes[0].AfterContent)
	assert.NotEmpty(t, res2.Changes[0].DiffUnified)
}

func TestWriteFileMissingPathIsInvalidInput(t *testing.T) {
	deps, _ := newTestDeps(t)
	_, err := Dispatch(context.Background(), CreateFile, deps, map[string]any{"content": "v"})
	require.Error(t, err)
	var toolErr *Error
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, ErrInvalidInput, toolErr.Kind)
}

func TestApplyPatchAppliesHunk(t *testing.T) {
	deps, svc := newTestDeps(t)
	_, _, err := svc.WriteFile("a.txt", "line1\nline2\nline3\n")
	require.NoError(t, err)

	diff := "@@ -1,3 +1,3 @@\n line1\n-line2\n+line2-changed\n line3\n"
	res, err := Dispatch(context.Background(), ApplyPatch, deps, map[string]any{"path": "a.txt", "diff_unified": diff})
	require.NoError(t, err)
	assert.Contains(t, res.Changes[0].AfterContent, "line2-changed")
}

func TestDeleteFileRemovesEntry(t *testing.T) {
	deps, svc := newTestDeps(t)
	_, _, err := svc.WriteFile("gone.txt", "bye")
	require.NoError(t, err)
	res, err := Dispatch(context.Background(), DeleteFile, deps, map[string]any{"path": "gone.txt"})
	require.NoError(t, err)
	assert.Equal(t, true, res.Output["deleted"])

	_, _, err = svc.ReadFile("gone.txt")
	assert.Error(t, err)
}

func TestMoveFileRenames(t *testing.T) {
	deps, svc := newTestDeps(t)
	_, _, err := svc.WriteFile("old.txt", "content")
	require.NoError(t, err)
	res, err := Dispatch(context.Background(), MoveFile, deps, map[string]any{"from": "old.txt", "to": "new.txt"})
	require.NoError(t, err)
	assert.Equal(t, true, res.Output["moved"])

	content, _, err := svc.ReadFile("new.txt")
	require.NoError(t, err)
	assert.Equal(t, "content", content)
}

func TestAskUserAndRequestApprovalBlock(t *testing.T) {
	deps, _ := newTestDeps(t)
	res, err := Dispatch(context.Background(), AskUser, deps, map[string]any{"question": "which file?"})
	require.NoError(t, err)
	assert.True(t, res.Blocked)

	res2, err := Dispatch(context.Background(), RequestApproval, deps, map[string]any{"prompt": "ok to delete?"})
	require.NoError(t, err)
	assert.True(t, res2.Blocked)
}

func TestValidateResultFailsFastOnHistoryFailure(t *testing.T) {
	deps, _ := newTestDeps(t)
	deps.History = []HistoryRecord{{ActionID: "a1", ActionType: RunTests, Status: "failed"}}
	res, err := Dispatch(context.Background(), ValidateResult, deps, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, false, res.Output["passed"])
}

func TestValidateResultReflectsProviderSatisfiedVerdict(t *testing.T) {
	deps, _ := newTestDeps(t)
	deps.Summarize = func(ctx context.Context, prompt string) (string, error) {
		return `{"satisfied": true, "reason": "tests pass and the file matches the request"}`, nil
	}
	res, err := Dispatch(context.Background(), ValidateResult, deps, map[string]any{
		"criteria": []any{"tests pass"}, "evidence": "go test ./... exited 0",
	})
	require.NoError(t, err)
	assert.Equal(t, true, res.Output["passed"])
	assert.Equal(t, "tests pass and the file matches the request", res.Output["reason"])
}

func TestValidateResultReflectsProviderUnsatisfiedVerdict(t *testing.T) {
	deps, _ := newTestDeps(t)
	deps.Summarize = func(ctx context.Context, prompt string) (string, error) {
		return "Here is my judgement: ```json\n{\"satisfied\": false, \"reason\": \"the new endpoint has no test coverage\"}\n```", nil
	}
	res, err := Dispatch(context.Background(), ValidateResult, deps, map[string]any{
		"criteria": []any{"new endpoint is tested"}, "evidence": "endpoint added, no tests",
	})
	require.NoError(t, err)
	assert.Equal(t, false, res.Output["passed"])
	assert.Equal(t, []string{"the new endpoint has no test coverage"}, res.Output["failures"])
}

func TestValidateResultUnparseableVerdictCountsAsUnsatisfied(t *testing.T) {
	deps, _ := newTestDeps(t)
	deps.Summarize = func(ctx context.Context, prompt string) (string, error) {
		return "I think this looks fine overall.", nil
	}
	res, err := Dispatch(context.Background(), ValidateResult, deps, map[string]any{"evidence": "trust me"})
	require.NoError(t, err)
	assert.Equal(t, false, res.Output["passed"])
}

func TestRunCommandRequiresRunner(t *testing.T) {
	deps, _ := newTestDeps(t)
	_, err := Dispatch(context.Background(), RunCommand, deps, map[string]any{"command": "echo hi"})
	require.Error(t, err)
}

func TestRunCommandDelegatesToRunner(t *testing.T) {
	deps, _ := newTestDeps(t)
	deps.RunCommand = func(ctx context.Context, command, cwd string, timeoutSec int) (string, string, int, bool, error) {
		return "out", "", 0, false, nil
	}
	res, err := Dispatch(context.Background(), RunTests, deps, map[string]any{"command": "go test ./..."})
	require.NoError(t, err)
	assert.Equal(t, "out", res.Output["stdout"])
	assert.Equal(t, 0, res.Output["exit_code"])
}
