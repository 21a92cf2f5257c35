package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/zlhalen/Nexar/internal/workspace"
)

func unifiedDiff(path, before, after string) string {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: "a/" + path,
		ToFile:   "b/" + path,
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return ""
	}
	return text
}

func buildFileChange(path, before, after, writeResult, errMsg string) workspace.FileChange {
	return workspace.FileChange{
		FilePath:      path,
		BeforeContent: before,
		AfterContent:  after,
		FileContent:   after,
		DiffUnified:   unifiedDiff(path, before, after),
		BeforeHash:    workspace.Hash([]byte(before)),
		AfterHash:     workspace.Hash([]byte(after)),
		WriteResult:   writeResult,
		Error:         errMsg,
	}
}

func handleWriteFile(_ context.Context, deps Deps, input map[string]any) (Result, error) {
	p := strings.TrimSpace(stringInput(input, "path"))
	if p == "" {
		return Result{}, NewError(ErrInvalidInput, "write action missing path", false)
	}
	content, ok := input["content"].(string)
	if !ok {
		return Result{}, NewError(ErrInvalidInput, "write action missing content", false)
	}

	before, after, err := deps.Workspace.WriteFile(p, content)
	if err != nil {
		return Result{}, NewError(ErrIO, err.Error(), true)
	}
	change := buildFileChange(p, before, after, "written", "")
	return Result{
		Output: map[string]any{
			"path":        p,
			"before_len":  len(before),
			"after_len":   len(after),
		},
		Changes: []workspace.FileChange{change},
	}, nil
}

// handleApplyPatch parses a unified diff and applies its hunks to the
// current file content. No third-party patch-apply library exists in the
// dependency corpus, so hunk parsing is hand-rolled here.
func handleApplyPatch(_ context.Context, deps Deps, input map[string]any) (Result, error) {
	p := strings.TrimSpace(stringInput(input, "path"))
	diffText := stringInput(input, "diff_unified", "diff", "patch")
	if p == "" {
		return Result{}, NewError(ErrInvalidInput, "apply_patch missing path", false)
	}
	if diffText == "" {
		return Result{}, NewError(ErrInvalidInput, "apply_patch missing diff_unified", false)
	}

	before, _, err := deps.Workspace.ReadFile(p)
	if err != nil {
		before = ""
	}
	after, err := applyUnifiedDiff(before, diffText)
	if err != nil {
		return Result{}, NewError(ErrInvalidInput, "apply_patch: "+err.Error(), false)
	}

	writtenBefore, writtenAfter, err := deps.Workspace.WriteFile(p, after)
	if err != nil {
		return Result{}, NewError(ErrIO, err.Error(), true)
	}
	change := buildFileChange(p, writtenBefore, writtenAfter, "written", "")
	return Result{
		Output:  map[string]any{"path": p, "before_len": len(writtenBefore), "after_len": len(writtenAfter)},
		Changes: []workspace.FileChange{change},
	}, nil
}

// applyUnifiedDiff applies a single-file unified diff's hunks to src.
func applyUnifiedDiff(src, diffText string) (string, error) {
	srcLines := strings.Split(src, "\n")
	var out []string
	cursor := 0 // 0-based index into srcLines already copied

	lines := strings.Split(diffText, "\n")
	i := 0
	for i < len(lines) {
		line := lines[i]
		if !strings.HasPrefix(line, "@@") {
			i++
			continue
		}
		start, _, ok := parseHunkHeader(line)
		if !ok {
			return "", fmt.Errorf("malformed hunk header: %q", line)
		}
		srcStart := start - 1
		if srcStart < cursor {
			return "", fmt.Errorf("overlapping or out-of-order hunk at %q", line)
		}
		out = append(out, srcLines[cursor:srcStart]...)
		cursor = srcStart
		i++
		for i < len(lines) && !strings.HasPrefix(lines[i], "@@") {
			hl := lines[i]
			switch {
			case strings.HasPrefix(hl, "-"):
				cursor++
			case strings.HasPrefix(hl, "+"):
				out = append(out, hl[1:])
			case strings.HasPrefix(hl, " "):
				out = append(out, hl[1:])
				cursor++
			case hl == "" || strings.HasPrefix(hl, "\\"):
				// blank trailer / "\ No newline at end of file" marker
			default:
				return "", fmt.Errorf("unrecognized hunk line: %q", hl)
			}
			i++
		}
	}
	out = append(out, srcLines[cursor:]...)
	return strings.Join(out, "\n"), nil
}

// parseHunkHeader extracts the source start line from "@@ -a,b +c,d @@".
func parseHunkHeader(header string) (start, count int, ok bool) {
	parts := strings.Fields(header)
	if len(parts) < 2 {
		return 0, 0, false
	}
	spec := strings.TrimPrefix(parts[1], "-")
	pieces := strings.SplitN(spec, ",", 2)
	n, err := strconv.Atoi(pieces[0])
	if err != nil {
		return 0, 0, false
	}
	count = 1
	if len(pieces) == 2 {
		count, _ = strconv.Atoi(pieces[1])
	}
	return n, count, true
}

func handleDeleteFile(_ context.Context, deps Deps, input map[string]any) (Result, error) {
	p := strings.TrimSpace(stringInput(input, "path"))
	if p == "" {
		return Result{}, NewError(ErrInvalidInput, "delete action missing path", false)
	}
	before, _, _ := deps.Workspace.ReadFile(p)
	if err := deps.Workspace.Delete(p); err != nil {
		return Result{}, NewError(ErrIO, err.Error(), true)
	}
	change := buildFileChange(p, before, "", "written", "")
	change.FileContent = ""
	return Result{
		Output:  map[string]any{"path": p, "deleted": true},
		Changes: []workspace.FileChange{change},
	}, nil
}

func handleMoveFile(_ context.Context, deps Deps, input map[string]any) (Result, error) {
	from := strings.TrimSpace(stringInput(input, "from", "old_path"))
	to := strings.TrimSpace(stringInput(input, "to", "new_path"))
	if from == "" || to == "" {
		return Result{}, NewError(ErrInvalidInput, "move action missing from/to", false)
	}
	content, _, _ := deps.Workspace.ReadFile(from)
	if err := deps.Workspace.Rename(from, to); err != nil {
		return Result{}, NewError(ErrIO, err.Error(), true)
	}
	change := workspace.FileChange{
		FilePath:    to,
		FileContent: content,
		WriteResult: "written",
	}
	return Result{
		Output:  map[string]any{"old_path": from, "new_path": to, "moved": true},
		Changes: []workspace.FileChange{change},
	}, nil
}
