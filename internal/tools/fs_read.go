package tools

import (
	"context"
	"regexp"
	"strings"
)

const (
	defaultScanLimit   = 200
	defaultReadMax     = 50
	defaultReadChars   = 120_000
	defaultSearchLimit = 50
	defaultSymbolFiles = 50
)

func handleScanWorkspace(_ context.Context, deps Deps, input map[string]any) (Result, error) {
	limit := intInput(input, defaultScanLimit, "limit", "max_files")
	files, dirCount, err := deps.Workspace.Walk(limit)
	if err != nil {
		return Result{}, NewError(ErrIO, err.Error(), true)
	}
	return Result{Output: map[string]any{
		"root":       deps.Workspace.Root(),
		"files":      files,
		"file_count": len(files),
		"dir_count":  dirCount,
	}}, nil
}

func handleReadFiles(_ context.Context, deps Deps, input map[string]any) (Result, error) {
	paths := stringListInput(input, "paths", "file_paths", "files", "targets")
	maxChars := intInput(input, defaultReadChars, "max_chars")
	if len(paths) > defaultReadMax {
		paths = paths[:defaultReadMax]
	}

	results := make([]map[string]any, 0, len(paths))
	for _, p := range paths {
		content, truncatedByCap, err := deps.Workspace.ReadFile(p)
		if err != nil {
			results = append(results, map[string]any{"path": p, "error": err.Error()})
			continue
		}
		truncated := truncatedByCap || len(content) > maxChars
		text := content
		if len(text) > maxChars {
			text = text[:maxChars]
		}
		results = append(results, map[string]any{
			"path":               p,
			"chars":              len(content),
			"content":            text,
			"content_truncated":  truncated,
			"returned_chars":     len(text),
		})
	}
	return Result{Output: map[string]any{"files": results}}, nil
}

func handleSearchCode(_ context.Context, deps Deps, input map[string]any) (Result, error) {
	query := strings.TrimSpace(stringInput(input, "query"))
	if query == "" {
		return Result{Output: map[string]any{"query": "", "matches": []any{}, "reason": "empty_query"}}, nil
	}
	limit := intInput(input, defaultSearchLimit, "limit", "max_matches")
	candidates := stringListInput(input, "paths")
	if len(candidates) == 0 {
		files, _, err := deps.Workspace.Walk(0)
		if err != nil {
			return Result{}, NewError(ErrIO, err.Error(), true)
		}
		candidates = files
	}

	pattern := regexp.MustCompile("(?i)" + regexp.QuoteMeta(query))
	matches := make([]map[string]any, 0, limit)
	for _, rel := range candidates {
		content, _, err := deps.Workspace.ReadFile(rel)
		if err != nil {
			continue
		}
		for idx, line := range strings.Split(content, "\n") {
			if pattern.MatchString(line) {
				text := line
				if len(text) > 240 {
					text = text[:240]
				}
				matches = append(matches, map[string]any{"path": rel, "line": idx + 1, "text": text})
				if len(matches) >= limit {
					return Result{Output: map[string]any{"query": query, "matches": matches}}, nil
				}
			}
		}
	}
	return Result{Output: map[string]any{"query": query, "matches": matches}}, nil
}

var symbolPattern = regexp.MustCompile(`^\s*(def|class|function|func|type)\s+([A-Za-z_][A-Za-z0-9_]*)`)

func handleExtractSymbols(_ context.Context, deps Deps, input map[string]any) (Result, error) {
	paths := stringListInput(input, "paths", "path")
	if len(paths) == 0 {
		return Result{Output: map[string]any{"symbols": []any{}, "reason": "no_paths"}}, nil
	}
	if len(paths) > defaultSymbolFiles {
		paths = paths[:defaultSymbolFiles]
	}
	symbols := make([]map[string]any, 0)
	for _, p := range paths {
		content, _, err := deps.Workspace.ReadFile(p)
		if err != nil {
			continue
		}
		for idx, line := range strings.Split(content, "\n") {
			m := symbolPattern.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			symbols = append(symbols, map[string]any{
				"path": p, "line": idx + 1, "kind": m[1], "name": m[2],
			})
		}
	}
	return Result{Output: map[string]any{"symbols": symbols}}, nil
}

var dependencyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\s*import\s+.*?\s+from\s+["']([^"']+)["']`),
	regexp.MustCompile(`^\s*from\s+([A-Za-z0-9_.]+)\s+import\s+`),
	regexp.MustCompile(`^\s*require\(["']([^"']+)["']\)`),
	regexp.MustCompile(`^\s*import\s+\(?\s*["']([^"']+)["']`),
}

func handleAnalyzeDependencies(_ context.Context, deps Deps, input map[string]any) (Result, error) {
	p := strings.TrimSpace(stringInput(input, "path"))
	if p == "" {
		return Result{Output: map[string]any{"path": nil, "dependencies": []any{}, "reason": "no_target_file"}}, nil
	}
	content, _, err := deps.Workspace.ReadFile(p)
	if err != nil {
		return Result{Output: map[string]any{"path": p, "dependencies": []any{}, "reason": "read_failed"}}, nil
	}
	deps_ := make([]string, 0)
	for _, line := range strings.Split(content, "\n") {
		for _, pat := range dependencyPatterns {
			if m := pat.FindStringSubmatch(line); m != nil {
				deps_ = append(deps_, m[1])
				break
			}
		}
	}
	if len(deps_) > 80 {
		deps_ = deps_[:80]
	}
	return Result{Output: map[string]any{
		"path":              p,
		"dependencies":      deps_,
		"dependency_count":  len(deps_),
	}}, nil
}
