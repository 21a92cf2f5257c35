package tools

import (
	"context"
	"errors"
	"strings"
	"time"
)

const defaultCommandTimeoutSec = 120

func handleRunCommand(ctx context.Context, deps Deps, input map[string]any) (Result, error) {
	command := strings.TrimSpace(stringInput(input, "command"))
	if command == "" {
		return Result{}, NewError(ErrInvalidInput, "empty command", false)
	}
	cwd := stringInput(input, "cwd")
	timeout := intInput(input, defaultCommandTimeoutSec, "timeout_sec")
	if deps.RunCommand == nil {
		return Result{}, NewError(ErrIO, "no command runner configured", false)
	}

	started := time.Now()
	stdout, stderr, exitCode, truncated, err := deps.RunCommand(ctx, command, cwd, timeout)
	elapsed := time.Since(started).Milliseconds()
	if err != nil {
		var toolErr *Error
		if errors.As(err, &toolErr) {
			return Result{}, toolErr
		}
		if ctx.Err() != nil {
			return Result{}, NewError(ErrTimeout, "command timed out", true)
		}
		return Result{}, NewError(ErrIO, err.Error(), true)
	}
	return Result{Output: map[string]any{
		"command":     command,
		"exit_code":   exitCode,
		"stdout":      stdout,
		"stderr":      stderr,
		"duration_ms": elapsed,
		"truncated":   truncated,
	}}, nil
}
