package tools

import (
	"context"
	"strings"

	"github.com/tidwall/gjson"
)

func handleSummarizeContext(_ context.Context, deps Deps, _ map[string]any) (Result, error) {
	recent := deps.History
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	last := make([]map[string]any, 0, len(recent))
	for _, r := range recent {
		last = append(last, map[string]any{
			"id":     r.ActionID,
			"type":   r.ActionType,
			"status": r.Status,
			"error":  r.Error,
		})
	}
	return Result{Output: map[string]any{
		"history_count": len(deps.History),
		"last_actions":  last,
	}}, nil
}

func handleProposeSubplan(_ context.Context, _ Deps, input map[string]any) (Result, error) {
	steps, _ := input["steps"].([]any)
	return Result{Output: map[string]any{
		"steps":      steps,
		"step_count": len(steps),
	}}, nil
}

func handleValidateResult(ctx context.Context, deps Deps, input map[string]any) (Result, error) {
	var failed []string
	for _, r := range deps.History {
		if r.Status == "failed" || r.Status == "blocked" {
			failed = append(failed, r.ActionID+":"+string(r.ActionType))
		}
	}
	if len(failed) > 0 {
		if len(failed) > 10 {
			failed = failed[len(failed)-10:]
		}
		return Result{Output: map[string]any{
			"passed":   false,
			"failures": failed,
		}}, nil
	}

	criteria := stringListInput(input, "criteria")
	evidence := stringInput(input, "evidence")
	if deps.Summarize == nil {
		return Result{Output: map[string]any{"passed": true, "failures": []any{}}}, nil
	}
	prompt := "Given this evidence, judge whether the criteria are satisfied.\n" +
		"Respond with a single JSON object of the form {\"satisfied\": true|false, \"reason\": \"...\"} and nothing else.\n" +
		"Criteria: " + strings.Join(criteria, "; ") + "\nEvidence:\n" + evidence
	verdict, err := deps.Summarize(ctx, prompt)
	if err != nil {
		return Result{Output: map[string]any{"passed": true, "failures": []any{}, "reason": "validation_llm_unavailable"}}, nil
	}

	passed, reason := parseSatisfactionVerdict(verdict)
	out := map[string]any{"passed": passed, "reason": reason}
	if passed {
		out["failures"] = []any{}
	} else {
		out["failures"] = []string{reason}
	}
	return Result{Output: out}, nil
}

// parseSatisfactionVerdict tolerantly extracts {"satisfied","reason"} out of
// a provider response that may wrap it in prose or markdown fences. A verdict
// whose satisfied field can't be found counts as unsatisfied rather than
// passing, so an unparseable judge response can't silently clear validation.
func parseSatisfactionVerdict(raw string) (passed bool, reason string) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)
	reason = raw

	candidate := raw
	if !gjson.Valid(candidate) {
		start := strings.Index(raw, "{")
		end := strings.LastIndex(raw, "}")
		if start >= 0 && end > start {
			candidate = raw[start : end+1]
		}
	}
	if r := gjson.Get(candidate, "reason"); r.Exists() && r.String() != "" {
		reason = r.String()
	}
	if s := gjson.Get(candidate, "satisfied"); s.Exists() {
		return s.Bool(), reason
	}
	return false, reason
}

func handleAskUser(_ context.Context, _ Deps, input map[string]any) (Result, error) {
	question := stringInput(input, "question")
	if question == "" {
		question = "Additional information is needed before continuing."
	}
	return Result{Output: map[string]any{"question": question}, Blocked: true}, nil
}

func handleRequestApproval(_ context.Context, _ Deps, input map[string]any) (Result, error) {
	prompt := stringInput(input, "prompt")
	if prompt == "" {
		prompt = "This action requires your approval before it can proceed."
	}
	return Result{Output: map[string]any{"approval_prompt": prompt}, Blocked: true}, nil
}

func handleFinalAnswer(_ context.Context, _ Deps, input map[string]any) (Result, error) {
	content := stringInput(input, "content")
	if content == "" {
		content = "Task complete."
	}
	out := map[string]any{"content": content}
	if fp := stringInput(input, "file_path"); fp != "" {
		out["file_path"] = fp
	}
	if fc := stringInput(input, "file_content"); fc != "" {
		out["file_content"] = fc
	}
	return Result{Output: out}, nil
}

func handleReportBlocker(_ context.Context, _ Deps, input map[string]any) (Result, error) {
	reason := stringInput(input, "reason")
	if reason == "" {
		reason = "execution blocked"
	}
	return Result{Output: map[string]any{"reason": reason}, Blocked: true}, nil
}
