// Package planner implements the stateless action-planning step: given a
// run's context, it prompts the configured LLM for the next ActionBatch and
// normalizes/validates the result before the executor ever sees it.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/zlhalen/Nexar/internal/compactor"
	"github.com/zlhalen/Nexar/internal/engine"
	"github.com/zlhalen/Nexar/internal/provider"
	"github.com/zlhalen/Nexar/internal/tools"
	"github.com/zlhalen/Nexar/internal/workspace"
)

// ErrInvalidOutput is returned by Next, wrapping the last validation error,
// when the LLM's output cannot be coerced into a valid ActionBatch after
// repair retries. The Executor treats it like any other Next error and runs
// the Fallback ask_user batch; the run is not marked failed.
var ErrInvalidOutput = errors.New("planner_invalid_output")

const maxRepairAttempts = 2

// Planner turns run context into the next ActionBatch.
type Planner struct {
	router    *provider.Router
	compactor *compactor.Compactor
	workspace *workspace.Service
}

func New(router *provider.Router, compact *compactor.Compactor, ws *workspace.Service) *Planner {
	return &Planner{router: router, compactor: compact, workspace: ws}
}

// Next produces the next ActionBatch, retrying with an error-repair prompt
// up to maxRepairAttempts times before giving up.
func (p *Planner) Next(ctx context.Context, req engine.PlanRequest) (*engine.ActionBatch, *provider.ChatResult, error) {
	compacted, _ := p.compactor.Compact(ctx, req.RunID, req.ProviderID, req.Snapshot.Messages, req.Snapshot.HistoryConfig)

	snapshot := buildContextSnapshot(p.workspace, req.Snapshot, req.ActionHistory)
	input := planInput{
		OriginalUserQuery:   latestUserQuery(req.Snapshot.Messages),
		ConversationHistory: toPromptMessages(compacted),
		Iteration:           req.Iteration,
		ContextSnapshot:     snapshot,
		PriorActions:        priorActionsPayload(req.ActionHistory),
		AvailableActions:    actionNames(),
	}
	// The system-generated summary message (if any) sits first in compacted;
	// surface it separately too, matching the reference payload shape.
	if len(compacted) > 0 && compacted[0].Role == "system" {
		input.ConversationSummary = compacted[0].Content
		input.ConversationHistory = toPromptMessages(compacted[1:])
	}

	payload, err := json.Marshal(input)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal planner input: %w", err)
	}

	messages := []provider.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: string(payload)},
	}

	var lastResult *provider.ChatResult
	var lastErr error
	for attempt := 0; attempt <= maxRepairAttempts; attempt++ {
		result, err := p.router.Chat(ctx, req.ProviderID, messages, provider.Options{
			Temperature:    0.2,
			ResponseFormat: provider.FormatJSONObject,
		})
		if err != nil {
			return nil, nil, err
		}
		lastResult = result

		batch, verr := parseAndValidate(result.Content, req.Iteration, req.ActionHistory)
		if verr == nil {
			normalized := normalizeBatch(batch, req.Iteration, req.ActionHistory)
			return normalized, result, nil
		}
		lastErr = verr
		messages = append(messages,
			provider.Message{Role: "assistant", Content: result.Content},
			provider.Message{Role: "user", Content: "That output was invalid: " + verr.Error() + ". Return a corrected JSON ActionBatch only."},
		)
	}
	return nil, lastResult, fmt.Errorf("%w: %v", ErrInvalidOutput, lastErr)
}

// Fallback satisfies engine.Planner, delegating to the package-level
// Fallback so the Executor can invoke it without constructing a Request.
func (p *Planner) Fallback(iteration int, reason string) *engine.ActionBatch {
	return Fallback(iteration, reason)
}

// Fallback builds the safe ask_user batch the Executor uses whenever Next
// returns an error: a provider failure, or output still invalid after the
// repair retries.
func Fallback(iteration int, reason string) *engine.ActionBatch {
	return &engine.ActionBatch{
		Version:   "1.0",
		Iteration: iteration,
		Summary:   "Unable to reliably plan the next step; waiting on the user.",
		Decision: engine.ActionBatchDecision{
			Mode:             "ask_user",
			Reason:           reason,
			NeedsUserTrigger: false,
		},
		Actions: []engine.ActionSpec{
			{
				ID:              "a1",
				Type:            tools.AskUser,
				Title:           "Request clarification",
				Reason:          reason,
				Input:           map[string]any{"question": "Please share the target file, expected outcome, or the commands you'll allow."},
				SuccessCriteria: []string{"user supplies clarification"},
			},
		},
		NextQuestions: []string{"What file path or feature scope should this target?"},
	}
}

func toPromptMessages(msgs []provider.Message) []promptMessage {
	out := make([]promptMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, promptMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

func actionNames() []string {
	names := make([]string, len(tools.All))
	for i, t := range tools.All {
		names[i] = string(t)
	}
	return names
}

// extractJSONObject pulls the span from the first '{' to the last '}' out of
// raw text (accepted only if that span is itself valid JSON),
// tolerating stray prose or markdown fences the model may add despite
// being told not to.
func extractJSONObject(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)
	if gjson.Valid(raw) {
		return raw, true
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "", false
	}
	candidate := raw[start : end+1]
	if !gjson.Valid(candidate) {
		return "", false
	}
	return candidate, true
}

// parseAndValidate decodes raw LLM output into an ActionBatch and enforces
// the structural invariants the executor relies on.
func parseAndValidate(raw string, iteration int, history []engine.ActionExecutionRecord) (*engine.ActionBatch, error) {
	obj, ok := extractJSONObject(raw)
	if !ok {
		return nil, errors.New("planner output is not valid JSON")
	}
	// Force the iteration field to the caller's value the same way the
	// orchestrator pins it before validating, regardless of what the model wrote.
	patched, err := sjson.Set(obj, "iteration", iteration)
	if err != nil {
		patched = obj
	}

	var batch engine.ActionBatch
	if err := json.Unmarshal([]byte(patched), &batch); err != nil {
		return nil, fmt.Errorf("decode ActionBatch: %w", err)
	}

	if err := validateBatch(&batch, history); err != nil {
		return nil, err
	}
	return &batch, nil
}

func validateBatch(batch *engine.ActionBatch, history []engine.ActionExecutionRecord) error {
	if strings.TrimSpace(batch.Version) == "" {
		return errors.New("missing version")
	}
	switch batch.Decision.Mode {
	case "continue", "ask_user", "done", "blocked":
	default:
		return fmt.Errorf("invalid decision.mode %q", batch.Decision.Mode)
	}

	completedIDs := make(map[string]struct{}, len(history))
	for _, rec := range history {
		completedIDs[rec.ActionID] = struct{}{}
	}
	batchIDs := make(map[string]struct{}, len(batch.Actions))
	for _, a := range batch.Actions {
		if a.ID != "" {
			batchIDs[a.ID] = struct{}{}
		}
	}
	for _, a := range batch.Actions {
		if !a.Type.Valid() {
			return fmt.Errorf("unknown action type %q", a.Type)
		}
		if a.Priority < 0 || a.Priority > 10 {
			return fmt.Errorf("action %s: priority %d out of bounds", a.ID, a.Priority)
		}
		if a.TimeoutSec < 0 || a.TimeoutSec > 3600 {
			return fmt.Errorf("action %s: timeout_sec %d out of bounds", a.ID, a.TimeoutSec)
		}
		for _, dep := range a.DependsOn {
			_, inBatch := batchIDs[dep]
			_, inHistory := completedIDs[dep]
			if !inBatch && !inHistory {
				return fmt.Errorf("action %s depends_on unknown id %q", a.ID, dep)
			}
		}
	}
	if err := detectCycle(batch.Actions); err != nil {
		return err
	}

	hasFinal := hasActionType(batch.Actions, tools.FinalAnswer) || historyHasCompletedType(history, tools.FinalAnswer)
	if batch.Decision.Mode == "done" && !hasFinal {
		return errors.New("decision.mode=done requires a final_answer action")
	}
	hasSuspend := hasActionType(batch.Actions, tools.AskUser) || hasActionType(batch.Actions, tools.RequestApproval)
	if batch.Decision.Mode == "ask_user" && !hasSuspend {
		return errors.New("decision.mode=ask_user requires an ask_user or request_approval action")
	}
	return nil
}

func hasActionType(actions []engine.ActionSpec, t tools.ActionType) bool {
	for _, a := range actions {
		if a.Type == t {
			return true
		}
	}
	return false
}

func historyHasCompletedType(history []engine.ActionExecutionRecord, t tools.ActionType) bool {
	for _, rec := range history {
		if rec.ActionType == t && rec.Status == "completed" {
			return true
		}
	}
	return false
}

// detectCycle runs a DFS over depends_on edges restricted to this batch;
// edges pointing at already-completed history entries are leaves.
func detectCycle(actions []engine.ActionSpec) error {
	byID := make(map[string]engine.ActionSpec, len(actions))
	for _, a := range actions {
		byID[a.ID] = a
	}
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(actions))
	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case gray:
			return fmt.Errorf("dependency cycle involving action %q", id)
		case black:
			return nil
		}
		color[id] = gray
		a, inBatch := byID[id]
		if inBatch {
			for _, dep := range a.DependsOn {
				if _, ok := byID[dep]; ok {
					if err := visit(dep); err != nil {
						return err
					}
				}
			}
		}
		color[id] = black
		return nil
	}
	for _, a := range actions {
		if err := visit(a.ID); err != nil {
			return err
		}
	}
	return nil
}
