package planner

import (
	"strings"

	"github.com/zlhalen/Nexar/internal/engine"
	"github.com/zlhalen/Nexar/internal/tools"
	"github.com/zlhalen/Nexar/internal/workspace"
)

// systemPrompt is the fixed instruction sent on every planning call. It
// enumerates the closed action set and the structural rules the output
// ActionBatch must satisfy; the model never sees anything else about tool
// implementation.
const systemPrompt = `You are Nexar's action planner.

Given the context you are handed, output the next ActionBatch as JSON and follow these rules strictly:
1. Do not hard-code a fixed sequence of steps; decide only the next batch of actions.
2. Every action must be executable and verifiable: give it success_criteria.
3. When information is missing, emit ask_user or request_approval rather than inventing file content.
4. When the goal is satisfied, set decision.mode="done" and include a final_answer action whose input.content holds the final reply text.
5. Return JSON only: no markdown fences, no prose.
6. Discovery actions must follow scan_workspace: search_code/read_files/extract_symbols/analyze_dependencies should depend_on a completed or planned scan_workspace.
7. create_file/update_file actions must include input.path and input.content; apply_patch actions must include input.path and input.diff_unified.
8. final_answer actions must include input.content as a string.
9. Prefer conversation_history over original_user_query alone when reasoning about multi-turn context.
10. If conversation_summary is present, read it before conversation_history.

Output shape:
{
  "version": "1.0",
  "iteration": 1,
  "summary": "this batch's goal",
  "decision": {"mode": "continue|ask_user|done|blocked", "reason": "optional", "needs_user_trigger": true, "satisfaction_score": 0.0},
  "actions": [{"id": "a1", "type": "` + actionEnumList() + `",
    "title": "", "reason": "", "input": {}, "depends_on": [], "can_parallel": false,
    "priority": 3, "timeout_sec": 120, "max_retries": 1, "success_criteria": [""], "artifacts": []}],
  "acceptance": [],
  "risks": [],
  "next_questions": []
}`

func actionEnumList() string {
	names := make([]string, len(tools.All))
	for i, t := range tools.All {
		names[i] = string(t)
	}
	return strings.Join(names, "|")
}

// contextSnapshot is the compact, JSON-rendered view of workspace and
// action-history state handed to the planner each iteration.
type contextSnapshot struct {
	Workspace   workspaceSummary   `json:"workspace"`
	CurrentFile currentFileSummary `json:"current_file"`
	Snippets    snippetSummary     `json:"snippets"`
	History     historySummary     `json:"history"`
}

type workspaceSummary struct {
	Root        string   `json:"root"`
	FileCount   int      `json:"file_count"`
	SampleFiles []string `json:"sample_files"`
}

type currentFileSummary struct {
	File    *string `json:"file"`
	Chars   int     `json:"chars"`
	Preview string  `json:"preview,omitempty"`
	Reason  string  `json:"reason,omitempty"`
}

type snippetSummary struct {
	Count int      `json:"count"`
	Paths []string `json:"paths"`
	Chars int      `json:"chars"`
}

type historySummary struct {
	Completed      int              `json:"completed"`
	Failed         int              `json:"failed"`
	ActionTypeCount map[string]int  `json:"action_type_count"`
	Recent          []recentAction  `json:"recent"`
	HasWrite        bool            `json:"has_write"`
}

type recentAction struct {
	Iteration int            `json:"iteration"`
	ActionID  string         `json:"action_id"`
	Type      string         `json:"type"`
	Status    string         `json:"status"`
	Error     string         `json:"error,omitempty"`
	Output    map[string]any `json:"output,omitempty"`
}

const maxSampleFiles = 120
const maxRecentActions = 20
const maxOutputCharsInContext = 20000

// buildContextSnapshot mirrors ContextSnapshotBuilder.build: a compact view
// of workspace scale, the file currently open in the editor, attached
// snippets, and a rollup of action history so the planner doesn't need the
// full event stream on every call.
func buildContextSnapshot(ws *workspace.Service, req engine.RequestSnapshot, history []engine.ActionExecutionRecord) contextSnapshot {
	files, _, _ := ws.Walk(0)
	sample := files
	if len(sample) > maxSampleFiles {
		sample = sample[:maxSampleFiles]
	}

	cf := currentFileSummary{}
	filePath := req.CurrentFile
	if filePath == "" {
		filePath = req.FilePath
	}
	if filePath == "" {
		cf.Reason = "no_target_file"
	} else {
		cf.File = &filePath
		content := req.CurrentCode
		if content == "" {
			read, _, err := ws.ReadFile(filePath)
			if err != nil {
				cf.Reason = "file_not_readable"
			} else {
				content = read
			}
		}
		cf.Chars = len(content)
		if len(content) > 1200 {
			cf.Preview = content[:1200]
		} else {
			cf.Preview = content
		}
	}

	snippetPaths := make([]string, 0, len(req.Snippets))
	snippetChars := 0
	for i, s := range req.Snippets {
		if i < 30 {
			snippetPaths = append(snippetPaths, s.FilePath)
		}
		snippetChars += len(s.Content)
	}

	hs := historySummary{ActionTypeCount: map[string]int{}}
	recentFrom := len(history) - maxRecentActions
	for i, rec := range history {
		switch rec.Status {
		case "completed":
			hs.Completed++
		case "failed", "blocked":
			hs.Failed++
		}
		hs.ActionTypeCount[string(rec.ActionType)]++
		if rec.ActionType == tools.CreateFile || rec.ActionType == tools.UpdateFile || rec.ActionType == tools.ApplyPatch {
			hs.HasWrite = true
		}
		if i >= recentFrom {
			output := capOutputForContext(rec.Output)
			hs.Recent = append(hs.Recent, recentAction{
				Iteration: rec.Iteration,
				ActionID:  rec.ActionID,
				Type:      string(rec.ActionType),
				Status:    rec.Status,
				Error:     rec.Error,
				Output:    output,
			})
		}
	}

	return contextSnapshot{
		Workspace: workspaceSummary{
			Root:        ws.Root(),
			FileCount:   len(files),
			SampleFiles: sample,
		},
		CurrentFile: cf,
		Snippets: snippetSummary{
			Count: len(req.Snippets),
			Paths: snippetPaths,
			Chars: snippetChars,
		},
		History: hs,
	}
}

// planInput is the exact JSON payload sent as the user message.
type planInput struct {
	OriginalUserQuery string             `json:"original_user_query"`
	ConversationHistory []promptMessage  `json:"conversation_history"`
	ConversationSummary string           `json:"conversation_summary,omitempty"`
	Iteration           int              `json:"iteration"`
	ContextSnapshot     contextSnapshot  `json:"context_snapshot"`
	PriorActions        []recentAction   `json:"prior_actions"`
	AvailableActions    []string         `json:"available_actions"`
}

type promptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// capOutputForContext truncates oversized string fields inside an action's
// output before it's embedded in the planner prompt, so one read_files
// result doesn't blow the context budget on its own.
func capOutputForContext(output map[string]any) map[string]any {
	if output == nil {
		return nil
	}
	capped := make(map[string]any, len(output))
	for k, v := range output {
		if s, ok := v.(string); ok && len(s) > maxOutputCharsInContext {
			capped[k] = s[:maxOutputCharsInContext]
			capped[k+"_truncated_by_context"] = true
			continue
		}
		capped[k] = v
	}
	return capped
}

func latestUserQuery(messages []engine.ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}

func priorActionsPayload(history []engine.ActionExecutionRecord) []recentAction {
	start := 0
	if len(history) > 40 {
		start = len(history) - 40
	}
	out := make([]recentAction, 0, len(history)-start)
	for _, rec := range history[start:] {
		out = append(out, recentAction{
			Iteration: rec.Iteration,
			ActionID:  rec.ActionID,
			Type:      string(rec.ActionType),
			Status:    rec.Status,
			Error:     rec.Error,
			Output:    rec.Output,
		})
	}
	return out
}
