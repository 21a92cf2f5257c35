package planner

import (
	"fmt"

	"github.com/zlhalen/Nexar/internal/engine"
	"github.com/zlhalen/Nexar/internal/tools"
)

var discoveryTypes = map[tools.ActionType]struct{}{
	tools.SearchCode:          {},
	tools.ReadFiles:           {},
	tools.ExtractSymbols:      {},
	tools.AnalyzeDependencies: {},
}

// normalizeBatch pins the iteration, de-duplicates action ids, forces
// decision.mode="done" when a final_answer is present, backfills missing
// success_criteria, and inserts a scan_workspace prerequisite before any
// first-time discovery action.
func normalizeBatch(batch *engine.ActionBatch, iteration int, history []engine.ActionExecutionRecord) *engine.ActionBatch {
	batch.Iteration = iteration
	if len(batch.Actions) == 0 && batch.Decision.Mode == "continue" {
		batch.Decision.Mode = "ask_user"
		if batch.Decision.Reason == "" {
			batch.Decision.Reason = "planner returned empty actions"
		}
		batch.Decision.NeedsUserTrigger = false
	}

	seen := make(map[string]struct{}, len(batch.Actions))
	normalized := make([]engine.ActionSpec, 0, len(batch.Actions))
	for idx, action := range batch.Actions {
		if action.ID == "" {
			action.ID = fmt.Sprintf("a%d", idx+1)
		}
		if _, dup := seen[action.ID]; dup {
			for n := idx + 1; ; n++ {
				action.ID = fmt.Sprintf("a%d", n)
				if _, taken := seen[action.ID]; !taken {
					break
				}
			}
		}
		seen[action.ID] = struct{}{}

		if action.Type == tools.FinalAnswer {
			batch.Decision.Mode = "done"
			action.CanParallel = false
		}
		if len(action.SuccessCriteria) == 0 {
			action.SuccessCriteria = []string{"action completed with valid output"}
		}
		normalized = append(normalized, action)
	}

	batch.Actions = ensureScanBeforeDiscovery(normalized, history)
	return batch
}

// ensureScanBeforeDiscovery inserts a scan_workspace action ahead of any
// discovery action (search_code/read_files/extract_symbols/analyze_dependencies)
// when the run has never completed one, and wires depends_on edges so
// discovery never races ahead of the index it needs.
func ensureScanBeforeDiscovery(actions []engine.ActionSpec, history []engine.ActionExecutionRecord) []engine.ActionSpec {
	needsDiscovery := false
	for _, a := range actions {
		if _, ok := discoveryTypes[a.Type]; ok {
			needsDiscovery = true
			break
		}
	}
	if !needsDiscovery {
		return actions
	}

	hasScannedBefore := false
	for _, rec := range history {
		if rec.ActionType == tools.ScanWorkspace && rec.Status == "completed" {
			hasScannedBefore = true
			break
		}
	}

	var scanAction *engine.ActionSpec
	for i := range actions {
		if actions[i].Type == tools.ScanWorkspace {
			scanAction = &actions[i]
			break
		}
	}

	result := actions
	if !hasScannedBefore && scanAction == nil {
		existing := make(map[string]struct{}, len(result))
		for _, a := range result {
			existing[a.ID] = struct{}{}
		}
		idx := 1
		for {
			if _, taken := existing[fmt.Sprintf("a%d", idx)]; !taken {
				break
			}
			idx++
		}
		inserted := engine.ActionSpec{
			ID:              fmt.Sprintf("a%d", idx),
			Type:            tools.ScanWorkspace,
			Title:           "Scan workspace structure",
			Reason:          "establish a project-wide index before searching or reading files",
			Input:           map[string]any{"limit": 300},
			CanParallel:     false,
			SuccessCriteria: []string{"returns a workspace file listing and file count"},
		}
		result = append([]engine.ActionSpec{inserted}, result...)
		scanAction = &result[0]
	}

	if scanAction != nil {
		for i := range result {
			if result[i].ID == scanAction.ID {
				continue
			}
			if _, ok := discoveryTypes[result[i].Type]; ok && !containsID(result[i].DependsOn, scanAction.ID) {
				result[i].DependsOn = append(result[i].DependsOn, scanAction.ID)
				result[i].CanParallel = false
			}
		}
	}
	return result
}

func containsID(ids []string, target string) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}
