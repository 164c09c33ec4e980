package tools

import (
	"context"
	"fmt"
)

// SubagentSpawnTool starts a background agent run against a fresh child
// session and returns control immediately; its eventual result reaches the
// requester through the announce pipeline, not this call's return value.
type SubagentSpawnTool struct {
	gw GatewayRef
}

func NewSubagentSpawnTool(gw GatewayRef) *SubagentSpawnTool {
	return &SubagentSpawnTool{gw: gw}
}

func (t *SubagentSpawnTool) Name() string { return "subagent_spawn" }

func (t *SubagentSpawnTool) Description() string {
	return "Spawn a background subagent to work on a task independently. Its result is announced back into this conversation once it finishes; this call returns as soon as the run starts."
}

func (t *SubagentSpawnTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task": map[string]interface{}{
				"type":        "string",
				"description": "The task for the subagent to complete",
			},
			"label": map[string]interface{}{
				"type":        "string",
				"description": "A short human-readable label for this run, used in the eventual announcement",
			},
			"cleanup": map[string]interface{}{
				"type":        "string",
				"description": "\"delete\" (default) to drop the child session once announced, or \"keep\" to archive it",
				"enum":        []string{"delete", "keep"},
			},
		},
		"required": []string{"task"},
	}
}

func (t *SubagentSpawnTool) Execute(ctx context.Context, args map[string]interface{}, tc ToolContext) *Result {
	task, _ := args["task"].(string)
	if task == "" {
		return ErrorResult("task is required")
	}
	label, _ := args["label"].(string)
	if label == "" {
		label = task
	}
	cleanup, _ := args["cleanup"].(string)

	runID, err := t.gw.SpawnSubagent(tc.SessionKey, task, label, cleanup)
	if err != nil {
		return ErrorResult(fmt.Sprintf("subagent_spawn failed: %v", err))
	}
	return AsyncResult(fmt.Sprintf("Spawned background task %q (run %s). Its result will arrive as a separate message once it finishes.", label, runID))
}
