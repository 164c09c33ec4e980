package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// CronScheduleTool lets an agent set up a recurring headless turn against
// its own session's channel/destination, e.g. a daily digest or reminder.
type CronScheduleTool struct {
	gw GatewayRef
}

func NewCronScheduleTool(gw GatewayRef) *CronScheduleTool {
	return &CronScheduleTool{gw: gw}
}

func (t *CronScheduleTool) Name() string { return "cron_schedule" }

func (t *CronScheduleTool) Description() string {
	return "Schedule a recurring task. On each fire, a fresh headless turn runs the prompt and must deliver its result with sessions_send; the turn has no other way to reach you."
}

func (t *CronScheduleTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"expression": map[string]interface{}{
				"type":        "string",
				"description": "A 5-field cron expression, e.g. \"0 9 * * *\" for daily at 9am",
			},
			"prompt": map[string]interface{}{
				"type":        "string",
				"description": "The instruction to run on each fire",
			},
		},
		"required": []string{"expression", "prompt"},
	}
}

func (t *CronScheduleTool) Execute(ctx context.Context, args map[string]interface{}, tc ToolContext) *Result {
	expression, _ := args["expression"].(string)
	prompt, _ := args["prompt"].(string)
	if expression == "" || prompt == "" {
		return ErrorResult("expression and prompt are required")
	}

	jobID := uuid.NewString()
	if err := t.gw.ScheduleCronJob(jobID, tc.AgentID, expression, prompt, tc.Channel, tc.To); err != nil {
		return ErrorResult(fmt.Sprintf("cron_schedule failed: %v", err))
	}
	return NewResult(fmt.Sprintf("Scheduled job %s (%s): %s", jobID, expression, prompt))
}

// CronCancelTool stops a scheduled job.
type CronCancelTool struct {
	gw GatewayRef
}

func NewCronCancelTool(gw GatewayRef) *CronCancelTool {
	return &CronCancelTool{gw: gw}
}

func (t *CronCancelTool) Name() string        { return "cron_cancel" }
func (t *CronCancelTool) Description() string { return "Cancel a scheduled recurring job by its ID." }

func (t *CronCancelTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"jobId": map[string]interface{}{
				"type":        "string",
				"description": "The job ID to cancel, as returned by cron_schedule or cron_list",
			},
		},
		"required": []string{"jobId"},
	}
}

func (t *CronCancelTool) Execute(ctx context.Context, args map[string]interface{}, tc ToolContext) *Result {
	jobID, _ := args["jobId"].(string)
	if jobID == "" {
		return ErrorResult("jobId is required")
	}
	if err := t.gw.CancelCronJob(jobID); err != nil {
		return ErrorResult(fmt.Sprintf("cron_cancel failed: %v", err))
	}
	return NewResult(fmt.Sprintf("Cancelled job %s", jobID))
}

// CronListTool lists currently scheduled jobs.
type CronListTool struct {
	gw GatewayRef
}

func NewCronListTool(gw GatewayRef) *CronListTool {
	return &CronListTool{gw: gw}
}

func (t *CronListTool) Name() string        { return "cron_list" }
func (t *CronListTool) Description() string { return "List currently scheduled recurring jobs." }

func (t *CronListTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}

func (t *CronListTool) Execute(ctx context.Context, args map[string]interface{}, tc ToolContext) *Result {
	jobs := t.gw.ListCronJobsFor()
	if len(jobs) == 0 {
		return NewResult("no scheduled jobs")
	}
	var b strings.Builder
	for _, j := range jobs {
		fmt.Fprintf(&b, "%s  %q  agent=%s channel=%s  %s\n", j.ID, j.Expression, j.AgentID, j.Channel, j.Prompt)
	}
	return NewResult(b.String())
}
