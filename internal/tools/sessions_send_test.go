package tools

import (
	"context"
	"testing"

	"github.com/san-tian/miniclaw/internal/cron"
)

// fakeGateway implements GatewayRef for tool-level tests that don't need a
// real gateway wired up.
type fakeGateway struct {
	sentSessionKey, sentChannel, sentText string
	sendErr                               error

	spawnedTask, spawnedLabel, spawnedCleanup string
	spawnRunID                                string
	spawnErr                                  error

	scheduledJobID, scheduledExpr, scheduledPrompt string
	scheduleErr                                    error
	cancelledJobID                                 string
	cancelErr                                      error
	jobs                                           []cron.Job
}

func (f *fakeGateway) SendToSession(sessionKey, channel, text string) error {
	f.sentSessionKey, f.sentChannel, f.sentText = sessionKey, channel, text
	return f.sendErr
}

func (f *fakeGateway) SpawnSubagent(requesterSessionKey, task, label, cleanup string) (string, error) {
	f.spawnedTask, f.spawnedLabel, f.spawnedCleanup = task, label, cleanup
	if f.spawnErr != nil {
		return "", f.spawnErr
	}
	if f.spawnRunID == "" {
		f.spawnRunID = "run-1"
	}
	return f.spawnRunID, nil
}

func (f *fakeGateway) ScheduleCronJob(jobID, agentID, expression, prompt, channel, to string) error {
	f.scheduledJobID, f.scheduledExpr, f.scheduledPrompt = jobID, expression, prompt
	return f.scheduleErr
}

func (f *fakeGateway) CancelCronJob(jobID string) error {
	f.cancelledJobID = jobID
	return f.cancelErr
}

func (f *fakeGateway) ListCronJobsFor() []cron.Job { return f.jobs }

func TestSessionsSendTool_DelegatesToGateway(t *testing.T) {
	gw := &fakeGateway{}
	tool := NewSessionsSendTool(gw)

	res := tool.Execute(context.Background(), map[string]interface{}{
		"text": "done with the report",
	}, ToolContext{SessionKey: "telegram:42"})

	if res.IsError {
		t.Fatalf("unexpected error result: %v", res.ForLLM)
	}
	if gw.sentSessionKey != "telegram:42" || gw.sentText != "done with the report" {
		t.Errorf("gateway not called with expected args: %+v", gw)
	}
}

func TestSessionsSendTool_RequiresText(t *testing.T) {
	tool := NewSessionsSendTool(&fakeGateway{})
	res := tool.Execute(context.Background(), map[string]interface{}{}, ToolContext{SessionKey: "telegram:1"})
	if !res.IsError {
		t.Error("expected an error result when text is missing")
	}
}

func TestSubagentSpawnTool_ReturnsAsyncResult(t *testing.T) {
	gw := &fakeGateway{spawnRunID: "run-42"}
	tool := NewSubagentSpawnTool(gw)

	res := tool.Execute(context.Background(), map[string]interface{}{
		"task": "summarize the inbox",
	}, ToolContext{SessionKey: "telegram:1"})

	if !res.Async {
		t.Error("expected an async result")
	}
	if gw.spawnedTask != "summarize the inbox" {
		t.Errorf("task = %q", gw.spawnedTask)
	}
	if gw.spawnedCleanup != "" {
		t.Errorf("cleanup = %q, want empty (defaults to delete downstream)", gw.spawnedCleanup)
	}
}

func TestCronScheduleTool_RequiresExpressionAndPrompt(t *testing.T) {
	tool := NewCronScheduleTool(&fakeGateway{})
	res := tool.Execute(context.Background(), map[string]interface{}{"expression": "0 9 * * *"}, ToolContext{})
	if !res.IsError {
		t.Error("expected an error result when prompt is missing")
	}
}

func TestCronScheduleTool_SchedulesJob(t *testing.T) {
	gw := &fakeGateway{}
	tool := NewCronScheduleTool(gw)

	res := tool.Execute(context.Background(), map[string]interface{}{
		"expression": "0 9 * * *",
		"prompt":     "send the daily digest",
	}, ToolContext{Channel: "telegram", To: "1", AgentID: "default"})

	if res.IsError {
		t.Fatalf("unexpected error: %v", res.ForLLM)
	}
	if gw.scheduledExpr != "0 9 * * *" || gw.scheduledPrompt != "send the daily digest" {
		t.Errorf("gateway not scheduled with expected args: %+v", gw)
	}
}

func TestCronCancelTool_CancelsJob(t *testing.T) {
	gw := &fakeGateway{}
	tool := NewCronCancelTool(gw)

	res := tool.Execute(context.Background(), map[string]interface{}{"jobId": "job-1"}, ToolContext{})
	if res.IsError {
		t.Fatalf("unexpected error: %v", res.ForLLM)
	}
	if gw.cancelledJobID != "job-1" {
		t.Errorf("cancelledJobID = %q", gw.cancelledJobID)
	}
}

func TestCronListTool_ListsJobs(t *testing.T) {
	gw := &fakeGateway{jobs: []cron.Job{{ID: "job-1", Expression: "0 9 * * *", Prompt: "digest"}}}
	tool := NewCronListTool(gw)

	res := tool.Execute(context.Background(), map[string]interface{}{}, ToolContext{})
	if res.IsError {
		t.Fatalf("unexpected error: %v", res.ForLLM)
	}
	if res.ForLLM == "" {
		t.Error("expected non-empty listing")
	}
}
