package tools

import "github.com/san-tian/miniclaw/internal/cron"

// GatewayRef is the narrow surface of the Gateway that tools are allowed to
// call back into. It lives in this package (rather than being imported from
// internal/gateway) so tools never depend on the Gateway's full composition
// root — only on what they need to deliver results and fan out work.
type GatewayRef interface {
	// SendToSession delivers text to sessionKey's channel destination
	// without running the agent loop again. channel overrides the
	// session's recorded channel when non-empty; this lets a cron turn
	// target a channel other than the one it nominally runs under.
	SendToSession(sessionKey, channel, text string) error

	// SpawnSubagent registers and starts a background agent run on behalf
	// of requesterSessionKey, returning the new run's ID. cleanup is
	// "delete" (default) or "keep".
	SpawnSubagent(requesterSessionKey, task, label, cleanup string) (runID string, err error)

	// ScheduleCronJob registers a recurring job that fires a headless turn
	// on expression, delivering through channel/to via sessions_send.
	// agentID empty means the default agent.
	ScheduleCronJob(jobID, agentID, expression, prompt, channel, to string) error

	// CancelCronJob stops and forgets a scheduled job.
	CancelCronJob(jobID string) error

	// ListCronJobsFor returns the jobs currently scheduled.
	ListCronJobsFor() []cron.Job
}
