package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionExecutionStarted   = "execution.started"
	ActionAttemptSucceeded   = "attempt.succeeded"
	ActionAttemptFailed      = "attempt.failed"
	ActionExecutionSucceeded = "execution.succeeded"
	ActionExecutionFailed    = "execution.failed"
	ActionTickFired          = "tick.fired"
	ActionTickDropped        = "tick.dropped"
)

// Audit event categories group related actions.
const (
	CategoryExecution = "imagesigner.execution"
	CategorySchedule  = "imagesigner.schedule"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceExecution = "execution"
	ResourceTrigger   = "trigger"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionExecutionStarted,
		ActionAttemptSucceeded,
		ActionAttemptFailed,
		ActionExecutionSucceeded,
		ActionExecutionFailed,
		ActionTickFired,
		ActionTickDropped,
	}
}
