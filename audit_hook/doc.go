// Package audithook is an extension that bridges execution and schedule
// lifecycle events to an immutable audit trail backend.
//
// Every hook emits a structured [AuditEvent] through the [Recorder]
// interface. The extension assigns a severity (info for normal operation,
// warning for retried attempts, critical for failed executions and dropped
// ticks) and metadata such as the definition, state, task and error class.
//
// # Usage
//
//	audithook.New(audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
//	    return trail.Append(ctx, evt.Action, evt.ResourceID, evt.Metadata)
//	}))
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionExecutionFailed,
//	        audithook.ActionTickDropped,
//	    ),
//	)
//
// The package also ships [SlogRecorder], which writes each event as one
// structured log line.
package audithook
