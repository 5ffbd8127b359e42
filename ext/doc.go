// Package ext defines the extension system for the image signer.
//
// Extensions are notified of lifecycle events and can react to them:
// recording metrics, paging on failures, mirroring the execution log.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type Pager struct{}
//
//	func (p *Pager) Name() string { return "pager" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (p *Pager) OnExecutionFailed(ctx context.Context, exec *workflow.Execution, err error) error {
//	    return page(ctx, exec.ID, err)
//	}
//
// # Execution Hooks
//
//   - [ExecutionStarted]: execution created and logged
//   - [TaskAttempted]: one task attempt finished, successful or not
//   - [ExecutionSucceeded]: execution reached its terminal state
//   - [ExecutionFailed]: execution failed
//
// # Schedule Hooks
//
//   - [TickFired]: a trigger tick created its execution
//   - [TickDropped]: a tick gave up after its creation budget
//
// # Other Hooks
//
//   - [Shutdown]: the engine is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface. It satisfies
// workflow.Emitter and schedule.Emitter.
package ext
