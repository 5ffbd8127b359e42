// Package engine wires the image signer subsystems together and provides
// the application-level API for starting executions.
//
// # Building an Engine
//
//	eng, err := engine.Build(cfg,
//	    engine.WithStore(pgStore),
//	    engine.WithTask(task.Pull, pullInvoker),
//	    engine.WithTask(task.Sign, signInvoker),
//	    engine.WithExtension(myExtension),
//	)
//
// Task identities left unbound fall back to an HTTP invoker when
// cfg.Tasks names a URL and to the dry-run tasks otherwise.
//
// # Running
//
//	// Save the configured trigger and start firing it.
//	eng.Start(ctx)
//
//	// One synchronous execution, as the CLI "run" command does.
//	exec, err := eng.RunOnce(ctx, workflow.ImageSignerName, payload.Empty())
//
//	// Cancel waiting executions and wait for them to record the outcome.
//	eng.Stop(ctx)
//
// # Options
//
//   - [WithStore]: execution log and trigger backend (required)
//   - [WithTask]: bind a task identity to an invoker
//   - [WithDefinition]: register an additional workflow definition
//   - [WithExtension]: register a lifecycle extension
//   - [WithMiddleware]: add a middleware after the default chain
//   - [WithClock]: replace the clock (tests use a fake one)
//   - [WithTracerProvider], [WithMeterProvider]: OpenTelemetry providers
package engine
