// Package ingestion orchestrates a recurring two-stage image ingestion
// workflow: pull a configured set of images, wait for the registry's
// asynchronous scan to finish, then sign and promote the results.
//
// The orchestration is a durable state machine. Each scheduled tick creates
// one execution that walks the states of a workflow definition, invoking
// tasks through a small interface, retrying transient failures with
// exponential backoff, and appending every transition to an execution log.
//
// # Quick Start
//
//	cfg := ingestion.DefaultConfig()
//	eng, err := engine.Build(cfg,
//	    engine.WithStore(memory.New()),
//	    engine.WithTask(task.Pull, pullInvoker),
//	    engine.WithTask(task.Sign, signInvoker),
//	)
//	if err != nil { ... }
//	if err := eng.Start(ctx); err != nil { ... }
//
// # Architecture
//
// The execution log and the trigger store are separate interfaces
// (execlog.Store, schedule.Store) composed into store.Store. Every backend
// (memory, postgres, bun, redis) implements both.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based.
package ingestion
