// Package workflow defines state machine definitions and the Runner that
// drives executions through them.
//
// A Definition is an ordered set of named states. Task states invoke a
// registered task with the execution payload and retry failures according
// to their retry.Policy. Wait states pause for a fixed duration. Terminal
// states end the execution successfully.
//
// # Defining a Workflow
//
//	def, err := workflow.NewDefinition("image-signer", "pull",
//	    workflow.Task("pull", task.Pull, "scan-wait", retry.DefaultPolicy()),
//	    workflow.Wait("scan-wait", 720*time.Second, "sign"),
//	    workflow.Task("sign", task.Sign, "done", retry.DefaultPolicy()),
//	    workflow.Terminal("done"),
//	)
//
// Definitions can also be authored in YAML and loaded with ParseDefinition.
//
// # Execution Lifecycle
//
//	running → succeeded
//	running → failed
//
// Every step of an execution is appended to the execlog.Store before the
// execution moves on; a failed append stops the execution where it is.
//
// # Key Types
//
//   - [Definition]: validated, immutable state machine
//   - [Execution]: one run through a Definition
//   - [Runner]: advances executions, one state at a time
//   - [Registry]: maps definition names to definitions
package workflow
