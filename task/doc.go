// Package task defines the boundary between the workflow engine and the
// code that does the work.
//
// An Invoker receives the current execution payload and returns the next
// one. Failures are reported as *Error values carrying a Class; the retry
// policy of the calling state decides from the class alone whether the
// attempt is repeated. Invokers must be safe for concurrent use because
// overlapping executions call them in parallel.
package task
