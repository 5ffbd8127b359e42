// Package execlog defines the append-only execution log.
//
// Every change an execution goes through (start, entering a state, each
// task attempt, each transition, the final outcome) is one Record. Records of
// an execution are numbered 1, 2, 3... without gaps, and the log is the only
// durable copy of an execution: Summarize rebuilds the current view of an
// execution from its records.
package execlog
