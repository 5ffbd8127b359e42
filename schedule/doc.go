// Package schedule fires workflow executions on recurring time expressions.
//
// A [Trigger] names a definition, a fixed input and an expression such as
// "cron(0 9 * * *)" evaluated in an IANA time zone. On every tick of every
// enabled trigger the [Scheduler] claims the tick in the [Store], so that
// at most one process fires it, and asks its [Launcher] to create exactly
// one execution. The execution then runs on its own goroutine; firings are
// independent and may overlap.
//
// Creating the execution is retried with jittered backoff until it
// succeeds, the trigger's MaxAttempts is used up or MaxEventAge has passed
// since the tick. An exhausted tick is dropped. Ticks that pass while the
// scheduler is not running are never replayed.
package schedule
