// Package middleware provides composable middleware for task invocations.
//
// A [Middleware] wraps one attempt of one task state. Middleware are
// composed into a chain using [Chain]; the first middleware in the slice is
// the outermost wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging]: logs execution, state, task, attempt, duration and outcome
//   - [Recover]: turns panics into task errors of class "panic"
//   - [Timeout]: bounds each attempt per task
//   - [RateLimit]: shares a token bucket across all executions
//   - [Tracing]: wraps each attempt in an OpenTelemetry span
//   - [Metrics]: records per-task duration and outcome counters
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, c *task.Call, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing, c.Output holds the result
//	        return err
//	    }
//	}
//
// The context passed down the chain is detached from process shutdown;
// middleware must not assume cancellation reaches the invoker.
package middleware
