package middleware

import (
	"context"
	"log/slog"
	"runtime/debug"

	"github.com/aws-samples/amazon-ecr-ingestion-demo/task"
)

// Recover returns middleware that recovers from panics in the invoker.
// A panic becomes a task error of class "panic", which no retry policy
// lists by default.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, c *task.Call, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("task invoker panicked",
					slog.String("execution_id", c.ExecutionID.String()),
					slog.String("task", c.Task),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				retErr = task.Errorf(task.ClassPanic, "panic in task %s: %v", c.Task, r)
			}
		}()
		return next(ctx)
	}
}
