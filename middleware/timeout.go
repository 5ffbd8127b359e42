package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/aws-samples/amazon-ecr-ingestion-demo/task"
)

// Timeout returns middleware that bounds every attempt of the listed tasks
// (or of every task when timeouts has a "*" entry). A deadline hit is
// reported as class "timeout".
func Timeout(timeouts map[string]time.Duration) Middleware {
	return func(ctx context.Context, c *task.Call, next Handler) error {
		d, ok := timeouts[c.Task]
		if !ok {
			d = timeouts["*"]
		}
		if d <= 0 {
			return next(ctx)
		}

		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		err := next(ctx)
		if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && task.ClassOf(err) != task.ClassTimeout {
			return &task.Error{Class: task.ClassTimeout, Message: "deadline of " + d.String() + " exceeded", Cause: err}
		}
		return err
	}
}
