package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/aws-samples/amazon-ecr-ingestion-demo/task"
)

// RateLimit returns middleware that spaces task invocations across all
// executions with a shared token bucket. Waiting for a token honours ctx;
// a refused wait is reported as class "throttled" so the state's retry
// policy applies.
func RateLimit(limiter *rate.Limiter) Middleware {
	return func(ctx context.Context, c *task.Call, next Handler) error {
		if err := limiter.Wait(ctx); err != nil {
			return task.Wrap(task.ClassThrottled, err)
		}
		return next(ctx)
	}
}
