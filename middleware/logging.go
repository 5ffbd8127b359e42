package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws-samples/amazon-ecr-ingestion-demo/task"
)

// Logging returns middleware that logs the start and end of each attempt.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, c *task.Call, next Handler) error {
		logger.Info("task attempt started",
			slog.String("execution_id", c.ExecutionID.String()),
			slog.String("state", c.State),
			slog.String("task", c.Task),
			slog.Int("attempt", c.Attempt),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("task attempt failed",
				slog.String("execution_id", c.ExecutionID.String()),
				slog.String("task", c.Task),
				slog.Int("attempt", c.Attempt),
				slog.Duration("elapsed", elapsed),
				slog.String("error_class", task.ClassOf(err)),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("task attempt succeeded",
				slog.String("execution_id", c.ExecutionID.String()),
				slog.String("task", c.Task),
				slog.Int("attempt", c.Attempt),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
