// Package store defines the aggregate persistence interface. The execution
// log and the trigger catalogue each define their own store interface; the
// composite Store composes them. Backends: Postgres, Bun, Redis and Memory.
package store

import (
	"context"

	"github.com/aws-samples/amazon-ecr-ingestion-demo/execlog"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/schedule"
)

// Store is the aggregate persistence interface.
// A single backend implements every subsystem store.
type Store interface {
	execlog.Store
	schedule.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
