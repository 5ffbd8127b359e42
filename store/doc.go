// Package store names the single backend the engine runs on.
//
// A backend keeps two things: the execution log (execlog.Store) and the
// trigger catalogue with its claimed ticks (schedule.Store). [Store] is both
// plus Migrate, Ping and Close.
//
// Backends:
//
//   - store/memory: maps in process memory; tests and dry runs
//   - store/postgres: pgx/v5 pool and embedded SQL migrations
//   - store/bun: Bun models over the same PostgreSQL tables
//   - store/redis: go-redis/v9; records in lists, summaries in hashes
//
// The CLI picks one from the store.driver config key:
//
//	s, err := postgres.New(ctx, cfg.Store.DSN, postgres.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//	if err := s.Migrate(ctx); err != nil {
//	    return err
//	}
//	eng, err := engine.Build(cfg, engine.WithStore(s))
//
// Migrate is safe to run on every start.
//
// Records are never updated or deleted. Append returns
// ingestion.ErrDuplicateRecord when the sequence number is taken. A record
// whose number skips ahead of the log is rejected too.
package store
