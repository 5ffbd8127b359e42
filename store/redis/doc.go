// Package redis implements store.Store on Redis with go-redis.
//
// Layout, under a configurable key prefix:
//
//   - exec:{id}          hash, the folded execution summary
//   - exec:{id}:records  list, one JSON record per entry in Seq order
//   - executions         sorted set of execution IDs scored by start time
//   - trigger:{id}       hash, one trigger
//   - trigger_names      hash, trigger name to ID
//   - tick:{id}:{unix}   string, set once per claimed tick, with a TTL
//
// Appends go through a Lua script that compares the summary's last_seq
// before writing, so the record list and the summary never diverge.
//
// The caller owns the client lifecycle:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
