package redis

import (
	"strconv"
	"time"
)

// Redis key naming conventions. Every key starts with the store prefix,
// "imagesigner:" unless overridden with WithPrefix.

// DefaultPrefix is the key prefix used when none is configured.
const DefaultPrefix = "imagesigner:"

// ── Execution log keys ──

// summaryKey returns the hash key of an execution summary: {p}exec:{id}
func (s *Store) summaryKey(execID string) string { return s.prefix + "exec:" + execID }

// recordsKey returns the list key of an execution's records: {p}exec:{id}:records
func (s *Store) recordsKey(execID string) string { return s.prefix + "exec:" + execID + ":records" }

// executionsKey is the sorted set of execution IDs scored by start time.
func (s *Store) executionsKey() string { return s.prefix + "executions" }

// ── Trigger keys ──

// triggerKey returns the hash key of a trigger: {p}trigger:{id}
func (s *Store) triggerKey(trigID string) string { return s.prefix + "trigger:" + trigID }

// triggerNamesKey maps trigger names to IDs.
func (s *Store) triggerNamesKey() string { return s.prefix + "trigger_names" }

// tickKey returns the claim key for one tick: {p}tick:{id}:{unix seconds}
func (s *Store) tickKey(trigID string, tick time.Time) string {
	return s.prefix + "tick:" + trigID + ":" + strconv.FormatInt(tick.Unix(), 10)
}
