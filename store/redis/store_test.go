package redis_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	ingestion "github.com/aws-samples/amazon-ecr-ingestion-demo"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/execlog"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/id"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/store"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/store/redis"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/store/storetest"
)

func setupTestStore(t *testing.T, opts ...redis.Option) (*redis.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redis.New(client, opts...), mr
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, _ := setupTestStore(t)
		return s
	})
}

func TestWithPrefix_NamespacesKeys(t *testing.T) {
	s, mr := setupTestStore(t, redis.WithPrefix("team-a:"))
	execID := id.NewExecutionID()
	storetest.Append(t, s, storetest.Record(execID, 1, execlog.KindExecutionStarted, time.Now().UTC()))

	if !mr.Exists("team-a:exec:" + execID.String()) {
		t.Errorf("summary key not under prefix; keys: %v", mr.Keys())
	}
	if !mr.Exists("team-a:exec:" + execID.String() + ":records") {
		t.Errorf("records key not under prefix; keys: %v", mr.Keys())
	}
	if mr.Exists("imagesigner:executions") {
		t.Error("default prefix used despite WithPrefix")
	}
}

func TestClaimTick_ExpiresAfterRetention(t *testing.T) {
	s, mr := setupTestStore(t, redis.WithTickRetention(time.Hour))
	ctx := context.Background()
	trigID := id.NewTriggerID()
	tick := time.Date(2024, 3, 1, 17, 0, 0, 0, time.UTC)

	if err := s.ClaimTick(ctx, trigID, tick); err != nil {
		t.Fatalf("ClaimTick: %v", err)
	}
	if err := s.ClaimTick(ctx, trigID, tick); !errors.Is(err, ingestion.ErrTickClaimed) {
		t.Fatalf("expected ErrTickClaimed, got %v", err)
	}

	mr.FastForward(2 * time.Hour)
	if err := s.ClaimTick(ctx, trigID, tick); err != nil {
		t.Fatalf("claim after retention: %v", err)
	}
}

func TestPing_Unreachable(t *testing.T) {
	s, mr := setupTestStore(t)
	mr.Close()
	if err := s.Ping(context.Background()); err == nil {
		t.Fatal("expected ping error after server shutdown")
	}
}
