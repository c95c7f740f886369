//go:build integration

package clock

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// These tests exercise RedisClock against a live Redis instance, the same
// way the rest of the store package expects one in CI (see
// internal/store/redis/circuitbreaker_test.go for the pure-logic sibling).
// Run with: go test -tags integration ./internal/clock/...
func newTestClock(t *testing.T) (*RedisClock, context.Context) {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available at %s: %v", addr, err)
	}
	client.Del(ctx, keyVirtualEnabled, keyVirtualCurrent)
	return New(client), ctx
}

func TestRedisClock_DefaultsToWallClock(t *testing.T) {
	c, ctx := newTestClock(t)
	isVirtual, err := c.IsVirtual(ctx)
	if err != nil {
		t.Fatalf("IsVirtual: %v", err)
	}
	if isVirtual {
		t.Fatalf("expected non-virtual by default")
	}
	now, err := c.Now(ctx)
	if err != nil {
		t.Fatalf("Now: %v", err)
	}
	if time.Since(now) > time.Minute {
		t.Fatalf("wall clock fallback drifted: %v", now)
	}
}

func TestRedisClock_SetAndClearVirtual(t *testing.T) {
	c, ctx := newTestClock(t)
	target := time.Date(2024, 3, 1, 9, 15, 0, 0, time.UTC)

	if err := c.SetVirtual(ctx, target); err != nil {
		t.Fatalf("SetVirtual: %v", err)
	}
	isVirtual, err := c.IsVirtual(ctx)
	if err != nil || !isVirtual {
		t.Fatalf("expected virtual enabled, err=%v", err)
	}
	got, err := c.Now(ctx)
	if err != nil {
		t.Fatalf("Now: %v", err)
	}
	if !got.Equal(target) {
		t.Fatalf("expected %v, got %v", target, got)
	}

	if err := c.ClearVirtual(ctx); err != nil {
		t.Fatalf("ClearVirtual: %v", err)
	}
	isVirtual, err = c.IsVirtual(ctx)
	if err != nil || isVirtual {
		t.Fatalf("expected virtual disabled after clear")
	}
}
