//go:build integration

package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"tradingcore/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

func newTestStore(t *testing.T) (*Store, context.Context) {
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
	return NewFromClient(client), ctx
}

func TestStore_TickRoundTrip(t *testing.T) {
	s, ctx := newTestStore(t)
	tick := model.Tick{Token: "26000", Exchange: "NSE", Price: 2500000, Qty: 10, TickTS: time.Now().UTC()}
	if err := s.PutTick(ctx, tick); err != nil {
		t.Fatalf("PutTick: %v", err)
	}
	got, err := s.LatestTick(ctx, tick.Key())
	if err != nil {
		t.Fatalf("LatestTick: %v", err)
	}
	if got.Price != tick.Price {
		t.Fatalf("expected price %d, got %d", tick.Price, got.Price)
	}
}

func TestStore_IndicatorPrevRotation(t *testing.T) {
	s, ctx := newTestStore(t)
	base := model.IndicatorResult{Name: "RSI_14", Token: "999", Exchange: "NSE", TF: 60, Ready: true}

	first := base
	first.Value = 40.0
	first.TS = time.Now().UTC()
	if err := s.PutIndicator(ctx, first); err != nil {
		t.Fatalf("PutIndicator #1: %v", err)
	}
	if _, ok, err := s.PrevIndicator(ctx, first.Key(), first.TF, first.Name); err != nil || ok {
		t.Fatalf("expected no previous value yet, ok=%v err=%v", ok, err)
	}

	second := base
	second.Value = 55.0
	second.TS = first.TS.Add(time.Minute)
	if err := s.PutIndicator(ctx, second); err != nil {
		t.Fatalf("PutIndicator #2: %v", err)
	}
	prev, ok, err := s.PrevIndicator(ctx, first.Key(), first.TF, first.Name)
	if err != nil || !ok {
		t.Fatalf("expected previous value, ok=%v err=%v", ok, err)
	}
	if prev != 40.0 {
		t.Fatalf("expected prev=40.0, got %v", prev)
	}

	latest, err := s.LatestIndicator(ctx, first.Key(), first.TF, first.Name)
	if err != nil {
		t.Fatalf("LatestIndicator: %v", err)
	}
	if latest.Value != 55.0 {
		t.Fatalf("expected latest=55.0, got %v", latest.Value)
	}
}

func TestStore_SignalCompareAndSet(t *testing.T) {
	s, ctx := newTestStore(t)
	rec := model.SignalRecord{
		SignalDefinition: model.SignalDefinition{
			SignalID:   "sig-cas-test",
			Instrument: "NSE:26000",
			Action:     model.ActionBuy,
			CreatedAt:  time.Now().UTC(),
			Lifetime:   time.Hour,
		},
		Status: model.StatusActive,
	}
	_ = s.DeleteSignal(ctx, rec.SignalID)
	if err := s.CreateSignal(ctx, rec); err != nil {
		t.Fatalf("CreateSignal: %v", err)
	}

	ok, err := s.CompareAndSetStatus(ctx, rec.SignalID, model.StatusActive, model.StatusTriggered, func(r *model.SignalRecord) {
		now := time.Now().UTC()
		r.TriggeredAt = &now
	})
	if err != nil || !ok {
		t.Fatalf("expected CAS success, ok=%v err=%v", ok, err)
	}

	// A second attempt from the same stale "active" precondition must lose.
	ok, err = s.CompareAndSetStatus(ctx, rec.SignalID, model.StatusActive, model.StatusTriggered, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected second CAS from stale precondition to fail")
	}

	got, err := s.GetSignal(ctx, rec.SignalID)
	if err != nil {
		t.Fatalf("GetSignal: %v", err)
	}
	if got.Status != model.StatusTriggered {
		t.Fatalf("expected status triggered, got %v", got.Status)
	}
	_ = s.DeleteSignal(ctx, rec.SignalID)
}
