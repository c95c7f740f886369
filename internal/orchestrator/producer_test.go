package orchestrator

import (
	"context"
	"testing"
	"time"

	"tradingcore/internal/model"
)

type stubSignalStore struct {
	created model.SignalRecord
}

func (s *stubSignalStore) CreateSignal(ctx context.Context, rec model.SignalRecord) error {
	s.created = rec
	return nil
}

type fixedClock struct{ ts time.Time }

func (c fixedClock) Now(ctx context.Context) (time.Time, error)        { return c.ts, nil }
func (c fixedClock) SetVirtual(ctx context.Context, ts time.Time) error { return nil }
func (c fixedClock) ClearVirtual(ctx context.Context) error             { return nil }
func (c fixedClock) IsVirtual(ctx context.Context) (bool, error)        { return false, nil }

func TestRedisSignalProducer_ProduceNew_StampsIDAndTimestamp(t *testing.T) {
	store := &stubSignalStore{}
	clk := fixedClock{ts: time.Date(2026, 3, 1, 9, 15, 0, 0, time.UTC)}
	p := NewRedisSignalProducer(store, clk)

	def := model.SignalDefinition{
		Instrument: "NSE:3045",
		Action:     model.ActionBuy,
		PrimaryPredicate: model.Predicate{
			Indicator: "RSI_14", Operator: model.OpLT, Threshold: 30,
		},
		Lifetime: time.Hour,
	}

	id, err := p.ProduceNew(context.Background(), def)
	if err != nil {
		t.Fatalf("ProduceNew failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected a non-empty generated SignalID")
	}
	if store.created.SignalID != id {
		t.Fatalf("expected stored record to carry the returned SignalID, got %q want %q", store.created.SignalID, id)
	}
	if !store.created.CreatedAt.Equal(clk.ts) {
		t.Fatalf("expected CreatedAt=%v, got %v", clk.ts, store.created.CreatedAt)
	}
	if store.created.Status != model.StatusActive {
		t.Fatalf("expected status active, got %s", store.created.Status)
	}
}

func TestRedisSignalProducer_ProduceNew_KeepsExplicitID(t *testing.T) {
	store := &stubSignalStore{}
	clk := fixedClock{ts: time.Now()}
	p := NewRedisSignalProducer(store, clk)

	def := model.SignalDefinition{SignalID: "manual-id", Instrument: "NSE:3045", Action: model.ActionSell}

	id, err := p.ProduceNew(context.Background(), def)
	if err != nil {
		t.Fatalf("ProduceNew failed: %v", err)
	}
	if id != "manual-id" {
		t.Fatalf("expected explicit SignalID to be kept, got %q", id)
	}
}
