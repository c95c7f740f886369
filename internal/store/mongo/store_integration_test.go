//go:build integration

package mongo

import (
	"context"
	"os"
	"testing"
	"time"

	"tradingcore/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		uri = "mongodb://localhost:27017/tradingcore_test"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := New(ctx, uri)
	if err != nil {
		t.Skipf("mongodb not reachable: %v", err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestStore_ArchiveAndQuerySignal(t *testing.T) {
	s := newTestStore(t)
	defer s.Close(context.Background())

	rec := model.SignalRecord{
		SignalDefinition: model.SignalDefinition{
			SignalID:   "sig-1",
			Instrument: "NSE:26000",
			CreatedAt:  time.Now(),
		},
		Status: model.StatusExecuted,
	}
	if err := s.ArchiveSignal(context.Background(), rec); err != nil {
		t.Fatalf("archive: %v", err)
	}
	// Re-archiving the same ID must upsert, not duplicate.
	if err := s.ArchiveSignal(context.Background(), rec); err != nil {
		t.Fatalf("re-archive: %v", err)
	}

	got, err := s.SignalsByInstrument(context.Background(), "NSE:26000", 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 archived signal, got %d", len(got))
	}
}

func TestStore_RecordTradeIdempotent(t *testing.T) {
	s := newTestStore(t)
	defer s.Close(context.Background())

	tr := TradeRecord{
		SignalID:       "sig-dup",
		InstrumentKey:  "NSE:26000",
		Action:         "BUY",
		Quantity:       10,
		FillPricePaise: 150000,
		Status:         "executed",
		ExecutedAt:     time.Now().UnixMilli(),
	}
	if err := s.RecordTrade(context.Background(), tr); err != nil {
		t.Fatalf("record: %v", err)
	}
	// Duplicate insert for the same SignalID must not error.
	if err := s.RecordTrade(context.Background(), tr); err != nil {
		t.Fatalf("duplicate record should be swallowed: %v", err)
	}

	got, err := s.TradesByInstrument(context.Background(), "NSE:26000", 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(got))
	}
}
