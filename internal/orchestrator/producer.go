package orchestrator

import (
	"context"

	"github.com/google/uuid"

	"tradingcore/internal/clock"
	"tradingcore/internal/model"
)

// SignalStore is the subset of internal/store.Store a producer needs to
// persist a freshly created signal definition.
type SignalStore interface {
	CreateSignal(ctx context.Context, rec model.SignalRecord) error
}

// RedisSignalProducer implements SignalProducer by stamping a fresh
// SignalID and CreatedAt onto an incoming definition and writing it to
// the Store in the "active" state, so signal.Monitor evaluates it on the
// next indicator update.
type RedisSignalProducer struct {
	store SignalStore
	clk   clock.Clock
}

// NewRedisSignalProducer builds a SignalProducer backed by store, stamping
// every definition's CreatedAt from clk so a replay run's signals carry
// virtual time like everything else in the pipeline.
func NewRedisSignalProducer(store SignalStore, clk clock.Clock) *RedisSignalProducer {
	return &RedisSignalProducer{store: store, clk: clk}
}

// Produce assigns def a SignalID (if unset) and CreatedAt, then persists
// it as a fresh active record. Satisfies orchestrator.SignalProducer.
func (p *RedisSignalProducer) Produce(ctx context.Context, def model.SignalDefinition) error {
	_, err := p.ProduceNew(ctx, def)
	return err
}

// ProduceNew is like Produce but returns the SignalID assigned to def,
// for callers (e.g. an HTTP handler) that need to hand it back to the
// caller that submitted the definition.
func (p *RedisSignalProducer) ProduceNew(ctx context.Context, def model.SignalDefinition) (string, error) {
	if def.SignalID == "" {
		def.SignalID = uuid.New().String()
	}
	if def.CreatedAt.IsZero() {
		now, err := p.clk.Now(ctx)
		if err != nil {
			return "", err
		}
		def.CreatedAt = now.UTC()
	}
	// Monitor only evaluates StatusActive signals (ListActiveSignals
	// returns everything non-terminal, but fire()/sweepOnce() both skip
	// anything not already active) — there's no separate approval step,
	// so a produced signal goes straight to active.
	rec := model.SignalRecord{
		SignalDefinition: def,
		Status:           model.StatusActive,
	}
	if err := p.store.CreateSignal(ctx, rec); err != nil {
		return "", err
	}
	return def.SignalID, nil
}
