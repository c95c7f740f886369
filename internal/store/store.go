// Package store defines the storage port interfaces the rest of the
// pipeline depends on, generalizing the split
// CandleWriter/CandleReader/IndicatorWriter/IndicatorReader/SnapshotStore
// interfaces (internal/model/ports.go) into the wider surface this pipeline
// needs: ticks, depth, candles at arbitrary timeframes, indicator values
// with a previous-value cache, and signal records with compare-and-set
// transitions.
package store

import (
	"context"
	"time"

	"tradingcore/internal/model"
)

// TickStore persists the latest tick per instrument; no tick history is
// kept.
type TickStore interface {
	PutTick(ctx context.Context, tick model.Tick) error
	LatestTick(ctx context.Context, instrumentKey string) (*model.Tick, error)
}

// DepthStore persists the latest order-book snapshot per instrument.
type DepthStore interface {
	PutDepth(ctx context.Context, depth model.Depth) error
	LatestDepth(ctx context.Context, instrumentKey string) (*model.Depth, error)
}

// CandleStore persists OHLC candles at every timeframe the candle builder
// maintains, keyed by instrument+timeframe, generalizing its
// separate 1s-candle/TF-candle split (internal/model/ports.go CandleWriter)
// into one timeframe-parameterized surface.
type CandleStore interface {
	PutCandle(ctx context.Context, c model.TFCandle) error
	LatestCandle(ctx context.Context, instrumentKey string, tfSeconds int) (*model.TFCandle, error)
	ReadCandles(ctx context.Context, instrumentKey string, tfSeconds int, afterTS time.Time, limit int) ([]model.TFCandle, error)
}

// IndicatorStore persists computed indicator values and keeps exactly one
// previous value per (instrument, timeframe, indicator) for crossing-
// predicate evaluation against a crossing condition.
type IndicatorStore interface {
	PutIndicator(ctx context.Context, r model.IndicatorResult) error
	LatestIndicator(ctx context.Context, instrumentKey string, tfSeconds int, name string) (*model.IndicatorResult, error)
	// PrevIndicator returns the value observed before the current one, or
	// ok=false if this is the first observation (or the cache entry expired).
	PrevIndicator(ctx context.Context, instrumentKey string, tfSeconds int, name string) (value float64, ok bool, err error)
}

// SignalStore persists signal definitions/records and provides the
// compare-and-set primitive the signal monitor uses for the at-most-once
// signal state machine transitions.
type SignalStore interface {
	CreateSignal(ctx context.Context, rec model.SignalRecord) error
	GetSignal(ctx context.Context, signalID string) (*model.SignalRecord, error)
	ListActiveSignals(ctx context.Context) ([]model.SignalRecord, error)
	ListSignalsByInstrument(ctx context.Context, instrumentKey string) ([]model.SignalRecord, error)

	// CompareAndSetStatus atomically transitions a signal from fromStatus
	// to toStatus, applying mutate to the stored record iff the current
	// status matches fromStatus. Returns ok=false (no error) on a mismatch,
	// which callers treat as "another worker already moved it".
	CompareAndSetStatus(ctx context.Context, signalID string, fromStatus, toStatus model.SignalStatus, mutate func(*model.SignalRecord)) (ok bool, err error)

	DeleteSignal(ctx context.Context, signalID string) error
}

// SnapshotStore persists opaque engine snapshots for fast warm restart,
// carried over unchanged from internal/model/ports.go
// SnapshotStore interface.
type SnapshotStore interface {
	SaveSnapshotJSON(data []byte) error
	ReadLatestSnapshotJSON() ([]byte, error)
}

// Store is the aggregate port every component depends on. A single
// backend (internal/store/redis.Store) implements all of it. The separate
// internal/store/mongo.Store implements none of these interfaces; it has
// its own archive/query methods for durable long-term signal/trade history.
type Store interface {
	TickStore
	DepthStore
	CandleStore
	IndicatorStore
	SignalStore
	SnapshotStore

	Close() error
}
