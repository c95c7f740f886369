// Package replay is the historical Collector: it drives the
// shared virtual clock through a sequence of historical bars and
// synthesizes ticks from each bar's O/H/L/C path, so the exact same
// candle builder, indicator engine, and signal monitor code paths that
// run in production exercise against recorded history. Loading and speed
// control follow internal/marketdata/replay/replay.go's loop; what
// changes is the output — synthetic ticks instead of pre-built TF candles
// — so replay and live collection share a single downstream pipeline
// rather than each feeding different shapes.
package replay

import (
	"context"
	"log"
	"time"

	"tradingcore/internal/clock"
	"tradingcore/internal/collector"
	"tradingcore/internal/model"
)

// Bar is one historical OHLC observation for an instrument, independent
// of its storage source (SQLite TF candles, a CSV import, Mongo history).
type Bar struct {
	Instrument string // "exchange:token"
	TS         time.Time
	Open, High, Low, Close int64
	Volume     int64
}

// Source supplies the ordered historical bars to replay. Kept minimal so
// both a SQLite-backed reader and a flat CSV loader can implement it.
type Source interface {
	Bars() ([]Bar, error)
}

// Config controls playback.
type Config struct {
	// Speed is the playback multiplier: 1.0 = real time gaps between bars,
	// 10.0 = 10x faster, 0 = as fast as possible (no sleeping).
	Speed float64
	// MaxGap bounds how long a single inter-bar sleep may take, so a
	// multi-day gap between sessions doesn't stall replay for hours.
	MaxGap time.Duration
}

// Collector replays Source's bars as synthetic ticks.
type Collector struct {
	cfg    Config
	source Source
	clock  clock.Clock
	sink   collector.Sink
	cancel context.CancelFunc
}

// New creates a replay Collector. clk is the shared Clock this replay
// advances via SetVirtual as it progresses through history.
func New(cfg Config, source Source, clk clock.Clock, sink collector.Sink) *Collector {
	if cfg.MaxGap == 0 {
		cfg.MaxGap = 5 * time.Second
	}
	return &Collector{cfg: cfg, source: source, clock: clk, sink: sink}
}

// Start loads all bars, sorts them by time, and emits four synthetic
// ticks per bar (open, high, low, close) — the minimal path that lets
// downstream aggregation reconstruct an equivalent OHLC candle, the same
// way a live feed would.
func (c *Collector) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	bars, err := c.source.Bars()
	if err != nil {
		return err
	}
	sortBars(bars)
	log.Printf("[collector.replay] loaded %d bars, speed=%.1fx", len(bars), c.cfg.Speed)

	var prevTS time.Time
	emitted := 0
	for _, b := range bars {
		select {
		case <-ctx.Done():
			log.Printf("[collector.replay] cancelled after %d bars", emitted)
			return ctx.Err()
		default:
		}

		if c.cfg.Speed > 0 && !prevTS.IsZero() {
			gap := b.TS.Sub(prevTS)
			if gap > 0 {
				scaled := time.Duration(float64(gap) / c.cfg.Speed)
				if scaled > c.cfg.MaxGap {
					scaled = c.cfg.MaxGap
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(scaled):
				}
			}
		}
		prevTS = b.TS

		if err := c.clock.SetVirtual(ctx, b.TS); err != nil {
			log.Printf("[collector.replay] virtual clock advance failed: %v", err)
		}

		for _, tick := range synthesizeTicks(b) {
			select {
			case c.sink.Ticks <- tick:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		emitted++
	}
	log.Printf("[collector.replay] completed: %d bars replayed as %d ticks", emitted, emitted*4)
	return nil
}

// Stop cancels the replay loop.
func (c *Collector) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

// synthesizeTicks expands one bar into its open/high/low/close path. The
// high/low ordering (H before L) is a convention, not a recorded fact —
// intrabar sequencing is genuinely lost once only OHLC survives.
func synthesizeTicks(b Bar) []model.Tick {
	exchange, token := splitInstrument(b.Instrument)
	mk := func(price int64, offset time.Duration) model.Tick {
		return model.Tick{
			Token: token, Exchange: exchange,
			Price: price, Qty: b.Volume / 4,
			TickTS: b.TS.Add(offset),
		}
	}
	return []model.Tick{
		mk(b.Open, 0),
		mk(b.High, time.Millisecond),
		mk(b.Low, 2*time.Millisecond),
		mk(b.Close, 3*time.Millisecond),
	}
}

func splitInstrument(key string) (exchange, token string) {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i], key[i+1:]
		}
	}
	return "", key
}

func sortBars(bars []Bar) {
	for i := 1; i < len(bars); i++ {
		for j := i; j > 0 && bars[j].TS.Before(bars[j-1].TS); j-- {
			bars[j], bars[j-1] = bars[j-1], bars[j]
		}
	}
}
