// Package signal evaluates active signal predicates against live indicator
// updates and drives the signal state machine through to a terminal
// status. There is no single teacher analogue — the teacher's
// internal/strategy.Engine hard-codes one SMA-crossover strategy; this
// generalizes the same crossing-detection idiom to an arbitrary predicate
// set evaluated per signal.
package signal

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"sync"
	"time"

	"tradingcore/internal/bus"
	"tradingcore/internal/clock"
	"tradingcore/internal/logger"
	"tradingcore/internal/model"
	"tradingcore/internal/store"
)

// Handler is the execution callback a Monitor hands triggered signals to.
// accept=true moves the signal to "executing"; the handler is then
// responsible for calling Store.CompareAndSetStatus itself to report the
// terminal outcome. accept=false
// returns the signal to "active" for retry unless retry=false, in which
// case it becomes "failed".
type Handler func(ctx context.Context, ev model.TriggerEvent) (accept bool, retry bool)

// cachedValue is the last indicator reading a Monitor observed for one
// (instrument, indicator name) pair, used to assemble the snapshot handed
// to a triggered signal's handler.
type cachedValue struct {
	value float64
	tf    int
	ready bool
}

// Archiver persists a signal that has left the active set into durable
// history. internal/store/mongo.Store implements this; it is optional —
// a nil Archiver just skips the archival call.
type Archiver interface {
	ArchiveSignal(ctx context.Context, rec model.SignalRecord) error
}

// Monitor evaluates active signals against indicator updates and runs the
// 1Hz expiry sweep. One Monitor serves every instrument.
type Monitor struct {
	store store.Store
	bus   *bus.Bus
	clk   clock.Clock

	mu        sync.Mutex
	snapshots map[string]map[string]cachedValue // instrument -> indicator name -> value

	handlerMu sync.RWMutex
	handler   Handler

	archiver Archiver
}

// SetArchiver attaches durable storage for signals that reach a terminal
// status (failed, expired) without ever producing a trade record. Signals
// that execute successfully are archived by the executor instead, since
// the trade record is the authoritative account of what happened.
func (m *Monitor) SetArchiver(a Archiver) {
	m.archiver = a
}

// NewMonitor creates a Monitor over the given Store, Bus and Clock. Every
// TriggeredAt stamp and expiry-sweep comparison reads clk, so a replay run's
// signal timestamps advance with virtual time instead of the host clock.
func NewMonitor(st store.Store, b *bus.Bus, clk clock.Clock) *Monitor {
	return &Monitor{
		store:     st,
		bus:       b,
		clk:       clk,
		snapshots: make(map[string]map[string]cachedValue, 256),
	}
}

// OnTrigger registers the execution callback. Must be called before Run.
func (m *Monitor) OnTrigger(h Handler) {
	m.handlerMu.Lock()
	m.handler = h
	m.handlerMu.Unlock()
}

// Run subscribes to every instrument's indicator channel and evaluates
// active signals on each update. Blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	sub := m.bus.SubscribePattern(ctx, "indicators:*")
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-sub.C:
			if !ok {
				return nil
			}
			m.handleMessage(ctx, msg)
		}
	}
}

func (m *Monitor) handleMessage(ctx context.Context, msg model.ChannelMessage) {
	var r model.IndicatorResult
	if err := json.Unmarshal(msg.Payload, &r); err != nil {
		log.Printf("[signal] corrupt indicator payload on %s: %v", msg.Channel, err)
		return
	}
	if r.Live {
		// Forming-candle preview values don't drive the state machine —
		// only finalized bars do, same as the indicator engine's own
		// Process/ProcessPeek split.
		return
	}

	instrumentKey := r.Key()
	m.updateSnapshot(instrumentKey, r)

	signals, err := m.store.ListSignalsByInstrument(ctx, instrumentKey)
	if err != nil {
		log.Printf("[signal] list signals for %s: %v", instrumentKey, err)
		return
	}

	var wg sync.WaitGroup
	for _, sig := range signals {
		if sig.Status != model.StatusActive {
			continue
		}
		sig := sig
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.evaluateSignal(ctx, sig, msg.Sequence)
		}()
	}
	wg.Wait()
}

func (m *Monitor) updateSnapshot(instrumentKey string, r model.IndicatorResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	im, ok := m.snapshots[instrumentKey]
	if !ok {
		im = make(map[string]cachedValue, 16)
		m.snapshots[instrumentKey] = im
	}
	im[r.Name] = cachedValue{value: r.Value, tf: r.TF, ready: r.Ready}
}

func (m *Monitor) currentValue(instrumentKey, name string) (cachedValue, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	im, ok := m.snapshots[instrumentKey]
	if !ok {
		return cachedValue{}, false
	}
	v, ok := im[name]
	if !ok || !v.ready {
		return cachedValue{}, false
	}
	return v, true
}

func (m *Monitor) snapshotOf(instrumentKey string) model.IndicatorSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	im := m.snapshots[instrumentKey]
	out := make(model.IndicatorSnapshot, len(im))
	for name, v := range im {
		val := v.value
		out[name] = &val
	}
	return out
}

// evaluateSignal checks every predicate on sig against the current
// snapshot. Evaluations for one signal ID never overlap: handleMessage
// waits for this call to return before the next indicator message for the
// same instrument is processed.
func (m *Monitor) evaluateSignal(ctx context.Context, sig model.SignalRecord, causalSeq uint64) {
	preds := sig.Predicates()
	for _, p := range preds {
		cv, ok := m.currentValue(sig.Instrument, p.Indicator)
		if !ok {
			return // null reading — predicate false, no error
		}

		fired := false
		switch p.Operator {
		case model.OpCrossesAbove, model.OpCrossesBelow:
			prev, prevOK, err := m.store.PrevIndicator(ctx, sig.Instrument, cv.tf, p.Indicator)
			if err != nil {
				log.Printf("[signal] prev indicator lookup failed for %s/%s: %v", sig.Instrument, p.Indicator, err)
				return
			}
			fired = evaluate(p, cv.value, true, prev, prevOK)
		default:
			fired = evaluate(p, cv.value, true, 0, false)
		}
		if !fired {
			return
		}
	}

	m.fire(ctx, sig, causalSeq)
}

func (m *Monitor) fire(ctx context.Context, sig model.SignalRecord, causalSeq uint64) {
	now, err := m.clk.Now(ctx)
	if err != nil {
		log.Printf("[signal] clock unavailable, cannot fire %s: %v", sig.SignalID, err)
		return
	}
	now = now.UTC()
	ok, err := m.store.CompareAndSetStatus(ctx, sig.SignalID, model.StatusActive, model.StatusTriggered, func(r *model.SignalRecord) {
		r.TriggeredAt = &now
		r.LastCheckedAt = now
	})
	if err != nil {
		log.Printf("[signal] CAS active->triggered failed for %s: %v", sig.SignalID, err)
		return
	}
	if !ok {
		return // lost the race or already moved on — at-most-once holds
	}

	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(sig.SignalID, now))

	ev := model.TriggerEvent{
		SignalID:       sig.SignalID,
		Instrument:     sig.Instrument,
		Action:         sig.Action,
		TriggeredAt:    now,
		Snapshot:       m.snapshotOf(sig.Instrument),
		CausalSequence: causalSeq,
	}
	if _, err := m.bus.Publish(ctx, bus.SignalChannel(sig.Instrument), ev); err != nil {
		log.Printf("[signal] publish trigger event for %s: %v", sig.SignalID, err)
	}

	m.handlerMu.RLock()
	handler := m.handler
	m.handlerMu.RUnlock()
	if handler == nil {
		log.Printf("[signal] %s triggered but no handler registered — leaving in triggered state", sig.SignalID)
		return
	}

	accept, retry := handler(ctx, ev)
	slog.Info("signal dispatched", append(logger.LogWithTrace(ctx), "signal_id", sig.SignalID, "instrument", sig.Instrument, "accepted", accept)...)
	switch {
	case accept:
		if _, err := m.store.CompareAndSetStatus(ctx, sig.SignalID, model.StatusTriggered, model.StatusExecuting, nil); err != nil {
			log.Printf("[signal] CAS triggered->executing failed for %s: %v", sig.SignalID, err)
		}
	case retry:
		if _, err := m.store.CompareAndSetStatus(ctx, sig.SignalID, model.StatusTriggered, model.StatusActive, nil); err != nil {
			log.Printf("[signal] CAS triggered->active (retry) failed for %s: %v", sig.SignalID, err)
		}
	default:
		const reason = "execution handler rejected without retry"
		ok, err := m.store.CompareAndSetStatus(ctx, sig.SignalID, model.StatusTriggered, model.StatusFailed, func(r *model.SignalRecord) {
			r.FailureReason = reason
		})
		if err != nil {
			log.Printf("[signal] CAS triggered->failed for %s: %v", sig.SignalID, err)
			return
		}
		if ok && m.archiver != nil {
			sig.Status = model.StatusFailed
			sig.FailureReason = reason
			if err := m.archiver.ArchiveSignal(ctx, sig); err != nil {
				log.Printf("[signal] archive failed signal %s: %v", sig.SignalID, err)
			}
		}
	}
}

// RunExpirySweep transitions every active signal past its lifetime to
// expired, once a second.
func (m *Monitor) RunExpirySweep(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepOnce(ctx)
		}
	}
}

func (m *Monitor) sweepOnce(ctx context.Context) {
	signals, err := m.store.ListActiveSignals(ctx)
	if err != nil {
		log.Printf("[signal] expiry sweep: list active signals: %v", err)
		return
	}

	now, err := m.clk.Now(ctx)
	if err != nil {
		log.Printf("[signal] expiry sweep: clock unavailable: %v", err)
		return
	}
	now = now.UTC()
	for _, sig := range signals {
		if sig.Status != model.StatusActive {
			continue
		}
		if !now.After(sig.ExpiresAt()) {
			continue
		}
		ok, err := m.store.CompareAndSetStatus(ctx, sig.SignalID, model.StatusActive, model.StatusExpired, nil)
		if err != nil {
			log.Printf("[signal] expiry sweep: CAS active->expired for %s: %v", sig.SignalID, err)
			continue
		}
		if ok {
			log.Printf("[signal] %s expired (created_at=%s lifetime=%s)", sig.SignalID, sig.CreatedAt, sig.Lifetime)
			if m.archiver != nil {
				sig.Status = model.StatusExpired
				if err := m.archiver.ArchiveSignal(ctx, sig); err != nil {
					log.Printf("[signal] archive expired signal %s: %v", sig.SignalID, err)
				}
			}
		}
	}
}
