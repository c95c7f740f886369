package signal

import (
	"context"
	"sync"
	"testing"
	"time"

	"tradingcore/internal/bus"
	"tradingcore/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// fakeClock satisfies clock.Clock with the host wall clock; tests here
// never exercise virtual time, only Monitor's own state-machine logic.
type fakeClock struct{}

func (fakeClock) Now(ctx context.Context) (time.Time, error) { return time.Now().UTC(), nil }
func (fakeClock) SetVirtual(ctx context.Context, ts time.Time) error { return nil }
func (fakeClock) ClearVirtual(ctx context.Context) error             { return nil }
func (fakeClock) IsVirtual(ctx context.Context) (bool, error)        { return false, nil }

// memStore is a minimal in-memory store.Store used only to exercise the
// Monitor's state-machine transitions without a live Redis instance.
type memStore struct {
	mu      sync.Mutex
	signals map[string]model.SignalRecord
	prev    map[string]float64
	prevOK  map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		signals: make(map[string]model.SignalRecord),
		prev:    make(map[string]float64),
		prevOK:  make(map[string]bool),
	}
}

func (m *memStore) PutTick(ctx context.Context, tick model.Tick) error { return nil }
func (m *memStore) LatestTick(ctx context.Context, instrumentKey string) (*model.Tick, error) {
	return nil, nil
}
func (m *memStore) PutDepth(ctx context.Context, depth model.Depth) error { return nil }
func (m *memStore) LatestDepth(ctx context.Context, instrumentKey string) (*model.Depth, error) {
	return nil, nil
}
func (m *memStore) PutCandle(ctx context.Context, c model.TFCandle) error { return nil }
func (m *memStore) LatestCandle(ctx context.Context, instrumentKey string, tfSeconds int) (*model.TFCandle, error) {
	return nil, nil
}
func (m *memStore) ReadCandles(ctx context.Context, instrumentKey string, tfSeconds int, afterTS time.Time, limit int) ([]model.TFCandle, error) {
	return nil, nil
}
func (m *memStore) PutIndicator(ctx context.Context, r model.IndicatorResult) error { return nil }
func (m *memStore) LatestIndicator(ctx context.Context, instrumentKey string, tfSeconds int, name string) (*model.IndicatorResult, error) {
	return nil, nil
}
func (m *memStore) PrevIndicator(ctx context.Context, instrumentKey string, tfSeconds int, name string) (float64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := instrumentKey + "|" + name
	return m.prev[key], m.prevOK[key], nil
}
func (m *memStore) setPrev(instrumentKey, name string, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := instrumentKey + "|" + name
	m.prev[key] = v
	m.prevOK[key] = true
}

func (m *memStore) CreateSignal(ctx context.Context, rec model.SignalRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals[rec.SignalID] = rec
	return nil
}
func (m *memStore) GetSignal(ctx context.Context, signalID string) (*model.SignalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.signals[signalID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}
func (m *memStore) ListActiveSignals(ctx context.Context) ([]model.SignalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.SignalRecord
	for _, rec := range m.signals {
		if rec.Status == model.StatusActive {
			out = append(out, rec)
		}
	}
	return out, nil
}
func (m *memStore) ListSignalsByInstrument(ctx context.Context, instrumentKey string) ([]model.SignalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.SignalRecord
	for _, rec := range m.signals {
		if rec.Instrument == instrumentKey {
			out = append(out, rec)
		}
	}
	return out, nil
}
func (m *memStore) CompareAndSetStatus(ctx context.Context, signalID string, fromStatus, toStatus model.SignalStatus, mutate func(*model.SignalRecord)) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.signals[signalID]
	if !ok || rec.Status != fromStatus {
		return false, nil
	}
	rec.Status = toStatus
	if mutate != nil {
		mutate(&rec)
	}
	m.signals[signalID] = rec
	return true, nil
}
func (m *memStore) DeleteSignal(ctx context.Context, signalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.signals, signalID)
	return nil
}
func (m *memStore) SaveSnapshotJSON(data []byte) error                 { return nil }
func (m *memStore) ReadLatestSnapshotJSON() ([]byte, error)            { return nil, nil }
func (m *memStore) Close() error                                      { return nil }

func testBus() *bus.Bus {
	// A Bus with no reachable Redis is fine here: tests only exercise
	// Monitor's internal evaluation/CAS logic directly, never Run's
	// subscription loop, so Publish is never reached in a way that blocks
	// the test on an actual connection.
	return bus.New(goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1"}), fakeClock{})
}

func TestMonitor_EvaluateSignal_FiresOnThresholdCross(t *testing.T) {
	st := newMemStore()
	mon := NewMonitor(st, testBus(), fakeClock{})

	sig := model.SignalRecord{
		SignalDefinition: model.SignalDefinition{
			SignalID:   "sig-1",
			Instrument: "NSE:26000",
			Action:     model.ActionBuy,
			PrimaryPredicate: model.Predicate{
				Indicator: "RSI_14",
				Operator:  model.OpGT,
				Threshold: 70,
			},
			Lifetime:  time.Hour,
			CreatedAt: time.Now(),
		},
		Status: model.StatusActive,
	}
	if err := st.CreateSignal(context.Background(), sig); err != nil {
		t.Fatalf("create signal: %v", err)
	}

	var triggered bool
	mon.OnTrigger(func(ctx context.Context, ev model.TriggerEvent) (bool, bool) {
		triggered = true
		return true, false
	})

	mon.updateSnapshot("NSE:26000", model.IndicatorResult{Name: "RSI_14", Value: 71.2, Ready: true, TF: 60})
	mon.evaluateSignal(context.Background(), sig, 1)

	if !triggered {
		t.Fatal("expected handler to be invoked")
	}
	got, err := st.GetSignal(context.Background(), "sig-1")
	if err != nil {
		t.Fatalf("get signal: %v", err)
	}
	if got.Status != model.StatusExecuting {
		t.Fatalf("expected status executing after accept, got %s", got.Status)
	}
}

func TestMonitor_EvaluateSignal_NullValueNeverFires(t *testing.T) {
	st := newMemStore()
	mon := NewMonitor(st, testBus(), fakeClock{})

	sig := model.SignalRecord{
		SignalDefinition: model.SignalDefinition{
			SignalID:   "sig-2",
			Instrument: "NSE:26000",
			Action:     model.ActionSell,
			PrimaryPredicate: model.Predicate{
				Indicator: "RSI_14",
				Operator:  model.OpLT,
				Threshold: 30,
			},
			Lifetime:  time.Hour,
			CreatedAt: time.Now(),
		},
		Status: model.StatusActive,
	}
	if err := st.CreateSignal(context.Background(), sig); err != nil {
		t.Fatalf("create signal: %v", err)
	}

	// No indicator snapshot published yet for RSI_14 -> must not fire.
	mon.evaluateSignal(context.Background(), sig, 1)

	got, _ := st.GetSignal(context.Background(), "sig-2")
	if got.Status != model.StatusActive {
		t.Fatalf("expected signal to remain active with no indicator reading, got %s", got.Status)
	}
}

func TestMonitor_EvaluateSignal_CrossesAboveRequiresPrev(t *testing.T) {
	st := newMemStore()
	mon := NewMonitor(st, testBus(), fakeClock{})

	sig := model.SignalRecord{
		SignalDefinition: model.SignalDefinition{
			SignalID:   "sig-3",
			Instrument: "NSE:26000",
			Action:     model.ActionBuy,
			PrimaryPredicate: model.Predicate{
				Indicator: "MACD_12_26_9_hist",
				Operator:  model.OpCrossesAbove,
				Threshold: 0,
			},
			Lifetime:  time.Hour,
			CreatedAt: time.Now(),
		},
		Status: model.StatusActive,
	}
	if err := st.CreateSignal(context.Background(), sig); err != nil {
		t.Fatalf("create signal: %v", err)
	}

	mon.updateSnapshot("NSE:26000", model.IndicatorResult{Name: "MACD_12_26_9_hist", Value: 0.5, Ready: true, TF: 60})
	// No previous value recorded -> must not fire even though curr > 0.
	mon.evaluateSignal(context.Background(), sig, 1)
	got, _ := st.GetSignal(context.Background(), "sig-3")
	if got.Status != model.StatusActive {
		t.Fatalf("expected no fire without a previous value, got %s", got.Status)
	}

	st.setPrev("NSE:26000", "MACD_12_26_9_hist", -0.1)
	mon.evaluateSignal(context.Background(), sig, 2)
	got, _ = st.GetSignal(context.Background(), "sig-3")
	if got.Status == model.StatusActive {
		t.Fatal("expected signal to fire once a qualifying previous value is present")
	}
}

func TestMonitor_Fire_RetryReturnsToActive(t *testing.T) {
	st := newMemStore()
	mon := NewMonitor(st, testBus(), fakeClock{})

	sig := model.SignalRecord{
		SignalDefinition: model.SignalDefinition{
			SignalID:   "sig-4",
			Instrument: "NSE:26000",
			Action:     model.ActionBuy,
			PrimaryPredicate: model.Predicate{
				Indicator: "SMA_20",
				Operator:  model.OpGT,
				Threshold: 100,
			},
			Lifetime:  time.Hour,
			CreatedAt: time.Now(),
		},
		Status: model.StatusActive,
	}
	if err := st.CreateSignal(context.Background(), sig); err != nil {
		t.Fatalf("create signal: %v", err)
	}

	mon.OnTrigger(func(ctx context.Context, ev model.TriggerEvent) (bool, bool) {
		return false, true
	})
	mon.updateSnapshot("NSE:26000", model.IndicatorResult{Name: "SMA_20", Value: 105, Ready: true, TF: 60})
	mon.evaluateSignal(context.Background(), sig, 1)

	got, _ := st.GetSignal(context.Background(), "sig-4")
	if got.Status != model.StatusActive {
		t.Fatalf("expected retry to return signal to active, got %s", got.Status)
	}
}

func TestMonitor_ExpirySweep_ExpiresPastLifetime(t *testing.T) {
	st := newMemStore()
	mon := NewMonitor(st, testBus(), fakeClock{})

	sig := model.SignalRecord{
		SignalDefinition: model.SignalDefinition{
			SignalID:   "sig-5",
			Instrument: "NSE:26000",
			Action:     model.ActionBuy,
			PrimaryPredicate: model.Predicate{
				Indicator: "SMA_20",
				Operator:  model.OpGT,
				Threshold: 100,
			},
			Lifetime:  time.Millisecond,
			CreatedAt: time.Now().Add(-time.Hour),
		},
		Status: model.StatusActive,
	}
	if err := st.CreateSignal(context.Background(), sig); err != nil {
		t.Fatalf("create signal: %v", err)
	}

	mon.sweepOnce(context.Background())

	got, _ := st.GetSignal(context.Background(), "sig-5")
	if got.Status != model.StatusExpired {
		t.Fatalf("expected expired after sweep, got %s", got.Status)
	}
}
