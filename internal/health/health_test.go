package health

import (
	"context"
	"testing"
	"time"

	"tradingcore/internal/model"
)

type fakeClock struct {
	virtual bool
	err     error
}

func (f *fakeClock) Now(ctx context.Context) (time.Time, error) { return time.Now(), nil }
func (f *fakeClock) SetVirtual(ctx context.Context, ts time.Time) error { return nil }
func (f *fakeClock) ClearVirtual(ctx context.Context) error            { return nil }
func (f *fakeClock) IsVirtual(ctx context.Context) (bool, error)       { return f.virtual, f.err }

type fakeStore struct {
	tick *model.Tick
	err  error
}

func (f *fakeStore) PutTick(ctx context.Context, t model.Tick) error { return nil }
func (f *fakeStore) LatestTick(ctx context.Context, instrumentKey string) (*model.Tick, error) {
	return f.tick, f.err
}
func (f *fakeStore) PutDepth(ctx context.Context, d model.Depth) error { return nil }
func (f *fakeStore) LatestDepth(ctx context.Context, instrumentKey string) (*model.Depth, error) {
	return nil, nil
}
func (f *fakeStore) PutCandle(ctx context.Context, c model.TFCandle) error { return nil }
func (f *fakeStore) LatestCandle(ctx context.Context, instrumentKey string, tfSeconds int) (*model.TFCandle, error) {
	return nil, nil
}
func (f *fakeStore) ReadCandles(ctx context.Context, instrumentKey string, tfSeconds int, afterTS time.Time, limit int) ([]model.TFCandle, error) {
	return nil, nil
}
func (f *fakeStore) PutIndicator(ctx context.Context, r model.IndicatorResult) error { return nil }
func (f *fakeStore) LatestIndicator(ctx context.Context, instrumentKey string, tfSeconds int, name string) (*model.IndicatorResult, error) {
	return nil, nil
}
func (f *fakeStore) PrevIndicator(ctx context.Context, instrumentKey string, tfSeconds int, name string) (float64, bool, error) {
	return 0, false, nil
}
func (f *fakeStore) CreateSignal(ctx context.Context, rec model.SignalRecord) error { return nil }
func (f *fakeStore) GetSignal(ctx context.Context, signalID string) (*model.SignalRecord, error) {
	return nil, nil
}
func (f *fakeStore) ListActiveSignals(ctx context.Context) ([]model.SignalRecord, error) {
	return nil, nil
}
func (f *fakeStore) ListSignalsByInstrument(ctx context.Context, instrumentKey string) ([]model.SignalRecord, error) {
	return nil, nil
}
func (f *fakeStore) CompareAndSetStatus(ctx context.Context, signalID string, fromStatus, toStatus model.SignalStatus, mutate func(*model.SignalRecord)) (bool, error) {
	return false, nil
}
func (f *fakeStore) DeleteSignal(ctx context.Context, signalID string) error { return nil }
func (f *fakeStore) SaveSnapshotJSON(data []byte) error                     { return nil }
func (f *fakeStore) ReadLatestSnapshotJSON() ([]byte, error)                { return nil, nil }
func (f *fakeStore) Close() error                                           { return nil }

func TestChecker_HealthyWhenVirtualClockSet(t *testing.T) {
	c := NewChecker(&fakeStore{}, &fakeClock{virtual: true}, nil)
	report := c.Check(context.Background())
	if report.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %s", report.Status)
	}
}

func TestChecker_DegradedOnStaleTick(t *testing.T) {
	staleTick := &model.Tick{TickTS: time.Now().Add(-10 * time.Minute)}
	c := NewChecker(&fakeStore{tick: staleTick}, &fakeClock{virtual: false}, func() []string { return []string{"NSE:26000"} })
	report := c.Check(context.Background())
	if report.Status != StatusDegraded {
		t.Fatalf("expected degraded on stale tick, got %s", report.Status)
	}
}

func TestChecker_UnhealthyOnStoreUnreachable(t *testing.T) {
	c := NewChecker(&fakeStore{}, &fakeClock{err: context.DeadlineExceeded}, nil)
	report := c.Check(context.Background())
	if report.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %s", report.Status)
	}
}

func TestChecker_HealthyOnFreshTick(t *testing.T) {
	freshTick := &model.Tick{TickTS: time.Now()}
	c := NewChecker(&fakeStore{tick: freshTick}, &fakeClock{virtual: false}, func() []string { return []string{"NSE:26000"} })
	report := c.Check(context.Background())
	if report.Status != StatusHealthy {
		t.Fatalf("expected healthy on fresh tick, got %s", report.Status)
	}
}

func TestChecker_WatchFatalFiresAfterThreshold(t *testing.T) {
	c := NewChecker(&fakeStore{}, &fakeClock{err: context.DeadlineExceeded}, nil)

	fired := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	go c.WatchFatal(ctx, 10*time.Millisecond, 30*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(400 * time.Millisecond):
		t.Fatal("expected WatchFatal to fire once the store stayed unreachable past the threshold")
	}
}

func TestChecker_WatchFatalResetsOnRecovery(t *testing.T) {
	clk := &fakeClock{err: context.DeadlineExceeded}
	c := NewChecker(&fakeStore{}, clk, nil)

	fired := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	go c.WatchFatal(ctx, 10*time.Millisecond, 1*time.Hour, func() { close(fired) })
	time.Sleep(50 * time.Millisecond)
	clk.err = nil // store recovers before the threshold elapses

	select {
	case <-fired:
		t.Fatal("did not expect WatchFatal to fire after recovery")
	case <-time.After(150 * time.Millisecond):
	}
}
