// Package redis is the canonical Store backend: latest-value
// keys with TTL plus capped streams for history, the same persistence
// idiom as internal/store/redis/writer.go and reader.go,
// generalized from their fixed 1s/TF-candle split to an
// instrument+timeframe-keyed surface, and extended with depth snapshots,
// a previous-indicator-value cache, and signal CAS transitions.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"tradingcore/internal/errs"
	"tradingcore/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	defaultLatestTTL = 30 * time.Minute
	prevIndicatorTTL = 24 * time.Hour
	signalKeyPrefix  = "signal:"
	activeSignalsSet = "signal:active"
)

// warnCorrupt logs a malformed-record decode failure. A Corrupt record is
// always demoted to not-found at the call site rather than surfaced as an
// unhandled error kind — a caller never has a recovery path for a
// malformed payload, only for absence.
func warnCorrupt(op, reason string, err error) {
	log.Printf("[store] %s: %s: %v (treating as not found)", op, reason, err)
}

// Config configures the Store's connection to Redis.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Store is the Redis-backed implementation of store.Store.
type Store struct {
	client *goredis.Client
}

// Client exposes the underlying client for health checks and for handing
// to bus.New, since the Bus and the Store share one connection.
func (s *Store) Client() *goredis.Client { return s.client }

// New dials Redis and pings it before returning, matching writer.go's
// fail-fast connect-and-ping pattern.
func New(cfg Config) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errs.New(errs.KindBackendUnavailable, "store.new", "redis ping failed", err)
	}
	return &Store{client: client}, nil
}

// NewFromClient wraps an already-connected client, used by cmd/ entry
// points that share one client between the Store and the Bus.
func NewFromClient(client *goredis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Close() error { return s.client.Close() }

// ---- ticks ----

func (s *Store) PutTick(ctx context.Context, tick model.Tick) error {
	key := "tick:latest:" + tick.Key()
	if err := s.client.Set(ctx, key, string(mustJSON(&tick)), defaultLatestTTL).Err(); err != nil {
		return errs.New(errs.KindBackendUnavailable, "store.put_tick", "redis set failed", err)
	}
	return nil
}

func (s *Store) LatestTick(ctx context.Context, instrumentKey string) (*model.Tick, error) {
	raw, err := s.client.Get(ctx, "tick:latest:"+instrumentKey).Result()
	if err == goredis.Nil {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, errs.New(errs.KindBackendUnavailable, "store.latest_tick", "redis get failed", err)
	}
	var t model.Tick
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		warnCorrupt("store.latest_tick", "malformed tick", err)
		return nil, errs.ErrNotFound
	}
	return &t, nil
}

// ---- depth ----

func (s *Store) PutDepth(ctx context.Context, depth model.Depth) error {
	key := "depth:latest:" + depth.Key()
	if err := s.client.Set(ctx, key, string(depth.JSON()), defaultLatestTTL).Err(); err != nil {
		return errs.New(errs.KindBackendUnavailable, "store.put_depth", "redis set failed", err)
	}
	return nil
}

func (s *Store) LatestDepth(ctx context.Context, instrumentKey string) (*model.Depth, error) {
	raw, err := s.client.Get(ctx, "depth:latest:"+instrumentKey).Result()
	if err == goredis.Nil {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, errs.New(errs.KindBackendUnavailable, "store.latest_depth", "redis get failed", err)
	}
	var d model.Depth
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		warnCorrupt("store.latest_depth", "malformed depth", err)
		return nil, errs.ErrNotFound
	}
	return &d, nil
}

// ---- candles ----

func candleStreamKey(instrumentKey string, tf int) string {
	return fmt.Sprintf("candle:%ds:%s", tf, instrumentKey)
}
func candleLatestKey(instrumentKey string, tf int) string {
	return fmt.Sprintf("candle:%ds:latest:%s", tf, instrumentKey)
}

func (s *Store) PutCandle(ctx context.Context, c model.TFCandle) error {
	jsonData := string(c.JSON())
	maxLen := int64(10800/c.TF) + 100
	if maxLen < 200 {
		maxLen = 200
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, candleLatestKey(c.Key(), c.TF), jsonData, defaultLatestTTL)
	if !c.Forming {
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: candleStreamKey(c.Key(), c.TF),
			MaxLen: maxLen,
			Approx: true,
			Values: map[string]interface{}{"data": jsonData},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errs.New(errs.KindBackendUnavailable, "store.put_candle", "redis pipeline failed", err)
	}
	return nil
}

func (s *Store) LatestCandle(ctx context.Context, instrumentKey string, tfSeconds int) (*model.TFCandle, error) {
	raw, err := s.client.Get(ctx, candleLatestKey(instrumentKey, tfSeconds)).Result()
	if err == goredis.Nil {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, errs.New(errs.KindBackendUnavailable, "store.latest_candle", "redis get failed", err)
	}
	var c model.TFCandle
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		warnCorrupt("store.latest_candle", "malformed candle", err)
		return nil, errs.ErrNotFound
	}
	return &c, nil
}

func (s *Store) ReadCandles(ctx context.Context, instrumentKey string, tfSeconds int, afterTS time.Time, limit int) ([]model.TFCandle, error) {
	startID := "-"
	if !afterTS.IsZero() {
		startID = fmt.Sprintf("%d", afterTS.UnixMilli())
	}
	msgs, err := s.client.XRangeN(ctx, candleStreamKey(instrumentKey, tfSeconds), "("+startID, "+", int64(limit)).Result()
	if err != nil {
		return nil, errs.New(errs.KindBackendUnavailable, "store.read_candles", "redis xrange failed", err)
	}
	out := make([]model.TFCandle, 0, len(msgs))
	for _, m := range msgs {
		data, ok := m.Values["data"].(string)
		if !ok {
			continue
		}
		var c model.TFCandle
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// ---- indicators ----

func indicatorLatestKey(instrumentKey string, tf int, name string) string {
	return fmt.Sprintf("ind:%s:%ds:latest:%s", name, tf, instrumentKey)
}
func indicatorPrevKey(instrumentKey string, tf int, name string) string {
	return fmt.Sprintf("ind:%s:%ds:prev:%s", name, tf, instrumentKey)
}

// PutIndicator writes the new value and rotates the current latest value
// into the previous-value cache, so the next observation can evaluate a
// crosses_above/crosses_below predicate. Rotation happens in a single
// pipeline: read-then-write races are acceptable here since worst case a
// crossing predicate sees a one-tick-stale previous value, never a
// corrupted one.
func (s *Store) PutIndicator(ctx context.Context, r model.IndicatorResult) error {
	if !r.Ready {
		return nil
	}
	latestKey := indicatorLatestKey(r.Key(), r.TF, r.Name)
	prevKey := indicatorPrevKey(r.Key(), r.TF, r.Name)

	prior, err := s.client.Get(ctx, latestKey).Result()
	if err != nil && err != goredis.Nil {
		return errs.New(errs.KindBackendUnavailable, "store.put_indicator", "redis get failed", err)
	}

	jsonData := string(r.JSON())
	pipe := s.client.Pipeline()
	if prior != "" {
		pipe.Set(ctx, prevKey, prior, prevIndicatorTTL)
	}
	pipe.Set(ctx, latestKey, jsonData, defaultLatestTTL)
	if !r.Live {
		maxLen := int64(10800/r.TF) + 100
		if maxLen < 200 {
			maxLen = 200
		}
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: r.StreamKey(),
			MaxLen: maxLen,
			Approx: true,
			Values: map[string]interface{}{"data": jsonData},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errs.New(errs.KindBackendUnavailable, "store.put_indicator", "redis pipeline failed", err)
	}
	return nil
}

func (s *Store) LatestIndicator(ctx context.Context, instrumentKey string, tfSeconds int, name string) (*model.IndicatorResult, error) {
	raw, err := s.client.Get(ctx, indicatorLatestKey(instrumentKey, tfSeconds, name)).Result()
	if err == goredis.Nil {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, errs.New(errs.KindBackendUnavailable, "store.latest_indicator", "redis get failed", err)
	}
	var r model.IndicatorResult
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		warnCorrupt("store.latest_indicator", "malformed indicator", err)
		return nil, errs.ErrNotFound
	}
	return &r, nil
}

func (s *Store) PrevIndicator(ctx context.Context, instrumentKey string, tfSeconds int, name string) (float64, bool, error) {
	raw, err := s.client.Get(ctx, indicatorPrevKey(instrumentKey, tfSeconds, name)).Result()
	if err == goredis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errs.New(errs.KindBackendUnavailable, "store.prev_indicator", "redis get failed", err)
	}
	var r model.IndicatorResult
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		warnCorrupt("store.prev_indicator", "malformed indicator", err)
		return 0, false, nil
	}
	return r.Value, true, nil
}

// ---- signals ----

func signalKey(id string) string { return signalKeyPrefix + id }

func (s *Store) CreateSignal(ctx context.Context, rec model.SignalRecord) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, signalKey(rec.SignalID), string(rec.JSON()), 0)
	if !rec.Status.Terminal() {
		pipe.SAdd(ctx, activeSignalsSet, rec.SignalID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errs.New(errs.KindBackendUnavailable, "store.create_signal", "redis pipeline failed", err)
	}
	return nil
}

func (s *Store) GetSignal(ctx context.Context, signalID string) (*model.SignalRecord, error) {
	raw, err := s.client.Get(ctx, signalKey(signalID)).Result()
	if err == goredis.Nil {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, errs.New(errs.KindBackendUnavailable, "store.get_signal", "redis get failed", err)
	}
	var rec model.SignalRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		warnCorrupt("store.get_signal", "malformed signal record", err)
		return nil, errs.ErrNotFound
	}
	return &rec, nil
}

func (s *Store) ListActiveSignals(ctx context.Context) ([]model.SignalRecord, error) {
	ids, err := s.client.SMembers(ctx, activeSignalsSet).Result()
	if err != nil {
		return nil, errs.New(errs.KindBackendUnavailable, "store.list_active_signals", "redis smembers failed", err)
	}
	return s.fetchSignals(ctx, ids)
}

func (s *Store) ListSignalsByInstrument(ctx context.Context, instrumentKey string) ([]model.SignalRecord, error) {
	// Active-signal set is small enough (bounded by per-user
	// quota) to scan in-process rather than maintaining a secondary index.
	active, err := s.ListActiveSignals(ctx)
	if err != nil {
		return nil, err
	}
	out := active[:0]
	for _, rec := range active {
		if rec.Instrument == instrumentKey {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *Store) fetchSignals(ctx context.Context, ids []string) ([]model.SignalRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*goredis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, signalKey(id))
	}
	_, _ = pipe.Exec(ctx) // individual cmd errors (e.g. Nil for a reaped key) are handled below

	out := make([]model.SignalRecord, 0, len(ids))
	for _, cmd := range cmds {
		raw, err := cmd.Result()
		if err != nil {
			continue
		}
		var rec model.SignalRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// CompareAndSetStatus performs the read-check-mutate-write under WATCH so two signal
// monitor workers racing on the same signal never both win a transition.
func (s *Store) CompareAndSetStatus(ctx context.Context, signalID string, fromStatus, toStatus model.SignalStatus, mutate func(*model.SignalRecord)) (bool, error) {
	key := signalKey(signalID)
	ok := false

	txf := func(tx *goredis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if err == goredis.Nil {
			return errs.ErrNotFound
		}
		if err != nil {
			return err
		}
		var rec model.SignalRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return errs.New(errs.KindCorrupt, "store.cas_signal", "malformed signal record", err)
		}
		if rec.Status != fromStatus {
			ok = false
			return nil
		}
		rec.Status = toStatus
		if mutate != nil {
			mutate(&rec)
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, string(rec.JSON()), 0)
			if toStatus.Terminal() {
				pipe.SRem(ctx, activeSignalsSet, signalID)
			}
			return nil
		})
		if err != nil {
			return err
		}
		ok = true
		return nil
	}

	err := s.client.Watch(ctx, txf, key)
	if err != nil {
		return false, errs.New(errs.KindBackendUnavailable, "store.cas_signal", "watch transaction failed", err)
	}
	return ok, nil
}

func (s *Store) DeleteSignal(ctx context.Context, signalID string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, signalKey(signalID))
	pipe.SRem(ctx, activeSignalsSet, signalID)
	if _, err := pipe.Exec(ctx); err != nil {
		return errs.New(errs.KindBackendUnavailable, "store.delete_signal", "redis pipeline failed", err)
	}
	return nil
}

// ---- snapshot ----

const snapshotKey = "engine:snapshot:latest"

func (s *Store) SaveSnapshotJSON(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.Set(ctx, snapshotKey, data, 0).Err(); err != nil {
		return errs.New(errs.KindBackendUnavailable, "store.save_snapshot", "redis set failed", err)
	}
	return nil
}

func (s *Store) ReadLatestSnapshotJSON() ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	raw, err := s.client.Get(ctx, snapshotKey).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errs.New(errs.KindBackendUnavailable, "store.read_snapshot", "redis get failed", err)
	}
	return raw, nil
}

func mustJSON(v interface{}) []byte {
	b, _ := json.Marshal(v)
	return b
}
