// Package mongo is the durable archival backend for signal history and
// executed trades. Redis holds the live, bounded working set (active
// signals, recent indicator values); this package accumulates the
// full history those feed into once a signal reaches a terminal state or
// an order fills, for audit and backtesting.
package mongo

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"tradingcore/internal/model"
)

// Store wraps the MongoDB client and database used for archival.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// New connects to MongoDB and returns a Store. The URI should include the
// database name (e.g. mongodb://localhost:27017/tradingcore); if absent,
// "tradingcore" is used.
func New(ctx context.Context, uri string) (*Store, error) {
	clientOpts := options.Client().ApplyURI(uri)

	client, err := mongo.Connect(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	dbName := "tradingcore"
	if u, err := url.Parse(uri); err == nil {
		if name := strings.TrimPrefix(u.Path, "/"); name != "" {
			dbName = name
		}
	}

	log.Printf("[store.mongo] connected (db=%s)", dbName)
	return &Store{client: client, db: client.Database(dbName)}, nil
}

// Close disconnects the Mongo client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Migrate creates idempotent indexes on all collections this store uses.
func (s *Store) Migrate(ctx context.Context) error {
	type idx struct {
		collection string
		model      mongo.IndexModel
	}

	indexes := []idx{
		{
			collection: "signals",
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "signal_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		{
			collection: "signals",
			model: mongo.IndexModel{
				Keys: bson.D{
					{Key: "instrument", Value: 1},
					{Key: "created_at", Value: -1},
				},
			},
		},
		{
			collection: "trades",
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "signal_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		{
			collection: "trades",
			model: mongo.IndexModel{
				Keys: bson.D{
					{Key: "instrument_key", Value: 1},
					{Key: "executed_at", Value: -1},
				},
			},
		},
	}

	for _, i := range indexes {
		if _, err := s.db.Collection(i.collection).Indexes().CreateOne(ctx, i.model); err != nil {
			return fmt.Errorf("create index on %s: %w", i.collection, err)
		}
	}

	log.Println("[store.mongo] indexes ensured")
	return nil
}

// ArchiveSignal upserts a terminal signal record into long-term history.
// Called once a signal leaves the active set (executed/failed/expired/
// cancelled) — the Redis copy is removed from the active-signals set at
// the same point, so this is the only remaining record past that.
func (s *Store) ArchiveSignal(ctx context.Context, rec model.SignalRecord) error {
	_, err := s.db.Collection("signals").ReplaceOne(
		ctx,
		bson.M{"signal_id": rec.SignalID},
		rec,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("archive signal %s: %w", rec.SignalID, err)
	}
	return nil
}

// TradeRecord is the durable record of an executed (or failed) order
// produced by a triggered signal.
type TradeRecord struct {
	SignalID      string  `bson:"signal_id"`
	InstrumentKey string  `bson:"instrument_key"`
	Action        string  `bson:"action"`
	Quantity      int64   `bson:"quantity"`
	FillPricePaise int64  `bson:"fill_price_paise"`
	Status        string  `bson:"status"` // "executed" or "failed"
	Reason        string  `bson:"reason,omitempty"`
	ExecutedAt    int64   `bson:"executed_at"` // unix millis
}

// RecordTrade inserts a single executed-order record. Idempotent per
// SignalID via the unique index created by Migrate — a retry after a
// network error that actually succeeded server-side is a duplicate-key
// error, not a double-booked trade.
func (s *Store) RecordTrade(ctx context.Context, t TradeRecord) error {
	_, err := s.db.Collection("trades").InsertOne(ctx, t)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("record trade for signal %s: %w", t.SignalID, err)
	}
	return nil
}

// SignalsByInstrument returns archived signal history for an instrument,
// most recent first, bounded by limit.
func (s *Store) SignalsByInstrument(ctx context.Context, instrumentKey string, limit int) ([]model.SignalRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))

	cur, err := s.db.Collection("signals").Find(ctx, bson.M{"instrument": instrumentKey}, opts)
	if err != nil {
		return nil, fmt.Errorf("query signals for %s: %w", instrumentKey, err)
	}
	defer cur.Close(ctx)

	var out []model.SignalRecord
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode signals for %s: %w", instrumentKey, err)
	}
	return out, nil
}

// TradesByInstrument returns archived trade history for an instrument,
// most recent first, bounded by limit.
func (s *Store) TradesByInstrument(ctx context.Context, instrumentKey string, limit int) ([]TradeRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "executed_at", Value: -1}}).
		SetLimit(int64(limit))

	cur, err := s.db.Collection("trades").Find(ctx, bson.M{"instrument_key": instrumentKey}, opts)
	if err != nil {
		return nil, fmt.Errorf("query trades for %s: %w", instrumentKey, err)
	}
	defer cur.Close(ctx)

	var out []TradeRecord
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode trades for %s: %w", instrumentKey, err)
	}
	return out, nil
}
