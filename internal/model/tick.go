package model

import "time"

// Tick represents a single market data tick from the upstream feed.
// Price is stored as int64 in paise (1 INR = 100 paise) to avoid float drift.
// Tick is immutable once constructed; timestamps are monotone per
// instrument within one feed session but not globally across feeds.
type Tick struct {
	Token        string    `json:"token"`
	Exchange     string    `json:"exchange"`
	Price        int64     `json:"price"`                // paise (LTP)
	Qty          int64     `json:"qty"`                  // last traded quantity
	OpenInterest *int64    `json:"open_interest,omitempty"` // nil when not applicable (e.g. index)
	TickTS       time.Time `json:"tick_ts"`               // UTC arrival timestamp
	EventTS      time.Time `json:"event_ts,omitempty"`    // exchange-provided canonical time
}

// CanonicalTS returns the best available timestamp for this tick.
// Prefers the exchange-provided EventTS; falls back to TickTS (arrival time).
func (t *Tick) CanonicalTS() time.Time {
	if !t.EventTS.IsZero() {
		return t.EventTS
	}
	return t.TickTS
}

// Key returns a unique key for this tick's instrument: "exchange:token".
func (t *Tick) Key() string {
	return t.Exchange + ":" + t.Token
}

// VolumeOrZero returns Qty, or 0 when the feed omitted volume for this
// instrument (common for index ticks).
func (t *Tick) VolumeOrZero() int64 {
	return t.Qty
}
