package model

import (
	"encoding/json"
	"time"
)

// DepthLevel is a single price level in the order book.
type DepthLevel struct {
	Price      int64 `json:"price"`       // paise
	Quantity   int64 `json:"quantity"`
	OrderCount int   `json:"order_count"`
}

// Depth represents a 5-level order book snapshot for a single instrument.
// Depth replaces any prior depth for the instrument atomically — it is
// never merged with a previous snapshot. Index instruments commonly
// produce no depth at all; a zero-value Depth (empty Buy/Sell) is valid
// and is persisted as received, like any other snapshot.
type Depth struct {
	Token    string       `json:"token"`
	Exchange string       `json:"exchange"`
	TS       time.Time    `json:"ts"`
	Buy      []DepthLevel `json:"buy"`  // up to 5 levels, best bid first
	Sell     []DepthLevel `json:"sell"` // up to 5 levels, best ask first
}

// Key returns "exchange:token".
func (d *Depth) Key() string {
	return d.Exchange + ":" + d.Token
}

// Empty reports whether this depth carries no levels on either side —
// the expected shape for index instruments per the upstream feed.
func (d *Depth) Empty() bool {
	return len(d.Buy) == 0 && len(d.Sell) == 0
}

// JSON returns the JSON-encoded depth (ignoring errors for hot-path usage).
func (d *Depth) JSON() []byte {
	b, _ := json.Marshal(d)
	return b
}
