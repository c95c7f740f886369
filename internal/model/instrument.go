package model

import "time"

// Classification is the instrument's market segment.
type Classification string

const (
	ClassIndex  Classification = "index"
	ClassFuture Classification = "future"
	ClassOption Classification = "option"
	ClassSpot   Classification = "spot"
)

// Right is the option right for option instruments.
type Right string

const (
	RightCall Right = "CE"
	RightPut  Right = "PE"
)

// Instrument represents a tradeable instrument/symbol, resolved once from
// the upstream instrument catalog and treated as immutable thereafter.
type Instrument struct {
	Token          string         `json:"token"`
	Exchange       string         `json:"exchange"`
	TradingSymbol  string         `json:"trading_symbol"`
	Name           string         `json:"name"`
	InstrumentType string         `json:"instrument_type"` // EQ, FUT, CE, PE (broker-native label)
	Classification Classification `json:"classification"`
	Expiry         *time.Time     `json:"expiry,omitempty"` // F&O only
	Strike         *int64         `json:"strike,omitempty"` // paise; option only
	OptionRight    *Right         `json:"right,omitempty"`  // option only
	LotSize        int            `json:"lot_size"`
	TickSize       int64          `json:"tick_size"` // minimum price movement in paise
}

// Key returns a unique key for this instrument: "exchange:token".
func (i *Instrument) Key() string {
	return i.Exchange + ":" + i.Token
}

// IsDerivative reports whether the instrument carries an expiry.
func (i *Instrument) IsDerivative() bool {
	return i.Classification == ClassFuture || i.Classification == ClassOption
}
