// Package collector defines the Collector contract: the single
// boundary through which ticks enter the system, whether from a live feed
// or a historical replay. Both implementations publish into the same
// channel shape so the candle builder downstream never knows which one is
// running.
package collector

import (
	"context"

	"tradingcore/internal/model"
)

// Collector ingests ticks (and, where available, depth snapshots) and
// pushes them onto the channels it was bound to at construction time.
type Collector interface {
	// Start begins ingestion. Blocks until ctx is cancelled or the feed
	// terminates unrecoverably.
	Start(ctx context.Context) error

	// Stop requests a graceful shutdown without waiting for it to complete.
	Stop()
}

// Sink is the pair of channels every Collector implementation writes to.
// Depth may be nil for feeds that don't carry order-book data.
type Sink struct {
	Ticks  chan<- model.Tick
	Depths chan<- model.Depth
}
