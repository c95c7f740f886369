// Package orchestrator defines the two boundary contracts between the
// signal engine and whatever produces/acts on trading decisions
// (spec §4.7/§4.9): SignalProducer is how definitions enter the Store,
// Executor is what a triggered signal is handed to. RedisSignalProducer
// (producer.go) implements SignalProducer; Executor has no implementation
// in this package.
package orchestrator

import (
	"context"

	"tradingcore/internal/model"
	"tradingcore/internal/signal"
)

// SignalProducer creates signal definitions and writes them onto the
// Store. Strategy logic, manual operator input, or a model service can
// all implement this without the signal monitor knowing the difference.
type SignalProducer interface {
	Produce(ctx context.Context, def model.SignalDefinition) error
}

// Executor is the on_trigger handler contract: given a fired signal, it
// attempts to act on it (typically placing or simulating an order) and
// reports the outcome. accept=true means the caller should move the
// signal to "executing" and is now responsible for eventually CAS-ing it
// to a terminal executed/failed status itself; accept=false+retry=true
// returns the signal to "active" for the next qualifying update;
// accept=false+retry=false moves it straight to "failed".
type Executor interface {
	Execute(ctx context.Context, ev model.TriggerEvent) (accept bool, retry bool)
}

// AsHandler adapts an Executor to the signal.Handler shape Monitor.OnTrigger
// expects, so callers wire a concrete Executor without the signal package
// depending on this one (it would otherwise be an import cycle: signal is
// the lower-level package, orchestrator composes it).
func AsHandler(e Executor) signal.Handler {
	return func(ctx context.Context, ev model.TriggerEvent) (bool, bool) {
		return e.Execute(ctx, ev)
	}
}
