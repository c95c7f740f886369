// Package execution places, tracks, and simulates orders in response to
// triggered signals. Executor is the reference implementation of
// orchestrator.Executor: it receives a model.TriggerEvent from the signal
// monitor and reports accept/retry so the monitor can advance the
// triggered signal's state.
package execution

import (
	"context"
	"log"

	"tradingcore/internal/model"
)

// OrderResult represents the outcome of an order placement attempt.
type OrderResult struct {
	OrderID string            `json:"order_id"`
	Status  string            `json:"status"` // PLACED, REJECTED, ERROR
	Message string            `json:"message"`
	Event   model.TriggerEvent `json:"event"`
}

// Executor places orders against a real broker API in response to
// triggered signals. The broker client is not yet wired (TODO below);
// until then every trigger is accepted and reported as pending so the
// full trigger->executing path is still exercised.
type Executor struct {
	// TODO: Add broker client (SmartConnect) reference once order
	// placement is implemented.
	resultCh chan OrderResult
}

// NewExecutor creates a new order executor.
func NewExecutor(resultBufferSize int) *Executor {
	return &Executor{
		resultCh: make(chan OrderResult, resultBufferSize),
	}
}

// Results returns the channel of order results.
func (e *Executor) Results() <-chan OrderResult {
	return e.resultCh
}

// Execute implements orchestrator.Executor. It always accepts the trigger
// (accept=true, retry=false) and emits a pending OrderResult; a real
// broker integration would instead place the order and accept only on a
// successful broker acknowledgement, retrying on transient broker errors.
func (e *Executor) Execute(ctx context.Context, ev model.TriggerEvent) (accept bool, retry bool) {
	log.Printf("[executor] triggered signal=%s instrument=%s action=%s",
		ev.SignalID, ev.Instrument, ev.Action)

	// TODO: place the order via SmartConnect and report PLACED/REJECTED.
	select {
	case e.resultCh <- OrderResult{
		OrderID: "TODO",
		Status:  "PENDING",
		Message: "broker execution not yet implemented",
		Event:   ev,
	}:
	default:
	}
	return true, false
}
