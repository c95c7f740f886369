package model

import (
	"encoding/json"
	"time"
)

// Action is the trading direction a signal requests.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// Operator is a predicate comparison against an indicator value.
type Operator string

const (
	OpGT            Operator = ">"
	OpLT            Operator = "<"
	OpEQ            Operator = "="
	OpCrossesAbove  Operator = "crosses_above"
	OpCrossesBelow  Operator = "crosses_below"
)

// Predicate is a single condition evaluated against one named indicator.
type Predicate struct {
	Indicator string   `json:"indicator" bson:"indicator"`
	Operator  Operator `json:"operator" bson:"operator"`
	Threshold float64  `json:"threshold" bson:"threshold"`
	// Tolerance is used only by OpEQ; zero means the default (1e-9).
	Tolerance float64 `json:"tolerance,omitempty" bson:"tolerance,omitempty"`
}

// SignalStatus is a state in the signal state machine.
type SignalStatus string

const (
	StatusCreated   SignalStatus = "created"
	StatusActive    SignalStatus = "active"
	StatusTriggered SignalStatus = "triggered"
	StatusExecuting SignalStatus = "executing"
	StatusExecuted  SignalStatus = "executed"
	StatusFailed    SignalStatus = "failed"
	StatusExpired   SignalStatus = "expired"
	StatusCancelled SignalStatus = "cancelled"
)

// Terminal reports whether status admits no further transitions.
func (s SignalStatus) Terminal() bool {
	switch s {
	case StatusExecuted, StatusFailed, StatusExpired, StatusCancelled:
		return true
	default:
		return false
	}
}

// SignalDefinition is the immutable shape of a conditional trading
// instruction, as produced by the orchestrator hook or a human operator.
type SignalDefinition struct {
	SignalID         string        `json:"signal_id" bson:"signal_id"`
	Instrument       string        `json:"instrument" bson:"instrument"` // "exchange:token"
	Action           Action         `json:"action" bson:"action"`
	PrimaryPredicate Predicate      `json:"primary_predicate" bson:"primary_predicate"`
	ExtraPredicates  []Predicate    `json:"extra_predicates,omitempty" bson:"extra_predicates,omitempty"`
	Lifetime         time.Duration  `json:"lifetime" bson:"lifetime"`
	CreatedAt        time.Time      `json:"created_at" bson:"created_at"`
	CreatedBy        string         `json:"created_by" bson:"created_by"`
}

// Predicates returns the primary predicate followed by every extra one —
// all must evaluate true on the same indicator update for the signal to fire.
func (d *SignalDefinition) Predicates() []Predicate {
	out := make([]Predicate, 0, 1+len(d.ExtraPredicates))
	out = append(out, d.PrimaryPredicate)
	out = append(out, d.ExtraPredicates...)
	return out
}

// ExpiresAt returns the instant at which an active signal becomes expired.
func (d *SignalDefinition) ExpiresAt() time.Time {
	return d.CreatedAt.Add(d.Lifetime)
}

// SignalRecord is the durable Store form: definition plus mutable state.
type SignalRecord struct {
	SignalDefinition `bson:"inline"`

	Status        SignalStatus        `json:"status" bson:"status"`
	CurrentValue  map[string]float64  `json:"current_value,omitempty" bson:"current_value,omitempty"` // last snapshot values seen, by indicator name
	LastCheckedAt time.Time           `json:"last_checked_at,omitempty" bson:"last_checked_at,omitempty"`
	TriggeredAt   *time.Time          `json:"triggered_at,omitempty" bson:"triggered_at,omitempty"`
	ExecutedAt    *time.Time          `json:"executed_at,omitempty" bson:"executed_at,omitempty"`
	ExecResult    string              `json:"exec_result,omitempty" bson:"exec_result,omitempty"`
	FailureReason string              `json:"failure_reason,omitempty" bson:"failure_reason,omitempty"`
}

// JSON returns the JSON-encoded record.
func (r *SignalRecord) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}

// TriggerEvent is the payload published on engine:signal:{instrument} when
// a signal fires. Sequence is the sequence of the indicator message that
// caused the trigger, enabling causal debugging.
type TriggerEvent struct {
	SignalID        string             `json:"signal_id"`
	Instrument      string             `json:"instrument"`
	Action          Action             `json:"action"`
	TriggeredAt     time.Time          `json:"triggered_at"`
	Snapshot        IndicatorSnapshot  `json:"snapshot"`
	CausalSequence  uint64             `json:"causal_sequence"`
}

// IndicatorSnapshot maps indicator name to a nullable numeric value,
// produced atomically from one closed bar's tail window.
type IndicatorSnapshot map[string]*float64

// Value returns the value for name, or (0, false) if null/absent.
func (s IndicatorSnapshot) Value(name string) (float64, bool) {
	v, ok := s[name]
	if !ok || v == nil {
		return 0, false
	}
	return *v, true
}
