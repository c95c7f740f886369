package signal

import (
	"math"

	"tradingcore/internal/model"
)

// defaultEQTolerance is used when a Predicate with OpEQ supplies no
// Tolerance (zero value).
const defaultEQTolerance = 1e-9

// evaluate checks a single predicate against the current indicator value
// and, for the crossing operators, the previous one. A missing current
// value (currOK=false) always evaluates false, never an error — the
// engine treats a null indicator reading as "not yet", not a fault.
func evaluate(p model.Predicate, curr float64, currOK bool, prev float64, prevOK bool) bool {
	if !currOK {
		return false
	}

	switch p.Operator {
	case model.OpGT:
		return curr > p.Threshold
	case model.OpLT:
		return curr < p.Threshold
	case model.OpEQ:
		tol := p.Tolerance
		if tol == 0 {
			tol = defaultEQTolerance
		}
		return math.Abs(curr-p.Threshold) <= tol
	case model.OpCrossesAbove:
		if !prevOK {
			return false
		}
		return prev <= p.Threshold && curr > p.Threshold
	case model.OpCrossesBelow:
		if !prevOK {
			return false
		}
		return prev >= p.Threshold && curr < p.Threshold
	default:
		return false
	}
}
