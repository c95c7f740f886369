package signal

import (
	"testing"

	"tradingcore/internal/model"
)

func TestEvaluate_GT(t *testing.T) {
	p := model.Predicate{Operator: model.OpGT, Threshold: 100}
	if evaluate(p, 100, true, 0, false) {
		t.Fatal("100 > 100 must be false")
	}
	if !evaluate(p, 100.01, true, 0, false) {
		t.Fatal("100.01 > 100 must be true")
	}
}

func TestEvaluate_LT(t *testing.T) {
	p := model.Predicate{Operator: model.OpLT, Threshold: 50}
	if !evaluate(p, 49.9, true, 0, false) {
		t.Fatal("49.9 < 50 must be true")
	}
	if evaluate(p, 50, true, 0, false) {
		t.Fatal("50 < 50 must be false")
	}
}

func TestEvaluate_EQ_DefaultTolerance(t *testing.T) {
	p := model.Predicate{Operator: model.OpEQ, Threshold: 30}
	if !evaluate(p, 30, true, 0, false) {
		t.Fatal("exact match must be true")
	}
	if evaluate(p, 30.01, true, 0, false) {
		t.Fatal("30.01 outside default 1e-9 tolerance must be false")
	}
}

func TestEvaluate_EQ_ExplicitTolerance(t *testing.T) {
	p := model.Predicate{Operator: model.OpEQ, Threshold: 30, Tolerance: 0.5}
	if !evaluate(p, 30.4, true, 0, false) {
		t.Fatal("30.4 within 0.5 tolerance of 30 must be true")
	}
	if evaluate(p, 30.6, true, 0, false) {
		t.Fatal("30.6 outside 0.5 tolerance of 30 must be false")
	}
}

func TestEvaluate_CrossesAbove(t *testing.T) {
	p := model.Predicate{Operator: model.OpCrossesAbove, Threshold: 30}

	if !evaluate(p, 30.5, true, 29.9, true) {
		t.Fatal("prev <= 30 and curr > 30 must fire")
	}
	if evaluate(p, 30, true, 30, true) {
		t.Fatal("prev=30, curr=30 must not fire (curr not strictly above)")
	}
	if evaluate(p, 31, true, 31, true) {
		t.Fatal("prev already above threshold must not re-fire")
	}
	if evaluate(p, 30.5, true, 0, false) {
		t.Fatal("missing previous value must never fire a crossing predicate")
	}
}

func TestEvaluate_CrossesBelow(t *testing.T) {
	p := model.Predicate{Operator: model.OpCrossesBelow, Threshold: 70}

	if !evaluate(p, 69.5, true, 70.2, true) {
		t.Fatal("prev >= 70 and curr < 70 must fire")
	}
	if evaluate(p, 70, true, 70, true) {
		t.Fatal("prev=70, curr=70 must not fire")
	}
	if evaluate(p, 69.5, true, 0, false) {
		t.Fatal("missing previous value must never fire a crossing predicate")
	}
}

func TestEvaluate_MissingCurrentNeverFires(t *testing.T) {
	for _, op := range []model.Operator{model.OpGT, model.OpLT, model.OpEQ, model.OpCrossesAbove, model.OpCrossesBelow} {
		p := model.Predicate{Operator: op, Threshold: 10}
		if evaluate(p, 0, false, 10, true) {
			t.Fatalf("operator %s must not fire when current value is absent", op)
		}
	}
}

func TestEvaluate_UnknownOperator(t *testing.T) {
	p := model.Predicate{Operator: "bogus", Threshold: 10}
	if evaluate(p, 100, true, 100, true) {
		t.Fatal("unknown operator must never fire")
	}
}
