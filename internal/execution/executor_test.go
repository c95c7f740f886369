package execution

import (
	"context"
	"testing"
	"time"

	"tradingcore/internal/model"
)

func TestExecutor_ExecuteAlwaysAcceptsAndReportsPending(t *testing.T) {
	e := NewExecutor(1)

	accept, retry := e.Execute(context.Background(), ev(model.ActionBuy))
	if !accept || retry {
		t.Fatalf("expected accept=true retry=false, got %v %v", accept, retry)
	}

	select {
	case res := <-e.Results():
		if res.Status != "PENDING" {
			t.Fatalf("expected PENDING status, got %s", res.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a result on the channel")
	}
}
