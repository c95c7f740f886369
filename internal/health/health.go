// Package health implements the GET /health contract every long-running
// service exposes (spec §6): status healthy/degraded/unhealthy, derived
// from Store reachability and feed/clock staleness, grounded on the
// teacher's trivial /health and /healthz stubs (cmd/tickserver/main.go,
// internal/indengine/api.go) generalized into a real dependency check
// instead of an always-"ok" literal.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"tradingcore/internal/clock"
	"tradingcore/internal/store"
)

// Status is the health verdict returned to callers.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// staleAfter is how old the latest tick may be (live mode) before the
// service reports degraded rather than healthy.
const staleAfter = 120 * time.Second

// Report is the JSON body served at /health.
type Report struct {
	Status       Status            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
	Timestamp    string            `json:"timestamp"`
}

// Checker evaluates service health against the shared Store and Clock.
type Checker struct {
	store        store.Store
	clock        clock.Clock
	instrumentFn func() []string // representative instruments to sample tick age for; nil in historical-only services
}

// NewChecker creates a Checker. instrumentFn, if non-nil, supplies the
// instrument keys to sample for live-feed staleness; omit it for services
// (like the gateway) that have no direct tick feed of their own.
func NewChecker(st store.Store, clk clock.Clock, instrumentFn func() []string) *Checker {
	return &Checker{store: st, clock: clk, instrumentFn: instrumentFn}
}

// Check evaluates the current health report.
func (c *Checker) Check(ctx context.Context) Report {
	deps := make(map[string]string, 2)
	status := StatusHealthy

	isVirtual, err := c.clock.IsVirtual(ctx)
	if err != nil {
		deps["store"] = "unreachable: " + err.Error()
		return Report{Status: StatusUnhealthy, Dependencies: deps, Timestamp: time.Now().UTC().Format(time.RFC3339Nano)}
	}
	deps["store"] = "ok"

	if isVirtual {
		deps["clock"] = "virtual"
	} else {
		deps["clock"] = "live"
		if c.instrumentFn != nil {
			if stale, ok := c.anyTickStale(ctx); ok && stale {
				status = StatusDegraded
				deps["feed"] = "stale"
			} else if ok {
				deps["feed"] = "fresh"
			}
		}
	}

	return Report{Status: status, Dependencies: deps, Timestamp: time.Now().UTC().Format(time.RFC3339Nano)}
}

func (c *Checker) anyTickStale(ctx context.Context) (stale bool, ok bool) {
	instruments := c.instrumentFn()
	if len(instruments) == 0 {
		return false, false
	}
	now := time.Now()
	for _, key := range instruments {
		tick, err := c.store.LatestTick(ctx, key)
		if err != nil || tick == nil {
			return true, true
		}
		if now.Sub(tick.CanonicalTS()) > staleAfter {
			return true, true
		}
	}
	return false, true
}

// Handler returns an http.HandlerFunc serving this Checker's report as
// JSON, with 200 for healthy/degraded and 503 for unhealthy.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := c.Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if report.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(report)
	}
}

// WatchFatal polls Check every pollInterval and calls onFatal once the
// Store has been continuously unreachable for at least threshold,
// grounding the CLI surface's "exit code 2 on runtime fatal (store lost
// > 30s)" contract. onFatal is called at most once; stop polling by
// cancelling ctx.
func (c *Checker) WatchFatal(ctx context.Context, pollInterval, threshold time.Duration, onFatal func()) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var unreachableSince time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := c.Check(ctx)
			if report.Status != StatusUnhealthy {
				unreachableSince = time.Time{}
				continue
			}
			if unreachableSince.IsZero() {
				unreachableSince = time.Now()
				continue
			}
			if time.Since(unreachableSince) >= threshold {
				onFatal()
				return
			}
		}
	}
}
