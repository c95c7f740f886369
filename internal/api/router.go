// Package api exposes a read-only HTTP query surface over state the
// trading core otherwise only publishes transiently on the Bus: recent
// candles, open positions and their unrealized P&L, and the executed
// trade history. It never accepts an order — internal/execution and
// internal/signal own that path exclusively.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"tradingcore/internal/execution"
	"tradingcore/internal/model"
	"tradingcore/internal/portfolio"
)

// CandleStore is the subset of internal/store/redis.Store the candle
// endpoint needs.
type CandleStore interface {
	ReadCandles(ctx context.Context, instrumentKey string, tfSeconds int, afterTS time.Time, limit int) ([]model.TFCandle, error)
}

// Deps wires the router to the process's live state. Any field may be
// nil, in which case its endpoint replies 503 rather than panicking.
type Deps struct {
	Candles   CandleStore
	Portfolio *portfolio.Portfolio
	Journal   *execution.Journal
}

// NewRouter builds the read-only query API described above.
func NewRouter(deps Deps) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("/api/v1/candles", func(w http.ResponseWriter, r *http.Request) {
		if deps.Candles == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "candle store not configured"})
			return
		}
		q := r.URL.Query()
		instrument := q.Get("instrument")
		if instrument == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "instrument query param required, e.g. NSE:3045"})
			return
		}
		tf, err := strconv.Atoi(q.Get("tf"))
		if err != nil || tf <= 0 {
			tf = 60
		}
		limit, err := strconv.Atoi(q.Get("limit"))
		if err != nil || limit <= 0 || limit > 1000 {
			limit = 200
		}
		var after time.Time
		if fromStr := q.Get("from"); fromStr != "" {
			if unix, err := strconv.ParseInt(fromStr, 10, 64); err == nil {
				after = time.Unix(unix, 0).UTC()
			}
		}
		candles, err := deps.Candles.ReadCandles(r.Context(), instrument, tf, after, limit)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, candles)
	})

	mux.HandleFunc("/api/v1/positions", func(w http.ResponseWriter, r *http.Request) {
		if deps.Portfolio == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "portfolio not configured for this process"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"positions":        deps.Portfolio.GetPositions(),
			"total_unrealized": deps.Portfolio.TotalUnrealizedPnL(),
		})
	})

	mux.HandleFunc("/api/v1/trades", func(w http.ResponseWriter, r *http.Request) {
		if deps.Journal == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "trade journal not configured"})
			return
		}
		limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
		if err != nil || limit <= 0 || limit > 1000 {
			limit = 100
		}
		trades, err := deps.Journal.GetTrades(limit)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, trades)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
