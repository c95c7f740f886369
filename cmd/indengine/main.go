// Command indengine runs the indicator/signal boundary: it consumes
// finalized and forming timeframe candles off the Bus, keeps a running
// indicator engine per instrument, publishes results, and evaluates
// active trading signals against every update, executing the ones that
// trigger.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tradingcore/config"
	apipkg "tradingcore/internal/api"
	"tradingcore/internal/bus"
	"tradingcore/internal/clock"
	"tradingcore/internal/execution"
	"tradingcore/internal/health"
	"tradingcore/internal/indicator"
	"tradingcore/internal/logger"
	"tradingcore/internal/metrics"
	"tradingcore/internal/model"
	"tradingcore/internal/notification"
	"tradingcore/internal/orchestrator"
	"tradingcore/internal/portfolio"
	sigengine "tradingcore/internal/signal"
	mongostore "tradingcore/internal/store/mongo"
	redisstore "tradingcore/internal/store/redis"
	sqlitestore "tradingcore/internal/store/sqlite"
)

var (
	configPath string
	modeFlag   string
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	logger.Init("indengine", slog.LevelInfo)

	root := &cobra.Command{
		Use:   "indengine",
		Short: "Indicator engine + signal monitor: candles -> indicators -> triggered signals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "optional config file path (falls back to process env)")
	root.PersistentFlags().StringVar(&modeFlag, "mode", "", "execution mode override (paper|broker)")

	if err := root.Execute(); err != nil {
		log.Printf("[indengine] startup failed: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg := config.Load()
	execMode := "paper"
	if modeFlag != "" {
		execMode = modeFlag
	}
	enabledTFs := cfg.ParseTFs()
	log.Printf("[indengine] enabled TFs=%v exec_mode=%s", enabledTFs, execMode)

	st, err := redisstore.New(redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err != nil {
		return fmt.Errorf("store connect: %w", err)
	}
	defer st.Close()

	clk := clock.New(st.Client())
	b := bus.New(st.Client(), clk)

	sqlReader, err := sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		log.Printf("[indengine] WARNING: sqlite reader init failed: %v (continuing without backfill)", err)
		sqlReader = nil
	}

	indConfigs := buildIndicatorConfigs(enabledTFs)
	restorer := indicator.NewRestorer(indConfigs)

	var snap *indicator.EngineSnapshot
	if raw, err := st.ReadLatestSnapshotJSON(); err != nil {
		log.Printf("[indengine] snapshot read error: %v", err)
	} else if raw != nil {
		snap = &indicator.EngineSnapshot{}
		if err := json.Unmarshal(raw, snap); err != nil {
			log.Printf("[indengine] snapshot decode error: %v", err)
			snap = nil
		}
	}
	engine, err := restorer.RestoreFromSnap(snap)
	if err != nil {
		return fmt.Errorf("engine restore: %w", err)
	}

	if sqlReader != nil {
		backfilled := restorer.BackfillFromSQLite(engine, sqlReader, func(results []model.IndicatorResult) {
			for _, r := range results {
				if r.Ready {
					st.PutIndicator(ctx, r)
				}
			}
		})
		if backfilled > 0 {
			log.Printf("[indengine] warmed up indicators with %d historical candles", backfilled)
		}
	}

	prom := metrics.NewMetrics()

	os.MkdirAll(filepath.Dir(cfg.JournalPath), 0o755)
	journal, err := execution.NewJournal(cfg.JournalPath)
	if err != nil {
		return fmt.Errorf("trade journal init: %w", err)
	}
	defer journal.Close()

	notifier := buildNotifier()

	var archiver *mongostore.Store
	if cfg.MongoURI != "" {
		archiver, err = mongostore.New(ctx, cfg.MongoURI)
		if err != nil {
			log.Printf("[indengine] WARNING: mongo archival unavailable: %v (continuing without it)", err)
			archiver = nil
		} else {
			if err := archiver.Migrate(ctx); err != nil {
				log.Printf("[indengine] mongo index setup failed: %v", err)
			}
			defer archiver.Close(context.Background())
		}
	}

	monitor := sigengine.NewMonitor(st, b, clk)
	if archiver != nil {
		monitor.SetArchiver(archiver)
	}

	var exec orchestrator.Executor
	var pf *portfolio.Portfolio
	switch execMode {
	case "broker":
		exec = execution.NewExecutor(256)
	default:
		pe := execution.NewPaperExecutor(st, 256, 1, 5)
		pe.SetJournal(journal)
		pe.SetNotifier(notifier)
		if archiver != nil {
			pe.SetArchiver(archiver)
		}
		pf = portfolio.New()
		pe.SetRiskManager(pf, portfolio.NewRiskManager(portfolio.DefaultRiskLimits(), pf))
		exec = pe
	}

	monitor.OnTrigger(orchestrator.AsHandler(exec))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	checker := health.NewChecker(st, clk, nil)
	producer := orchestrator.NewRedisSignalProducer(st, clk)
	mux := apipkg.NewRouter(apipkg.Deps{Candles: st, Portfolio: pf, Journal: journal})
	mux.Handle("/health", checker.Handler())
	mux.HandleFunc("/reload", reloadHandler(engine, sqlReader))
	mux.HandleFunc("/api/v1/signals", signalSubmitHandler(producer))
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		log.Printf("[indengine] health/reload endpoint at %s", cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[indengine] http server error: %v", err)
		}
	}()

	fatalCh := make(chan struct{})
	go checker.WatchFatal(runCtx, 5*time.Second, 30*time.Second, func() { close(fatalCh) })

	go runCandleConsumer(runCtx, b, st, engine, prom)
	go monitor.Run(runCtx)
	go monitor.RunExpirySweep(runCtx)
	go runSnapshotCheckpoint(runCtx, st, engine, 30*time.Second)

	log.Println("[indengine] pipeline ready")

	select {
	case <-sigCh:
		log.Println("[indengine] shutdown signal received, saving final snapshot")
		cancel()
		saveSnapshot(st, engine)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
		return nil
	case <-fatalCh:
		cancel()
		log.Println("[indengine] store unreachable past threshold, exiting fatal")
		os.Exit(2)
		return nil
	}
}

// runCandleConsumer subscribes to every instrument's OHLC channel and feeds
// both finalized and forming candles into the indicator engine, publishing
// and persisting every ready result.
func runCandleConsumer(ctx context.Context, b *bus.Bus, st *redisstore.Store, engine *indicator.Engine, prom *metrics.Metrics) {
	sub := b.SubscribePattern(ctx, "market:ohlc:*")
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			var tfc model.TFCandle
			if err := json.Unmarshal(msg.Payload, &tfc); err != nil {
				log.Printf("[indengine] corrupt candle payload on %s: %v", msg.Channel, err)
				continue
			}

			var results []model.IndicatorResult
			if tfc.Forming {
				results = engine.ProcessPeek(tfc)
			} else {
				results = engine.Process(tfc)
			}

			for _, r := range results {
				if !r.Ready {
					continue
				}
				if !r.Live {
					if err := st.PutIndicator(ctx, r); err != nil {
						log.Printf("[indengine] put_indicator error: %v", err)
					}
					prom.TFCandlesTotal.WithLabelValues(strconv.Itoa(r.TF)).Inc()
				}
				if _, err := b.Publish(ctx, bus.IndicatorChannel(r.Key()), r); err != nil {
					log.Printf("[indengine] bus publish indicator error: %v", err)
				}
			}
		}
	}
}

func runSnapshotCheckpoint(ctx context.Context, st *redisstore.Store, engine *indicator.Engine, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			saveSnapshot(st, engine)
		}
	}
}

func saveSnapshot(st *redisstore.Store, engine *indicator.Engine) {
	snap, err := indicator.SnapshotEngine(engine, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		log.Printf("[indengine] snapshot build error: %v", err)
		return
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		log.Printf("[indengine] snapshot marshal error: %v", err)
		return
	}
	if err := st.SaveSnapshotJSON(raw); err != nil {
		log.Printf("[indengine] snapshot save error: %v", err)
		return
	}
	log.Printf("[indengine] checkpoint saved (%d tokens)", len(snap.Tokens))
}

func reloadHandler(engine *indicator.Engine, sqlReader *sqlitestore.Reader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		var newConfigs []indicator.TFIndicatorConfig
		if err := json.NewDecoder(r.Body).Decode(&newConfigs); err != nil {
			http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := indicator.ValidateConfigs(newConfigs); err != nil {
			http.Error(w, "validation: "+err.Error(), http.StatusBadRequest)
			return
		}
		preserved, created := engine.ReloadConfigs(newConfigs)
		if created > 0 && sqlReader != nil {
			indicator.NewRestorer(newConfigs).BackfillFromSQLite(engine, sqlReader, nil)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ok", "preserved": preserved, "created": created,
		})
	}
}

// signalSubmitHandler accepts a new signal definition as JSON and hands it
// to the orchestrator.SignalProducer, which stamps a SignalID/CreatedAt and
// writes it active so the running Monitor picks it up on the next update.
func signalSubmitHandler(producer *orchestrator.RedisSignalProducer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		var def model.SignalDefinition
		if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
			http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}
		if def.Instrument == "" || def.Action == "" {
			http.Error(w, "instrument and action are required", http.StatusBadRequest)
			return
		}
		id, err := producer.ProduceNew(r.Context(), def)
		if err != nil {
			http.Error(w, "create signal: "+err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"signal_id": id, "status": "active"})
	}
}

func buildIndicatorConfigs(tfs []int) []indicator.TFIndicatorConfig {
	indSpecs := parseIndicatorSpecs(getEnv("INDICATOR_CONFIGS", ""))
	configs := make([]indicator.TFIndicatorConfig, len(tfs))
	for i, tf := range tfs {
		configs[i] = indicator.TFIndicatorConfig{TF: tf, Indicators: indSpecs}
	}
	return configs
}

// defaultIndicatorSpecs is the full out-of-the-box indicator set recomputed
// on every closed bar when INDICATOR_CONFIGS is unset: RSI(14,21),
// SMA(20,50,200), EMA(9,21), MACD(12,26,9) line/signal/hist, Bollinger
// Bands(20,2σ) upper/middle/lower, ATR(14), ADX(14), CCI(20),
// stochastic(14,3) %K/%D, volume SMA/ratio, VWAP, OBV, rolling
// support/resistance, and trailing price-change percentage.
func defaultIndicatorSpecs() []indicator.IndicatorConfig {
	return []indicator.IndicatorConfig{
		{Type: "RSI", Period: 14},
		{Type: "RSI", Period: 21},
		{Type: "SMA", Period: 20},
		{Type: "SMA", Period: 50},
		{Type: "SMA", Period: 200},
		{Type: "EMA", Period: 9},
		{Type: "EMA", Period: 21},
		{Type: "MACD", Component: "line"},
		{Type: "MACD", Component: "signal"},
		{Type: "MACD", Component: "hist"},
		{Type: "BBANDS", Period: 20, Component: "upper"},
		{Type: "BBANDS", Period: 20, Component: "middle"},
		{Type: "BBANDS", Period: 20, Component: "lower"},
		{Type: "ATR", Period: 14},
		{Type: "ADX", Period: 14},
		{Type: "CCI", Period: 20},
		{Type: "STOCH", Component: "k"},
		{Type: "STOCH", Component: "d"},
		{Type: "VOLUME_SMA", Period: 20},
		{Type: "VOLUME_RATIO", Period: 20},
		{Type: "VWAP"},
		{Type: "OBV"},
		{Type: "SUPPORT_RESISTANCE", Period: 20},
		{Type: "PRICE_CHANGE_PCT", Period: 1},
	}
}

// parseIndicatorSpecs parses "TYPE:PERIOD,..." into []IndicatorConfig.
// Returns defaults if input is empty.
func parseIndicatorSpecs(s string) []indicator.IndicatorConfig {
	if s == "" {
		return defaultIndicatorSpecs()
	}
	var configs []indicator.IndicatorConfig
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		tokens := strings.SplitN(part, ":", 2)
		if len(tokens) != 2 {
			continue
		}
		typ := strings.ToUpper(strings.TrimSpace(tokens[0]))
		period, err := strconv.Atoi(strings.TrimSpace(tokens[1]))
		if err != nil || period <= 0 {
			log.Printf("[indengine] skipping invalid indicator spec: %q", part)
			continue
		}
		configs = append(configs, indicator.IndicatorConfig{Type: typ, Period: period})
	}
	if len(configs) == 0 {
		log.Println("[indengine] WARNING: no valid indicators parsed, using defaults")
		return parseIndicatorSpecs("")
	}
	return configs
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

// buildNotifier picks an alert backend from env vars: a Telegram bot takes
// priority over a generic webhook, falling back to logging alerts locally
// when neither is configured.
func buildNotifier() notification.Notifier {
	if token, chatID := os.Getenv("TELEGRAM_BOT_TOKEN"), os.Getenv("TELEGRAM_CHAT_ID"); token != "" && chatID != "" {
		log.Println("[indengine] alerting via telegram")
		return notification.NewTelegramNotifier(token, chatID)
	}
	if url := os.Getenv("ALERT_WEBHOOK_URL"); url != "" {
		log.Println("[indengine] alerting via webhook")
		return notification.NewWebhookNotifier(url)
	}
	return notification.NewLogNotifier()
}
