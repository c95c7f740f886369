// Command mdengine runs the market-data ingestion boundary: it drives a
// Collector (live broker feed or historical replay), aggregates ticks
// into 1s candles and up into every enabled timeframe, and persists both
// to the Store while publishing on the Bus for downstream consumers.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tradingcore/config"
	"tradingcore/internal/bus"
	"tradingcore/internal/clock"
	"tradingcore/internal/collector"
	"tradingcore/internal/collector/live"
	"tradingcore/internal/collector/replay"
	"tradingcore/internal/health"
	"tradingcore/internal/logger"
	"tradingcore/internal/marketdata/agg"
	mdbus "tradingcore/internal/marketdata/bus"
	"tradingcore/internal/marketdata/tfbuilder"
	"tradingcore/internal/markethours"
	"tradingcore/internal/metrics"
	"tradingcore/internal/model"
	redisstore "tradingcore/internal/store/redis"
	sqlitestore "tradingcore/internal/store/sqlite"
	smartconnect "tradingcore/pkg/smartconnect"
)

var (
	configPath string
	modeFlag   string
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	logger.Init("mdengine", slog.LevelInfo)

	root := &cobra.Command{
		Use:   "mdengine",
		Short: "Market-data ingestion: collector -> candle builder -> store/bus",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "optional config file path (falls back to process env)")
	root.PersistentFlags().StringVar(&modeFlag, "mode", "", "override collector.provider (broker|replay|mock)")

	if err := root.Execute(); err != nil {
		log.Printf("[mdengine] startup failed: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	markethours.CheckHolidayStaleness()

	cfg := config.Load()
	provider := cfg.CollectorProvider
	if modeFlag != "" {
		provider = modeFlag
	}
	enabledTFs := cfg.ParseTFs()
	log.Printf("[mdengine] provider=%s enabled TFs=%v seconds", provider, enabledTFs)

	st, err := redisstore.New(redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err != nil {
		return fmt.Errorf("store connect: %w", err)
	}
	defer st.Close()

	clk := clock.New(st.Client())
	b := bus.New(st.Client(), clk)

	os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
	sqlWriter, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		return fmt.Errorf("sqlite init: %w", err)
	}
	defer sqlWriter.Close()

	prom := metrics.NewMetrics()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	instruments := parseInstruments(cfg.SubscribeTokens)
	checker := health.NewChecker(st, clk, func() []string { return instruments })
	healthMux := http.NewServeMux()
	healthMux.Handle("/health", checker.Handler())
	healthSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: healthMux}
	go func() {
		log.Printf("[mdengine] health endpoint at %s/health", cfg.MetricsAddr)
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[mdengine] health server error: %v", err)
		}
	}()

	fatalCh := make(chan struct{})
	go checker.WatchFatal(runCtx, 5*time.Second, 30*time.Second, func() { close(fatalCh) })

	tickCh := make(chan model.Tick, 10000)
	depthCh := make(chan model.Depth, 1000)
	candleCh := make(chan model.Candle, 5000)
	tfCandleCh := make(chan model.TFCandle, 5000)

	aggregator := agg.New()
	aggregator.OnDroppedTick = func() { prom.DroppedTicks.Inc() }
	go aggregator.Run(runCtx, tickCh, candleCh)

	// Fan the finalized 1s candles out to the TF builder and to a direct
	// Bus publish, so a slow TF builder can't back up raw candle delivery
	// to live subscribers and vice versa.
	candleFanOut := mdbus.New(5000)
	tfInputCh := candleFanOut.Subscribe()
	liveCandleCh := candleFanOut.Subscribe()
	go candleFanOut.Run(runCtx, candleCh)

	tfBuilder := tfbuilder.New(enabledTFs)
	tfBuilder.OnTFCandle = func(c model.TFCandle) {
		prom.TFCandlesTotal.WithLabelValues(strconv.Itoa(c.TF)).Inc()
	}
	tfBuilder.OnStaleCandle = func() { prom.StaleCandlesRejected.Inc() }
	go tfBuilder.Run(runCtx, tfInputCh, tfCandleCh)

	// Publish every finalized 1s candle verbatim, for consumers that want
	// sub-timeframe granularity (e.g. a live chart) without waiting on the
	// smallest enabled aggregate timeframe.
	go func() {
		for {
			select {
			case <-runCtx.Done():
				return
			case c, ok := <-liveCandleCh:
				if !ok {
					return
				}
				if _, err := b.Publish(runCtx, bus.OHLCChannel(c.Key(), "1s"), c); err != nil {
					log.Printf("[mdengine] bus publish 1s candle error: %v", err)
				}
			}
		}
	}()

	// Persist and publish ticks as they arrive.
	go func() {
		for {
			select {
			case <-runCtx.Done():
				return
			case t, ok := <-tickCh:
				if !ok {
					return
				}
				if err := st.PutTick(runCtx, t); err != nil {
					log.Printf("[mdengine] store put_tick error: %v", err)
					continue
				}
				if _, err := b.Publish(runCtx, bus.TickChannel(t.Key()), t); err != nil {
					log.Printf("[mdengine] bus publish tick error: %v", err)
				}
			}
		}
	}()

	go func() {
		for {
			select {
			case <-runCtx.Done():
				return
			case d, ok := <-depthCh:
				if !ok {
					return
				}
				if err := st.PutDepth(runCtx, d); err != nil {
					log.Printf("[mdengine] store put_depth error: %v", err)
					continue
				}
				if _, err := b.Publish(runCtx, bus.DepthChannel(d.Key()), d); err != nil {
					log.Printf("[mdengine] bus publish depth error: %v", err)
				}
			}
		}
	}()

	// Persist and publish closed (and forming) TF candles; SQLite keeps a
	// local history only closed candles feed, same as the teacher.
	sqliteTFCh := make(chan model.TFCandle, 5000)
	go func() {
		for {
			select {
			case <-runCtx.Done():
				return
			case tfc, ok := <-tfCandleCh:
				if !ok {
					return
				}
				if err := st.PutCandle(runCtx, tfc); err != nil {
					log.Printf("[mdengine] store put_candle error: %v", err)
				}
				tfStr := fmt.Sprintf("%ds", tfc.TF)
				if _, err := b.Publish(runCtx, bus.OHLCChannel(tfc.Key(), tfStr), tfc); err != nil {
					log.Printf("[mdengine] bus publish candle error: %v", err)
				}
				if !tfc.Forming {
					select {
					case sqliteTFCh <- tfc:
					default:
					}
				}
			}
		}
	}()
	go sqlWriter.RunTFCandles(runCtx, sqliteTFCh)

	c, err := buildCollector(provider, cfg, clk, collector.Sink{Ticks: tickCh, Depths: depthCh})
	if err != nil {
		return fmt.Errorf("collector init: %w", err)
	}
	go func() {
		if err := c.Start(runCtx); err != nil && runCtx.Err() == nil {
			log.Printf("[mdengine] collector stopped: %v", err)
		}
	}()
	log.Println("[mdengine] pipeline ready")

	select {
	case <-sigCh:
		log.Println("[mdengine] shutdown signal received")
		cancel()
		c.Stop()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		healthSrv.Shutdown(shutdownCtx)
		return nil
	case <-fatalCh:
		cancel()
		c.Stop()
		log.Println("[mdengine] store unreachable past threshold, exiting fatal")
		os.Exit(2)
		return nil
	}
}

func buildCollector(provider string, cfg *config.Config, clk clock.Clock, sink collector.Sink) (collector.Collector, error) {
	switch provider {
	case "replay", "mock":
		reader, err := sqlitestore.NewReader(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		var from int64
		if cfg.CollectorHistoricalFrom != "" {
			t, err := time.Parse("2006-01-02", cfg.CollectorHistoricalFrom)
			if err == nil {
				from = t.Unix()
			}
		}
		source := replay.NewSQLiteSource(reader, cfg.ParseTFs(), from)
		return replay.New(replay.Config{Speed: cfg.CollectorHistoricalSpeed}, source, clk, sink), nil
	default: // "broker"
		tokenList := parseTokenList(cfg.SubscribeTokens)
		return live.New(live.Config{
			APIKey:     cfg.AngelAPIKey,
			ClientCode: cfg.AngelClientCode,
			Password:   cfg.AngelPassword,
			TOTPSecret: cfg.AngelTOTPSecret,
			TokenList:  tokenList,
		}, sink), nil
	}
}

func parseTokenList(s string) []smartconnect.TokenListEntry {
	groups := map[int][]string{}
	for _, pair := range splitString(s, ",") {
		parts := splitString(pair, ":")
		if len(parts) != 2 {
			continue
		}
		exType, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		groups[exType] = append(groups[exType], parts[1])
	}
	var result []smartconnect.TokenListEntry
	for exType, tokens := range groups {
		result = append(result, smartconnect.TokenListEntry{ExchangeType: exType, Tokens: tokens})
	}
	return result
}

// parseInstruments maps "exchangeType:token" subscription pairs to the
// "exchange:token" instrument keys the Store and health checker use.
func parseInstruments(s string) []string {
	var keys []string
	for _, pair := range splitString(s, ",") {
		parts := splitString(pair, ":")
		if len(parts) != 2 {
			continue
		}
		exName := "NSE"
		switch parts[0] {
		case "1":
			exName = "NSE"
		case "2":
			exName = "NFO"
		case "3":
			exName = "BSE"
		}
		keys = append(keys, exName+":"+parts[1])
	}
	return keys
}

func splitString(s, sep string) []string {
	var result []string
	cur := ""
	for _, r := range s {
		if string(r) == sep {
			result = append(result, cur)
			cur = ""
			continue
		}
		cur += string(r)
	}
	if cur != "" || len(result) > 0 {
		result = append(result, cur)
	}
	return result
}
