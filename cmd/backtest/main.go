// Command backtest replays a recorded SQLite history through the exact
// production pipeline — candle builder, indicator engine, signal
// monitor, paper executor — via internal/collector/replay, so indicator
// and signal behavior can be validated offline before risking them live.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tradingcore/config"
	"tradingcore/internal/bus"
	"tradingcore/internal/clock"
	"tradingcore/internal/collector"
	"tradingcore/internal/collector/replay"
	"tradingcore/internal/execution"
	"tradingcore/internal/indicator"
	"tradingcore/internal/logger"
	"tradingcore/internal/marketdata/agg"
	"tradingcore/internal/marketdata/tfbuilder"
	"tradingcore/internal/model"
	"tradingcore/internal/notification"
	"tradingcore/internal/orchestrator"
	"tradingcore/internal/portfolio"
	sigengine "tradingcore/internal/signal"
	redisstore "tradingcore/internal/store/redis"
	sqlitestore "tradingcore/internal/store/sqlite"
)

var (
	configPath string
	modeFlag   string
	speed      float64
	fromTS     int64
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	logger.Init("backtest", slog.LevelInfo)

	root := &cobra.Command{
		Use:   "backtest",
		Short: "Replay recorded candle history through the full indicator/signal pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "optional config file path (falls back to process env)")
	root.PersistentFlags().StringVar(&modeFlag, "mode", "", "execution mode override (paper|broker), default paper")
	root.Flags().Float64Var(&speed, "speed", 0, "playback speed multiplier (0=as fast as possible, 1=real time)")
	root.Flags().Int64Var(&fromTS, "from", 0, "unix timestamp to replay from (0=from the beginning)")

	if err := root.Execute(); err != nil {
		log.Printf("[backtest] run failed: %v", err)
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

	st, err := redisstore.New(redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err != nil {
		return fmt.Errorf("store connect: %w", err)
	}
	defer st.Close()

	clk := clock.New(st.Client())
	b := bus.New(st.Client(), clk)

	reader, err := sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		return fmt.Errorf("sqlite open: %w", err)
	}
	defer reader.Close()

	indConfigs := make([]indicator.TFIndicatorConfig, len(enabledTFs))
	for i, tf := range enabledTFs {
		indConfigs[i] = indicator.TFIndicatorConfig{TF: tf, Indicators: defaultIndicatorSpecs()}
	}
	engine := indicator.NewEngine(indConfigs)

	journal, err := execution.NewJournal(cfg.JournalPath)
	if err != nil {
		return fmt.Errorf("trade journal init: %w", err)
	}
	defer journal.Close()

	var exec orchestrator.Executor
	if execMode == "broker" {
		exec = execution.NewExecutor(256)
	} else {
		pe := execution.NewPaperExecutor(st, 256, 1, 5)
		pe.SetJournal(journal)
		pe.SetNotifier(notification.NewLogNotifier())
		pf := portfolio.New()
		pe.SetRiskManager(pf, portfolio.NewRiskManager(portfolio.DefaultRiskLimits(), pf))
		exec = pe
	}

	monitor := sigengine.NewMonitor(st, b, clk)
	monitor.OnTrigger(orchestrator.AsHandler(exec))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("[backtest] interrupted")
		cancel()
	}()

	var candlesProcessed, indicatorResults int64

	tickCh := make(chan model.Tick, 10000)
	candleCh := make(chan model.Candle, 5000)
	tfCandleCh := make(chan model.TFCandle, 5000)

	aggregator := agg.New()
	go aggregator.Run(runCtx, tickCh, candleCh)

	tfBuilder := tfbuilder.New(enabledTFs)
	go tfBuilder.Run(runCtx, candleCh, tfCandleCh)

	go monitor.Run(runCtx)
	go monitor.RunExpirySweep(runCtx)

	go func() {
		for {
			select {
			case <-runCtx.Done():
				return
			case tfc, ok := <-tfCandleCh:
				if !ok {
					return
				}
				if tfc.Forming {
					continue
				}
				atomic.AddInt64(&candlesProcessed, 1)
				results := engine.Process(tfc)
				for _, r := range results {
					if !r.Ready {
						continue
					}
					atomic.AddInt64(&indicatorResults, 1)
					st.PutIndicator(runCtx, r)
					b.Publish(runCtx, bus.IndicatorChannel(r.Key()), r)
				}
			}
		}
	}()

	source := replay.NewSQLiteSource(reader, enabledTFs, fromTS)
	coll := replay.New(replay.Config{Speed: speed}, source, clk, collector.Sink{Ticks: tickCh})

	if err := coll.Start(runCtx); err != nil && runCtx.Err() == nil {
		return fmt.Errorf("replay: %w", err)
	}

	// Drain the remaining in-flight candles/indicators before reporting.
	time.Sleep(200 * time.Millisecond)
	cancel()

	fmt.Println()
	fmt.Println("backtest complete")
	fmt.Printf("  candles processed:   %d\n", atomic.LoadInt64(&candlesProcessed))
	fmt.Printf("  indicator results:   %d\n", atomic.LoadInt64(&indicatorResults))
	fmt.Printf("  timeframes replayed: %v\n", enabledTFs)
	return nil
}

// defaultIndicatorSpecs mirrors cmd/indengine's out-of-the-box indicator
// set, so a backtest run exercises the same indicators production does.
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
