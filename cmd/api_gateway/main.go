// Command api_gateway is the pure WebSocket forwarder described in spec
// §4.8: it authenticates connections, enforces per-connection ACL and
// guardrails, and relays Bus messages verbatim. It computes nothing and
// places no orders.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tradingcore/config"
	"tradingcore/internal/bus"
	"tradingcore/internal/clock"
	"tradingcore/internal/gateway"
	"tradingcore/internal/health"
	"tradingcore/internal/logger"
	redisstore "tradingcore/internal/store/redis"
)

var (
	configPath string
	modeFlag   string
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	logger.Init("api_gateway", slog.LevelInfo)

	root := &cobra.Command{
		Use:   "api_gateway",
		Short: "WebSocket forwarder: Bus -> ACL/guardrails -> authenticated clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "optional config file path (falls back to process env)")
	root.PersistentFlags().StringVar(&modeFlag, "mode", "", "override gateway.default_role for unauthenticated connections")

	if err := root.Execute(); err != nil {
		log.Printf("[api_gateway] startup failed: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg := config.Load()
	defaultRole := cfg.GatewayDefaultRole
	if modeFlag != "" {
		defaultRole = modeFlag
	}

	st, err := redisstore.New(redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err != nil {
		return fmt.Errorf("store connect: %w", err)
	}
	defer st.Close()

	clk := clock.New(st.Client())
	b := bus.New(st.Client(), clk)

	auth := gateway.AuthPolicy{
		RequireAuth: cfg.GatewayRequireAuth,
		DefaultRole: gateway.Role(defaultRole),
		Tokens:      parseTokenTable(getEnv("GATEWAY_TOKENS", "")),
	}
	guardrails := gateway.Guardrails{
		MaxChannels:          cfg.GatewayMaxChannels,
		MaxWildcardSubs:      cfg.GatewayMaxWildcards,
		MaxMessagesPerSecond: cfg.GatewayMaxMsgsPerSec,
	}
	hub := gateway.NewHub(b, gateway.DefaultACL(), auth, guardrails)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := hub.Run(runCtx); err != nil && runCtx.Err() == nil {
			log.Printf("[api_gateway] hub stopped: %v", err)
		}
	}()

	checker := health.NewChecker(st, clk, nil)
	mux := http.NewServeMux()
	mux.Handle("/health", checker.Handler())
	mux.HandleFunc("/ws", hub.ServeWS)
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"connections":%d}`, hub.ConnCount())
	})
	srv := &http.Server{Addr: cfg.GatewayPort, Handler: mux}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	fatalCh := make(chan struct{})
	go checker.WatchFatal(runCtx, 5*time.Second, 30*time.Second, func() { close(fatalCh) })

	go func() {
		log.Printf("[api_gateway] listening on %s (/ws, /health, /stats)", cfg.GatewayPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[api_gateway] http server error: %v", err)
		}
	}()

	select {
	case <-sigCh:
		log.Println("[api_gateway] shutdown signal received")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
		return nil
	case <-fatalCh:
		cancel()
		log.Println("[api_gateway] store unreachable past threshold, exiting fatal")
		os.Exit(2)
		return nil
	}
}

// parseTokenTable parses "token:role,token2:role2" into a bearer-token ->
// Role lookup for gateway.AuthPolicy.
func parseTokenTable(s string) map[string]gateway.Role {
	if s == "" {
		return nil
	}
	table := make(map[string]gateway.Role)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			continue
		}
		table[parts[0]] = gateway.Role(parts[1])
	}
	return table
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
