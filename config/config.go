package config

import (
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Angel One credentials
	AngelAPIKey     string
	AngelClientCode string
	AngelPassword   string
	AngelTOTPSecret string

	// Store (store.host / store.port — RedisAddr is the combined host:port
	// form most of the codebase dials with, split out below for callers
	// that need the parts, e.g. the gateway's auth/health wiring).
	RedisAddr     string
	StoreHost     string
	StorePort     int
	RedisPassword string
	SQLitePath    string
	JournalPath   string
	MongoURI      string
	MetricsAddr   string

	// Subscription
	SubscribeTokens string

	// Dynamic Timeframes (comma-separated seconds, e.g. "60,300,900")
	EnabledTFs string

	// clock.mode
	ClockMode string // auto|live|historical

	// collector.*
	CollectorProvider        string // broker|replay|mock
	CollectorHistoricalSrc   string
	CollectorHistoricalSpeed float64
	CollectorHistoricalFrom  string

	// gateway.*
	GatewayPort          string
	GatewayMaxChannels   int
	GatewayMaxWildcards  int
	GatewayMaxMsgsPerSec int
	GatewayRequireAuth   bool
	GatewayDefaultRole   string

	// indicators.*
	IndicatorsWindow         int
	IndicatorsPrevTTLSeconds int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	redisAddr := getEnv("REDIS_ADDR", "localhost:6379")
	host, port := splitHostPort(redisAddr)

	return &Config{
		AngelAPIKey:     mustEnv("ANGEL_API_KEY"),
		AngelClientCode: mustEnv("ANGEL_CLIENT_CODE"),
		AngelPassword:   mustEnv("ANGEL_PASSWORD"),
		AngelTOTPSecret: mustEnv("ANGEL_TOTP_SECRET"),

		RedisAddr:     redisAddr,
		StoreHost:     getEnv("STORE_HOST", host),
		StorePort:     getEnvInt("STORE_PORT", port),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/candles.db"),
		JournalPath:   getEnv("JOURNAL_PATH", "data/trades.db"),
		MongoURI:      getEnv("MONGO_URI", ""),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),

		// Default: NIFTY 50 on NSE_CM
		SubscribeTokens: getEnv("SUBSCRIBE_TOKENS", "1:99926000"),

		// Default TFs: 1m, 2m, 3m, 5m
		EnabledTFs: getEnv("ENABLED_TFS", "60,120,180,300"),

		ClockMode: getEnv("CLOCK_MODE", "auto"),

		CollectorProvider:        getEnv("COLLECTOR_PROVIDER", "broker"),
		CollectorHistoricalSrc:   getEnv("COLLECTOR_HISTORICAL_SOURCE", ""),
		CollectorHistoricalSpeed: getEnvFloat("COLLECTOR_HISTORICAL_SPEED", 1.0),
		CollectorHistoricalFrom:  getEnv("COLLECTOR_HISTORICAL_FROM", ""),

		GatewayPort:          getEnv("GATEWAY_PORT", ":8081"),
		GatewayMaxChannels:   getEnvInt("GATEWAY_MAX_CHANNELS", 50),
		GatewayMaxWildcards:  getEnvInt("GATEWAY_MAX_WILDCARDS", 5),
		GatewayMaxMsgsPerSec: getEnvInt("GATEWAY_MAX_MSGS_PER_SEC", 1000),
		GatewayRequireAuth:   getEnvBool("GATEWAY_REQUIRE_AUTH", true),
		GatewayDefaultRole:   getEnv("GATEWAY_DEFAULT_ROLE", "user"),

		IndicatorsWindow:         getEnvInt("INDICATORS_WINDOW", 200),
		IndicatorsPrevTTLSeconds: getEnvInt("INDICATORS_PREV_TTL_SECONDS", 14400),
	}
}

// ParseTFs parses the EnabledTFs string into a sorted slice of timeframe durations in seconds.
func (c *Config) ParseTFs() []int {
	parts := strings.Split(c.EnabledTFs, ",")
	tfs := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			log.Printf("[config] skipping invalid TF value: %q", p)
			continue
		}
		tfs = append(tfs, n)
	}
	sort.Ints(tfs)
	return tfs
}

func splitHostPort(addr string) (host string, port int) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return addr, 6379
	}
	p, err := strconv.Atoi(addr[idx+1:])
	if err != nil {
		return addr, 6379
	}
	return addr[:idx], p
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid int for %s=%q, using default %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid float for %s=%q, using default %g", key, v, fallback)
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid bool for %s=%q, using default %v", key, v, fallback)
		return fallback
	}
	return b
}
