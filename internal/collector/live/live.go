// Package live is the production Collector: an Angel One SmartAPI session
// driven by the login/backoff/market-hours loop that used to live in
// cmd/mdengine/main.go, lifted out of main() into a reusable component so
// cmd/mdengine only has to wire it up and cmd/backtest can swap in
// internal/collector/replay instead.
package live

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"

	"tradingcore/internal/collector"
	"tradingcore/internal/markethours"
	"tradingcore/internal/marketdata/closedetector"
	"tradingcore/internal/model"
	smartconnect "tradingcore/pkg/smartconnect"
)

// Config mirrors the Angel One credentials and subscription list the
// the existing config.Config carries for mdengine.
type Config struct {
	APIKey      string
	ClientCode  string
	Password    string
	TOTPSecret  string
	TokenList   []smartconnect.TokenListEntry
	LoginBackoff time.Duration // initial login backoff (default 30s); doubles up to 5m
}

// Collector is the live market-data feed.
type Collector struct {
	cfg  Config
	sink collector.Sink

	cancel context.CancelFunc

	// OnReconnect/OnSessionOpen are optional metrics hooks, same shape as
	// marketdata/ws.Ingest.OnReconnect.
	OnReconnect   func()
	OnSessionOpen func()
}

// New creates a live Collector bound to sink.
func New(cfg Config, sink collector.Sink) *Collector {
	if cfg.LoginBackoff == 0 {
		cfg.LoginBackoff = 30 * time.Second
	}
	return &Collector{cfg: cfg, sink: sink}
}

// Start runs the pre-open → login → WS-connect → market-close loop
// forever, until ctx is cancelled. Each iteration mirrors one trading day.
func (c *Collector) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	backoff := c.cfg.LoginBackoff
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		now := time.Now()
		nextPreOpen := markethours.NextPreOpen(now)
		nextOpen := markethours.NextOpen(now)

		if now.Before(nextPreOpen) {
			wait := nextPreOpen.Sub(now)
			log.Printf("[collector.live] market closed, sleeping %v until pre-open %s",
				wait.Truncate(time.Second), nextPreOpen.In(markethours.IST).Format("Mon 15:04"))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		authToken, feedToken, err := c.login()
		if err != nil {
			log.Printf("[collector.live] login failed: %v, retrying in %v", err, backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = minDur(backoff*2, 5*time.Minute)
			continue
		}
		backoff = c.cfg.LoginBackoff
		if c.OnSessionOpen != nil {
			c.OnSessionOpen()
		}

		wsTime := markethours.WSConnectTime(nextOpen)
		if wait := wsTime.Sub(time.Now()); wait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		closeTime := markethours.TodayClose(time.Now())
		sessionCtx, sessionCancel := context.WithDeadline(ctx, closeTime.Add(5*time.Minute))

		if err := c.runSession(sessionCtx, authToken, feedToken, closedetector.New(closeTime)); err != nil {
			log.Printf("[collector.live] session ended: %v", err)
		}
		sessionCancel()

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Stop cancels the running session loop.
func (c *Collector) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Collector) login() (authToken, feedToken string, err error) {
	totpCode, err := totp.GenerateCode(c.cfg.TOTPSecret, time.Now())
	if err != nil {
		return "", "", fmt.Errorf("totp: %w", err)
	}
	sc := smartconnect.NewSmartConnect(smartconnect.Config{APIKey: c.cfg.APIKey})
	resp, err := sc.GenerateSession(c.cfg.ClientCode, c.cfg.Password, totpCode)
	if err != nil {
		return "", "", fmt.Errorf("generate session: %w", err)
	}
	feedToken = sc.GetFeedToken()
	if data, ok := resp["data"].(map[string]interface{}); ok {
		if jwt, ok := data["jwtToken"].(string); ok {
			authToken = jwt
		}
	}
	if authToken == "" || feedToken == "" {
		return "", "", fmt.Errorf("empty session tokens")
	}
	return authToken, feedToken, nil
}

// runSession connects the WebSocket and blocks until it closes or ctx
// is cancelled, pushing every tick onto the sink. det watches ticks after
// market close and proactively closes the connection once the closing
// price has stabilized, instead of waiting on the broker to drop it.
func (c *Collector) runSession(ctx context.Context, authToken, feedToken string, det *closedetector.Detector) error {
	ws, err := smartconnect.NewSmartWebSocketV3(authToken, c.cfg.APIKey, c.cfg.ClientCode, feedToken,
		5, 1, 5, 2, 30)
	if err != nil {
		return fmt.Errorf("websocket init: %w", err)
	}

	done := make(chan struct{})
	var closeOnce sync.Once
	ws.OnOpen = func() {
		if err := ws.Subscribe("collector", smartconnect.ModeLTP, c.cfg.TokenList); err != nil {
			log.Printf("[collector.live] subscribe failed: %v", err)
		}
	}
	ws.OnData = func(msg map[string]interface{}) {
		tick, err := parseTick(msg)
		if err != nil {
			return
		}
		select {
		case c.sink.Ticks <- tick:
		default:
			log.Println("[collector.live] tick sink full, dropping tick")
		}
		if det.IsPostClose(tick.TickTS) && det.Observe(tick.Price, tick.TickTS) {
			closeOnce.Do(func() {
				log.Printf("[collector.live] closing price %d captured, disconnecting", det.ClosingPrice())
				ws.CloseConnection()
			})
		}
	}
	ws.OnClose = func() {
		if c.OnReconnect != nil {
			c.OnReconnect()
		}
		close(done)
	}
	ws.OnError = func(code, msg string) {
		log.Printf("[collector.live] ws error: code=%s msg=%s", code, msg)
	}

	if err := ws.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	go func() {
		<-ctx.Done()
		closeOnce.Do(func() { ws.CloseConnection() })
	}()
	<-done
	return nil
}

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// exchangeTypeToName maps Angel One WS exchange_type ints to names,
// carried over unchanged from marketdata/ws/ingest.go.
var exchangeTypeToName = map[int]string{
	1: "NSE", 2: "NFO", 3: "BSE", 4: "BFO", 5: "MCX", 7: "NCX", 13: "CDE",
}

func parseTick(msg map[string]interface{}) (model.Tick, error) {
	token, _ := msg["token"].(string)
	if token == "" {
		return model.Tick{}, fmt.Errorf("missing token")
	}
	exType := toInt(msg["exchange_type"])
	exchange := exchangeTypeToName[exType]
	if exchange == "" {
		exchange = fmt.Sprintf("EX_%d", exType)
	}

	price := toInt64(msg["last_traded_price"])
	qty := toInt64(msg["last_traded_quantity"])

	var oi *int64
	if v := toInt64(msg["opn_interest"]); v > 0 {
		oi = &v
	}

	var tickTS time.Time
	if exTS := toInt64(msg["exchange_timestamp"]); exTS > 0 {
		tickTS = time.Unix(0, exTS*int64(time.Millisecond)).UTC()
	} else {
		tickTS = time.Now().UTC()
	}

	return model.Tick{
		Token: token, Exchange: exchange,
		Price: price, Qty: qty, OpenInterest: oi,
		TickTS: tickTS,
	}, nil
}

func toInt(v interface{}) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	}
	return 0
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	}
	return 0
}
