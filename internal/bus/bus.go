// Package bus implements the typed pub/sub layer over Redis.
// It generalizes gateway/hub.go's ad hoc hub-local sequence counter and
// channel-pattern matching (gateway/hub.go's broadcast() and
// gateway/client.go's parseChannel/matchesChannel) into a first-class API
// shared by collectors, the candle builder, the indicator engine, the
// signal monitor, and the gateway.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"tradingcore/internal/clock"
	"tradingcore/internal/errs"
	"tradingcore/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// Channel family name helpers — bit-stable across process restarts.
func TickChannel(instrument string) string  { return "market:tick:" + instrument }
func DepthChannel(instrument string) string { return "market:depth:" + instrument }
func OHLCChannel(instrument, tf string) string {
	return "market:ohlc:" + instrument + ":" + tf
}
func IndicatorChannel(instrument string) string { return "indicators:" + instrument }
func SignalChannel(instrument string) string    { return "engine:signal:" + instrument }
func DecisionChannel(instrument string) string  { return "engine:decision:" + instrument }

// Bus is the pub/sub abstraction every component depends on instead of
// reaching for a raw Redis client.
type Bus struct {
	client *goredis.Client
	clk    clock.Clock

	mu   sync.Mutex
	seqs map[string]uint64
}

// New creates a Bus over an existing Redis client. Every published
// envelope's Timestamp is read from clk, so a replay run's messages carry
// virtual time rather than the host wall clock.
func New(client *goredis.Client, clk clock.Clock) *Bus {
	return &Bus{client: client, clk: clk, seqs: make(map[string]uint64, 64)}
}

// Publish assigns the next per-channel sequence, wraps payload in the
// envelope, and publishes it. Delivery is at-most-once, best-effort, and
// ordered only within this channel.
func (b *Bus) Publish(ctx context.Context, channel string, payload interface{}) (model.ChannelMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return model.ChannelMessage{}, errs.New(errs.KindContract, "bus.publish", "payload marshal failed", err)
	}

	now, err := b.clk.Now(ctx)
	if err != nil {
		return model.ChannelMessage{}, errs.New(errs.KindBackendUnavailable, "bus.publish", "clock unavailable", err)
	}

	msg := model.ChannelMessage{
		Channel:   channel,
		Sequence:  b.nextSeq(channel),
		Timestamp: now.UTC(),
		Payload:   raw,
	}

	envelope, err := json.Marshal(msg)
	if err != nil {
		return model.ChannelMessage{}, errs.New(errs.KindContract, "bus.publish", "envelope marshal failed", err)
	}

	if err := b.client.Publish(ctx, channel, envelope).Err(); err != nil {
		return model.ChannelMessage{}, errs.New(errs.KindBackendUnavailable, "bus.publish", "redis publish failed", err)
	}
	return msg, nil
}

func (b *Bus) nextSeq(channel string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seqs[channel]++
	return b.seqs[channel]
}

// Subscription delivers decoded channel messages until Close or ctx done.
type Subscription struct {
	pubsub *goredis.PubSub
	C      <-chan model.ChannelMessage
}

// Close releases the underlying Redis subscription.
func (s *Subscription) Close() error {
	return s.pubsub.Close()
}

// Subscribe opens a subscription to one or more exact channel names.
func (b *Bus) Subscribe(ctx context.Context, channels ...string) *Subscription {
	return b.subscribe(ctx, b.client.Subscribe(ctx, channels...))
}

// SubscribePattern opens a wildcard subscription, e.g. "market:tick:*".
func (b *Bus) SubscribePattern(ctx context.Context, patterns ...string) *Subscription {
	return b.subscribe(ctx, b.client.PSubscribe(ctx, patterns...))
}

func (b *Bus) subscribe(ctx context.Context, pubsub *goredis.PubSub) *Subscription {
	out := make(chan model.ChannelMessage, 256)
	go func() {
		defer close(out)
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-ch:
				if !ok {
					return
				}
				var msg model.ChannelMessage
				if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
					log.Printf("[bus] corrupt envelope on %s: %v", raw.Channel, err)
					continue
				}
				select {
				case out <- msg:
				default:
					log.Printf("[bus] subscriber backlog full, dropping message on %s", raw.Channel)
				}
			}
		}
	}()
	return &Subscription{pubsub: pubsub, C: out}
}

// MatchPattern reports whether a wildcard subscription pattern (using "*"
// as a single trailing or embedded segment wildcard, redis PSUBSCRIBE
// semantics) matches channel. Used by the gateway to enforce ACL/quota
// without touching the underlying Redis subscription.
func MatchPattern(pattern, channel string) bool {
	if pattern == channel {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return false
	}
	// Translate the single glob into a prefix/suffix check — every pattern
	// in this system uses exactly one trailing "*" per family, e.g.
	// "market:tick:*" or "engine:signal:*".
	idx := strings.Index(pattern, "*")
	prefix, suffix := pattern[:idx], pattern[idx+1:]
	return strings.HasPrefix(channel, prefix) && strings.HasSuffix(channel, suffix)
}

// ParseFamily extracts the channel family for ACL matching, mirroring
// gateway/client.go's parseChannel: the first two colon-separated
// segments followed by ":*". For a two-segment channel such as
// "indicators:NIFTY" the second segment is the instrument, so the result
// is "indicators:NIFTY:*".
func ParseFamily(channel string) string {
	parts := strings.SplitN(channel, ":", 3)
	if len(parts) < 2 {
		return channel
	}
	return fmt.Sprintf("%s:%s:*", parts[0], parts[1])
}
