// Package clock provides the single source of truth for "now".
// Virtual time is stored in two Redis keys so every process — collectors,
// candle builder, indicator engine, signal monitor — observes the same
// advancing clock during historical replay. The backend access pattern
// (ping-gated client, typed sentinel errors) follows
// internal/store/redis.Writer/CircuitBreaker.
package clock

import (
	"context"
	"errors"
	"sync"
	"time"

	"tradingcore/internal/errs"
	"tradingcore/internal/markethours"

	goredis "github.com/go-redis/redis/v8"
)

const (
	keyVirtualEnabled = "clock:virtual:enabled"
	keyVirtualCurrent = "clock:virtual:current"

	// staleGrace is how long a last-observed virtual value may be reused
	// when the backend is unreachable.
	staleGrace = 5 * time.Second
)

// Clock is the interface every component reads "now" through. Direct host
// clock reads elsewhere in the codebase are a defect.
type Clock interface {
	Now(ctx context.Context) (time.Time, error)
	SetVirtual(ctx context.Context, ts time.Time) error
	ClearVirtual(ctx context.Context) error
	IsVirtual(ctx context.Context) (bool, error)
}

// RedisClock is the canonical Clock, backed by a shared Redis KV.
type RedisClock struct {
	client *goredis.Client

	mu            sync.Mutex
	lastVirtual   time.Time
	lastVirtualOK bool
	lastObservedAt time.Time
}

// New creates a RedisClock over an existing client.
func New(client *goredis.Client) *RedisClock {
	return &RedisClock{client: client}
}

// Now returns virtual time if set, else the host wall clock in IST.
// On backend unavailability it returns the last-observed virtual value for
// up to staleGrace; beyond that it returns ClockBackendUnavailable, which
// callers must treat as fatal at startup and retryable at runtime.
func (c *RedisClock) Now(ctx context.Context) (time.Time, error) {
	enabled, current, err := c.readVirtual(ctx)
	if err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.lastVirtualOK && time.Since(c.lastObservedAt) <= staleGrace {
			return c.lastVirtual, nil
		}
		return time.Time{}, errs.New(errs.KindBackendUnavailable, "clock.now", "store unreachable", err)
	}

	if enabled {
		c.mu.Lock()
		c.lastVirtual = current
		c.lastVirtualOK = true
		c.lastObservedAt = time.Now()
		c.mu.Unlock()
		return current, nil
	}

	return time.Now().In(markethours.IST), nil
}

// SetVirtual enables virtual time and sets the current virtual instant.
// Called by replay collectors as they advance through synthetic ticks.
func (c *RedisClock) SetVirtual(ctx context.Context, ts time.Time) error {
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, keyVirtualEnabled, "1", 0)
	pipe.Set(ctx, keyVirtualCurrent, ts.UTC().Format(time.RFC3339Nano), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return errs.New(errs.KindBackendUnavailable, "clock.set_virtual", "store unreachable", err)
	}
	return nil
}

// ClearVirtual disables virtual time; Now() falls back to the host clock.
func (c *RedisClock) ClearVirtual(ctx context.Context) error {
	if err := c.client.Set(ctx, keyVirtualEnabled, "0", 0).Err(); err != nil {
		return errs.New(errs.KindBackendUnavailable, "clock.clear_virtual", "store unreachable", err)
	}
	return nil
}

// IsVirtual reports whether virtual time is currently enabled.
func (c *RedisClock) IsVirtual(ctx context.Context) (bool, error) {
	enabled, _, err := c.readVirtual(ctx)
	return enabled, err
}

func (c *RedisClock) readVirtual(ctx context.Context) (bool, time.Time, error) {
	pipe := c.client.TxPipeline()
	enabledCmd := pipe.Get(ctx, keyVirtualEnabled)
	currentCmd := pipe.Get(ctx, keyVirtualCurrent)
	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, goredis.Nil) {
		return false, time.Time{}, err
	}

	enabled := enabledCmd.Val() == "1"
	if !enabled {
		return false, time.Time{}, nil
	}

	raw, err := currentCmd.Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return false, time.Time{}, nil
		}
		return false, time.Time{}, err
	}

	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return false, time.Time{}, errs.New(errs.KindCorrupt, "clock.read_virtual", "malformed virtual timestamp", err)
	}
	return true, ts, nil
}
