package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"tradingcore/internal/bus"

	goredis "github.com/go-redis/redis/v8"
)

// fakeClock satisfies clock.Clock with the host wall clock; the hub tests
// here never exercise virtual time, only ACL/guardrail/broadcast logic.
type fakeClock struct{}

func (fakeClock) Now(ctx context.Context) (time.Time, error)        { return time.Now().UTC(), nil }
func (fakeClock) SetVirtual(ctx context.Context, ts time.Time) error { return nil }
func (fakeClock) ClearVirtual(ctx context.Context) error             { return nil }
func (fakeClock) IsVirtual(ctx context.Context) (bool, error)        { return false, nil }

func testHub() *Hub {
	b := bus.New(goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1"}), fakeClock{})
	return NewHub(b, DefaultACL(), AuthPolicy{}, Guardrails{MaxChannels: 2, MaxWildcardSubs: 1, MaxMessagesPerSecond: 1000})
}

func drain(t *testing.T, c *Conn) ServerMessage {
	t.Helper()
	select {
	case raw := <-c.send:
		var msg ServerMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("outbound frame not valid JSON: %v", err)
		}
		return msg
	default:
		t.Fatal("expected an outbound frame, got none")
		return ServerMessage{}
	}
}

func TestConn_SubscribeDisallowedPattern(t *testing.T) {
	h := testHub()
	c := newConn(nil, h, RoleUser, h.guardrails)

	c.handleSubscribe(ClientMessage{Action: ActionSubscribe, Channels: []string{"engine:signal:*"}, RequestID: "r1"})

	msg := drain(t, c)
	if msg.Type != TypeError {
		t.Fatalf("expected error for disallowed pattern, got %s", msg.Type)
	}
	if c.matches("engine:signal:NSE:26000") {
		t.Fatal("disallowed subscribe must not touch the subscription set")
	}
}

func TestConn_SubscribeMaxChannelsGuardrail(t *testing.T) {
	h := testHub()
	c := newConn(nil, h, RoleUser, h.guardrails) // MaxChannels: 2

	c.handleSubscribe(ClientMessage{Action: ActionSubscribe, Channels: []string{"market:tick:A"}, RequestID: "r1"})
	drain(t, c) // subscribed ack
	c.handleSubscribe(ClientMessage{Action: ActionSubscribe, Channels: []string{"market:tick:B"}, RequestID: "r2"})
	drain(t, c) // subscribed ack

	c.handleSubscribe(ClientMessage{Action: ActionSubscribe, Channels: []string{"market:tick:C"}, RequestID: "r3"})
	msg := drain(t, c)
	if msg.Type != TypeError {
		t.Fatalf("expected max_channels rejection, got %s", msg.Type)
	}
}

func TestConn_SubscribeMaxWildcardGuardrail(t *testing.T) {
	h := testHub()
	c := newConn(nil, h, RoleUser, h.guardrails) // MaxWildcardSubs: 1

	c.handleSubscribe(ClientMessage{Action: ActionSubscribe, Channels: []string{"market:tick:*"}, RequestID: "r1"})
	drain(t, c)
	c.handleSubscribe(ClientMessage{Action: ActionSubscribe, Channels: []string{"indicators:*"}, RequestID: "r2"})
	msg := drain(t, c)
	if msg.Type != TypeError {
		t.Fatalf("expected max_wildcard_subscriptions rejection, got %s", msg.Type)
	}
}

func TestConn_UnsubscribeRemovesPattern(t *testing.T) {
	h := testHub()
	c := newConn(nil, h, RoleUser, h.guardrails)

	c.handleSubscribe(ClientMessage{Action: ActionSubscribe, Channels: []string{"market:tick:*"}})
	drain(t, c)
	if !c.matches("market:tick:NSE:26000") {
		t.Fatal("expected channel to match after subscribe")
	}

	c.handleUnsubscribe(ClientMessage{Action: ActionUnsubscribe, Channels: []string{"market:tick:*"}})
	drain(t, c)
	if c.matches("market:tick:NSE:26000") {
		t.Fatal("expected channel to no longer match after unsubscribe")
	}
}

func TestConn_DeliverAssignsPerChannelSequence(t *testing.T) {
	h := testHub()
	c := newConn(nil, h, RoleUser, Guardrails{MaxChannels: 10, MaxWildcardSubs: 10, MaxMessagesPerSecond: 1000})

	c.deliver("market:tick:NSE:26000", json.RawMessage(`{"price":100}`), time.Now())
	first := drain(t, c)
	c.deliver("market:tick:NSE:26000", json.RawMessage(`{"price":101}`), time.Now())
	second := drain(t, c)

	if first.Seq != 1 || second.Seq != 2 {
		t.Fatalf("expected sequence 1,2 got %d,%d", first.Seq, second.Seq)
	}
	if first.Type != TypeData || first.Channel != "market:tick:NSE:26000" {
		t.Fatalf("unexpected envelope: %+v", first)
	}
}
