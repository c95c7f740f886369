package gateway

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"tradingcore/internal/bus"

	"github.com/gorilla/websocket"
)

// Hub is a pure forwarder: it relays every Bus message to whichever
// connections are both ACL-permitted and subscribed to a covering pattern,
// and produces no other outbound message besides pong/error/subscription
// acks and rate_limited notices (spec §4.8 "MUST NOT"). Grounded on the teacher's Hub/Client
// registry shape; the Redis-PubSub-specific fan-out is replaced by a
// single Bus wildcard subscription.
type Hub struct {
	bus        *bus.Bus
	acl        ACL
	auth       AuthPolicy
	guardrails Guardrails
	upgrader   websocket.Upgrader

	mu    sync.RWMutex
	conns map[*Conn]bool
}

// NewHub creates a Hub. Pass a zero-value ACL to get DefaultACL(), and a
// zero-value Guardrails to get DefaultGuardrails().
func NewHub(b *bus.Bus, acl ACL, auth AuthPolicy, guardrails Guardrails) *Hub {
	if acl == nil {
		acl = DefaultACL()
	}
	if guardrails == (Guardrails{}) {
		guardrails = DefaultGuardrails()
	}
	return &Hub{
		bus:        b,
		acl:        acl,
		auth:       auth,
		guardrails: guardrails,
		conns:      make(map[*Conn]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Run subscribes to every Bus channel and fans each message out to
// matching connections. Blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	sub := h.bus.SubscribePattern(ctx, "*")
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-sub.C:
			if !ok {
				return nil
			}
			h.fanOut(msg.Channel, msg.Payload, msg.Timestamp)
		}
	}
}

func (h *Hub) fanOut(channel string, payload []byte, ts time.Time) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns {
		if !h.acl.Allows(c.role, channel) {
			continue
		}
		if !c.matches(channel) {
			continue
		}
		c.deliver(channel, payload, ts)
	}
}

// ServeWS upgrades an HTTP request to a WebSocket connection, authenticates
// it, and registers it with the hub. Mount at the gateway's WS endpoint.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	role, ok := h.auth.Authenticate(BearerToken(r.Header.Get("Authorization")))
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] websocket upgrade failed: %v", err)
		return
	}

	c := newConn(ws, h, role, h.guardrails)
	h.mu.Lock()
	h.conns[c] = true
	n := len(h.conns)
	h.mu.Unlock()
	log.Printf("[gateway] connection established role=%s (%d total)", role, n)

	go c.writePump()
	go c.readPump()
}

func (h *Hub) remove(c *Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	close(c.send)
}

// ConnCount returns the number of connected clients.
func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
