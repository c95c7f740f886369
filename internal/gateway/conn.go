package gateway

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"tradingcore/internal/bus"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Guardrails bounds one connection's subscription footprint and outbound
// rate. NewHub replaces an all-zero Guardrails with DefaultGuardrails();
// a single zero field is used as-is.
type Guardrails struct {
	MaxChannels          int
	MaxWildcardSubs      int
	MaxMessagesPerSecond int
}

// DefaultGuardrails returns the spec's default per-connection limits.
func DefaultGuardrails() Guardrails {
	return Guardrails{
		MaxChannels:          50,
		MaxWildcardSubs:      5,
		MaxMessagesPerSecond: 1000,
	}
}

// Conn is a single authenticated WebSocket peer. It tracks its own
// subscription set, outbound sequence per channel, and a token-bucket rate
// limiter, per spec §4.8. Grounded on the teacher's Client pump
// architecture (write coalescing via NextWriter, 60s read idle, 30s ping).
type Conn struct {
	ws   *websocket.Conn
	send chan []byte
	hub  *Hub

	role       Role
	guardrails Guardrails
	limiter    *rate.Limiter

	mu            sync.Mutex
	subs          map[string]bool // channel patterns this connection wants
	wildcardCount int
	seqs          map[string]uint64 // per-channel outbound sequence

	rateLimitMu      sync.Mutex
	lastRateLimitMsg time.Time
}

func newConn(ws *websocket.Conn, hub *Hub, role Role, gr Guardrails) *Conn {
	return &Conn{
		ws:         ws,
		send:       make(chan []byte, 256),
		hub:        hub,
		role:       role,
		guardrails: gr,
		limiter:    rate.NewLimiter(rate.Limit(gr.MaxMessagesPerSecond), gr.MaxMessagesPerSecond),
		subs:       make(map[string]bool),
		seqs:       make(map[string]uint64),
	}
}

// writePump drains c.send to the socket, coalescing queued frames into one
// WebSocket message per wakeup, and keepalive-pings on idle.
func (c *Conn) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))

			w, err := c.ws.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump decodes inbound client messages and dispatches them. Exits (and
// deregisters from the hub) on any read error, including the 60s idle
// timeout.
func (c *Conn) readPump() {
	defer func() {
		c.hub.remove(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(4096)
	c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError("", "invalid message: "+err.Error())
			continue
		}
		switch msg.Action {
		case ActionPing:
			c.sendJSON(ServerMessage{Type: TypePong, Timestamp: nowRFC3339(), RequestID: msg.RequestID})
		case ActionSubscribe:
			c.handleSubscribe(msg)
		case ActionUnsubscribe:
			c.handleUnsubscribe(msg)
		default:
			c.sendError(msg.RequestID, "unknown action: "+msg.Action)
		}
	}
}

func (c *Conn) handleSubscribe(msg ClientMessage) {
	for _, pattern := range msg.Channels {
		if !c.hub.acl.Allows(c.role, pattern) {
			c.sendError(msg.RequestID, "disallowed channel pattern: "+pattern)
			continue
		}

		c.mu.Lock()
		if c.subs[pattern] {
			c.mu.Unlock()
			continue
		}
		isWildcard := containsGlob(pattern)
		if len(c.subs) >= c.guardrails.MaxChannels {
			c.mu.Unlock()
			c.sendError(msg.RequestID, "max_channels exceeded")
			continue
		}
		if isWildcard && c.wildcardCount >= c.guardrails.MaxWildcardSubs {
			c.mu.Unlock()
			c.sendError(msg.RequestID, "max_wildcard_subscriptions exceeded")
			continue
		}
		c.subs[pattern] = true
		if isWildcard {
			c.wildcardCount++
		}
		c.mu.Unlock()

		c.sendJSON(ServerMessage{Type: TypeSubscribed, Channel: pattern, Timestamp: nowRFC3339(), RequestID: msg.RequestID})
	}
}

func (c *Conn) handleUnsubscribe(msg ClientMessage) {
	for _, pattern := range msg.Channels {
		c.mu.Lock()
		if c.subs[pattern] && containsGlob(pattern) {
			c.wildcardCount--
		}
		delete(c.subs, pattern)
		c.mu.Unlock()
		c.sendJSON(ServerMessage{Type: TypeUnsubscribed, Channel: pattern, Timestamp: nowRFC3339(), RequestID: msg.RequestID})
	}
}

// matches reports whether this connection is currently subscribed to a
// pattern that covers channel.
func (c *Conn) matches(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for pattern := range c.subs {
		if matchesSubscription(pattern, channel) {
			return true
		}
	}
	return false
}

// deliver forwards one Bus envelope verbatim, assigning the connection's
// own per-channel outbound sequence. Excess messages beyond the rate
// limiter's budget are dropped, with at most one rate_limited error sent
// per second.
func (c *Conn) deliver(channel string, payload json.RawMessage, ts time.Time) {
	if !c.limiter.Allow() {
		c.maybeSendRateLimited()
		return
	}

	c.mu.Lock()
	c.seqs[channel]++
	seq := c.seqs[channel]
	c.mu.Unlock()

	out := ServerMessage{
		Type:      TypeData,
		Seq:       seq,
		Channel:   channel,
		Data:      payload,
		Timestamp: ts.UTC().Format(time.RFC3339Nano),
	}
	c.sendJSON(out)
}

func (c *Conn) maybeSendRateLimited() {
	c.rateLimitMu.Lock()
	defer c.rateLimitMu.Unlock()
	now := time.Now()
	if now.Sub(c.lastRateLimitMsg) < time.Second {
		return
	}
	c.lastRateLimitMsg = now
	c.sendJSON(ServerMessage{Type: TypeRateLimited, Timestamp: nowRFC3339()})
}

func (c *Conn) sendError(requestID, reason string) {
	c.sendJSON(ServerMessage{Type: TypeError, Error: reason, Timestamp: nowRFC3339(), RequestID: requestID})
}

func (c *Conn) sendJSON(msg ServerMessage) {
	raw, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[gateway] marshal outbound message: %v", err)
		return
	}
	select {
	case c.send <- raw:
	default:
		log.Printf("[gateway] connection backlog full, dropping a %s frame", msg.Type)
	}
}

func nowRFC3339() string { return time.Now().UTC().Format(time.RFC3339Nano) }

func containsGlob(pattern string) bool {
	for i := 0; i < len(pattern); i++ {
		if pattern[i] == '*' {
			return true
		}
	}
	return false
}

// matchesSubscription reports whether a connection's subscribed pattern
// covers an emitted channel name.
func matchesSubscription(pattern, channel string) bool {
	return bus.MatchPattern(pattern, channel)
}
