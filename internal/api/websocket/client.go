package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vibhukrishnas/sams-sub010/internal/auth"
	"github.com/vibhukrishnas/sams-sub010/internal/models"
	"github.com/vibhukrishnas/sams-sub010/internal/pkg/metrics"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024 // 64KB

	// Unauthenticated messages tolerated before the connection is closed
	maxAuthViolations = 3
)

// Session state machine: Connecting -> Authenticated -> Subscribed -> Closed.
// Subscribe/unsubscribe may cycle any number of times once authenticated.
const (
	stateConnecting int32 = iota
	stateAuthenticated
	stateSubscribed
	stateClosed
)

type outbound struct {
	data       []byte
	critical   bool
	closeAfter bool
}

// Client is one WebSocket session.
type Client struct {
	// The websocket connection
	conn *websocket.Conn

	// Hub reference
	hub *Hub

	// Client ID for tracking
	id string

	userID string
	orgID  string

	state atomic.Int32

	// Subscription filter, guarded by mu
	mu     sync.Mutex
	filter models.SubscriptionFilter

	// Bounded outbound queue. Overflow drops the oldest non-critical entry;
	// critical entries are never dropped while the session is alive.
	qmu      sync.Mutex
	queue    []outbound
	queueCap int
	qClosed  bool
	notify   chan struct{}

	violations int

	// Context for cancellation
	ctx    context.Context
	cancel context.CancelFunc
}

// NewClient creates a session in the Connecting state.
func NewClient(ctx context.Context, hub *Hub, conn *websocket.Conn, id string) *Client {
	clientCtx, cancel := context.WithCancel(ctx)
	return &Client{
		conn:     conn,
		hub:      hub,
		id:       id,
		queueCap: hub.queueSize,
		notify:   make(chan struct{}, 1),
		ctx:      clientCtx,
		cancel:   cancel,
	}
}

// deliver matches a fan-out event against this session's state and filter and
// enqueues it. Never blocks the hub.
func (c *Client) deliver(ev event, data []byte, critical bool) {
	if c.state.Load() != stateSubscribed {
		return
	}

	c.mu.Lock()
	filter := c.filter
	c.mu.Unlock()

	if ev.hasSeverity {
		if !filter.Matches(ev.severity, ev.label) {
			return
		}
	} else if len(filter.Types) > 0 && !filter.Types[ev.label] {
		return
	}

	c.enqueue(outbound{data: data, critical: critical})
}

func (c *Client) enqueue(item outbound) {
	c.qmu.Lock()
	if c.qClosed {
		c.qmu.Unlock()
		return
	}
	if len(c.queue) >= c.queueCap {
		idx := -1
		for i, queued := range c.queue {
			if !queued.critical {
				idx = i
				break
			}
		}
		switch {
		case idx >= 0:
			// Drop the oldest non-critical entry to make room.
			c.queue = append(c.queue[:idx], c.queue[idx+1:]...)
			c.hub.dropped.Add(1)
			metrics.WebSocketDroppedMessagesTotal.Inc()
		case !item.critical:
			// Queue is all critical; the newcomer is droppable.
			c.qmu.Unlock()
			c.hub.dropped.Add(1)
			metrics.WebSocketDroppedMessagesTotal.Inc()
			return
		default:
			// A critical newcomer grows the queue past cap; criticals are
			// never dropped while the session lives.
		}
	}
	c.queue = append(c.queue, item)
	c.qmu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *Client) send(msgType, message string, data interface{}) {
	c.sendWith(msgType, message, data, false)
}

// sendWith marshals a control frame. Control frames count as critical so
// backpressure never reorders an auth reply behind drops.
func (c *Client) sendWith(msgType, message string, data interface{}, closeAfter bool) {
	payload, err := json.Marshal(models.NewServerMessage(msgType, message, data))
	if err != nil {
		return
	}
	c.enqueue(outbound{data: payload, critical: true, closeAfter: closeAfter})
}

// ReadPump pumps messages from the websocket connection into the session
// state machine. Liveness: any frame (including pong) refreshes the read
// deadline; a connection silent past the heartbeat timeout is closed.
func (c *Client) ReadPump() {
	defer func() {
		c.state.Store(stateClosed)
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		c.cancel()
		c.conn.Close()
		metrics.WebSocketConnectionsActive.Dec()
	}()

	c.conn.SetReadDeadline(time.Now().Add(c.hub.heartbeatTimeout))
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.hub.heartbeatTimeout))
		return nil
	})

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			_, message, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("WebSocket error: %v", err)
				}
				return
			}
			c.conn.SetReadDeadline(time.Now().Add(c.hub.heartbeatTimeout))
			c.handleMessage(message)
		}
	}
}

// WritePump drains the outbound queue to the connection and keeps the
// protocol-level ping/pong cycle going.
func (c *Client) WritePump() {
	pingPeriod := c.hub.heartbeatTimeout * 9 / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.cancel()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			return

		case <-c.notify:
			for {
				c.qmu.Lock()
				if len(c.queue) == 0 {
					c.qmu.Unlock()
					break
				}
				item := c.queue[0]
				c.queue = c.queue[1:]
				c.qmu.Unlock()

				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.TextMessage, item.data); err != nil {
					return
				}
				if item.closeAfter {
					c.conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.ClosePolicyViolation, ""))
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close tears the session down.
func (c *Client) Close() {
	c.state.Store(stateClosed)
	c.qmu.Lock()
	c.qClosed = true
	c.qmu.Unlock()
	c.cancel()
}

// handleMessage advances the session state machine by one inbound frame.
func (c *Client) handleMessage(message []byte) {
	var msg models.ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.send(models.MsgError, "malformed message", nil)
		return
	}

	if msg.Action == models.ActionAuthenticate {
		c.authenticate(msg.Token)
		return
	}

	// Every other action requires a prior successful handshake.
	if c.state.Load() == stateConnecting {
		c.violations++
		if c.violations >= maxAuthViolations {
			c.sendWith(models.MsgError, "authentication required, closing connection", nil, true)
			return
		}
		c.send(models.MsgError, "authentication required", nil)
		return
	}

	switch msg.Action {
	case models.ActionSubscribeAlerts:
		c.subscribe(msg)
	case models.ActionUnsubscribeAlerts:
		c.mu.Lock()
		c.filter = models.SubscriptionFilter{}
		c.mu.Unlock()
		c.state.Store(stateAuthenticated)
		c.send(models.MsgUnsubscribed, "alert subscription removed", nil)
	case models.ActionPing:
		c.send(models.MsgPong, "", nil)
	default:
		c.send(models.MsgError, "unknown action: "+msg.Action, nil)
	}
}

func (c *Client) authenticate(token string) {
	claims, err := auth.ValidateToken(c.hub.jwtSecret, token)
	if err != nil {
		// Bad token: tell the client why, then close.
		c.sendWith(models.MsgError, "authentication failed: invalid token", nil, true)
		return
	}
	c.userID = claims.UserID
	c.orgID = claims.OrgID
	if c.state.CompareAndSwap(stateConnecting, stateAuthenticated) {
		c.send(models.MsgAuthenticated, "authenticated", map[string]string{"user_id": c.userID})
	} else {
		c.send(models.MsgAuthenticated, "already authenticated", map[string]string{"user_id": c.userID})
	}
}

func (c *Client) subscribe(msg models.ClientMessage) {
	filter := models.SubscriptionFilter{}
	if len(msg.Severities) > 0 {
		filter.Severities = make(map[models.Severity]bool, len(msg.Severities))
		for _, s := range msg.Severities {
			sev := models.Severity(s)
			if !sev.Valid() {
				c.send(models.MsgError, "unknown severity: "+s, nil)
				return
			}
			filter.Severities[sev] = true
		}
	}
	if len(msg.Types) > 0 {
		filter.Types = make(map[string]bool, len(msg.Types))
		for _, typ := range msg.Types {
			filter.Types[typ] = true
		}
	}

	c.mu.Lock()
	c.filter = filter
	c.mu.Unlock()
	c.state.Store(stateSubscribed)
	c.send(models.MsgSubscribed, "subscribed to alerts", map[string]interface{}{
		"severities": msg.Severities,
		"types":      msg.Types,
	})
}
