package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vibhukrishnas/sams-sub010/internal/models"
)

// event is one fan-out unit. The payload is marshaled once, then matched
// against each live subscription's filter.
type event struct {
	msgType     string // outbound ServerMessage type
	label       string // type label matched against subscription type filters
	severity    models.Severity
	hasSeverity bool // severity filters apply only to alert-like events
	message     string
	payload     interface{}
}

// Type labels used by subscription filters.
const (
	labelCorrelation  = "correlation"
	labelPrediction   = "prediction"
	labelServerStatus = "server_status"
	labelSystemEvent  = "system_event"
)

// Hub maintains active WebSocket sessions and fans events out to them.
// Producers enqueue without waiting on subscriber drain; each session owns a
// bounded outbound queue so one slow client cannot block another.
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Outbound events from producer components
	broadcast chan event

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Mutex for thread-safe operations
	mu sync.RWMutex

	jwtSecret        string
	queueSize        int
	heartbeatTimeout time.Duration

	dropped atomic.Uint64

	// Context for cancellation
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a hub. jwtSecret gates the AUTHENTICATE handshake.
func NewHub(ctx context.Context, jwtSecret string, queueSize int, heartbeatTimeout time.Duration) *Hub {
	if queueSize <= 0 {
		queueSize = 256
	}
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = 60 * time.Second
	}
	hubCtx, cancel := context.WithCancel(ctx)
	return &Hub{
		broadcast:        make(chan event, 256),
		register:         make(chan *Client),
		unregister:       make(chan *Client),
		clients:          make(map[*Client]bool),
		jwtSecret:        jwtSecret,
		queueSize:        queueSize,
		heartbeatTimeout: heartbeatTimeout,
		ctx:              hubCtx,
		cancel:           cancel,
	}
}

// Run starts the hub loop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			delete(h.clients, client)
			h.mu.Unlock()

		case ev := <-h.broadcast:
			h.fanOut(ev)
		}
	}
}

func (h *Hub) fanOut(ev event) {
	data, err := json.Marshal(models.NewServerMessage(ev.msgType, ev.message, ev.payload))
	if err != nil {
		return
	}
	critical := ev.hasSeverity && ev.severity == models.SeverityCritical

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		client.deliver(ev, data, critical)
	}
}

// Stop shuts the hub down and closes every session.
func (h *Hub) Stop() {
	h.cancel()
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.Close()
		delete(h.clients, client)
	}
}

func (h *Hub) publish(ev event) {
	select {
	case h.broadcast <- ev:
	case <-h.ctx.Done():
	}
}

// BroadcastAlert fans an alert out to matching subscriptions.
func (h *Hub) BroadcastAlert(a models.Alert) {
	h.publish(event{
		msgType:     models.MsgAlertNotification,
		label:       string(a.Type),
		severity:    a.Severity,
		hasSeverity: true,
		message:     a.Title,
		payload:     a,
	})
}

// BroadcastGroup fans a correlation group out to matching subscriptions.
func (h *Hub) BroadcastGroup(g *models.CorrelationGroup) {
	h.publish(event{
		msgType:     models.MsgAlertNotification,
		label:       labelCorrelation,
		severity:    g.Severity,
		hasSeverity: true,
		message:     "correlated incident",
		payload:     g,
	})
}

// BroadcastPrediction fans a forecast out to matching subscriptions.
func (h *Hub) BroadcastPrediction(p models.Prediction) {
	h.publish(event{
		msgType:     models.MsgAlertNotification,
		label:       labelPrediction,
		severity:    p.Risk.Severity(),
		hasSeverity: true,
		message:     "predictive alert",
		payload:     p,
	})
}

// BroadcastServerStatus pushes a server status update. Severity filters do
// not apply; type filters do.
func (h *Hub) BroadcastServerStatus(status interface{}) {
	h.publish(event{
		msgType: models.MsgServerStatusUpdate,
		label:   labelServerStatus,
		payload: status,
	})
}

// BroadcastSystemEvent pushes a platform-level event to subscribed sessions.
func (h *Hub) BroadcastSystemEvent(message string, data interface{}) {
	h.publish(event{
		msgType: models.MsgSystemEvent,
		label:   labelSystemEvent,
		message: message,
		payload: data,
	})
}

// ClientCount returns the number of connected clients in any state.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ActiveSubscriptions returns the number of sessions currently subscribed.
func (h *Hub) ActiveSubscriptions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for client := range h.clients {
		if client.state.Load() == stateSubscribed {
			n++
		}
	}
	return n
}

// DroppedMessages reports fan-out drops due to slow clients.
func (h *Hub) DroppedMessages() uint64 { return h.dropped.Load() }
