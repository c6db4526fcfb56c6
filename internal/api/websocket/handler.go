package websocket

import (
	"context"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vibhukrishnas/sams-sub010/internal/pkg/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin policy is enforced by the CORS layer
	},
}

// Handler upgrades HTTP requests into hub sessions.
type Handler struct {
	hub *Hub
	ctx context.Context
}

// NewHandler creates a new WebSocket handler.
func NewHandler(ctx context.Context, hub *Hub) *Handler {
	return &Handler{hub: hub, ctx: ctx}
}

// ServeWS handles websocket requests from clients. The session starts in the
// Connecting state; nothing is delivered until AUTHENTICATE succeeds.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	clientID := uuid.New().String()
	client := NewClient(h.ctx, h.hub, conn, clientID)

	select {
	case h.hub.register <- client:
	case <-h.hub.ctx.Done():
		conn.Close()
		return
	}
	metrics.WebSocketConnectionsActive.Inc()

	go client.WritePump()
	go client.ReadPump()
}
