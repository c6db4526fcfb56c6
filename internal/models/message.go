package models

import "time"

// WebSocket session protocol. Clients send actions; the server replies with
// typed messages carrying a data payload and server timestamp.

// Client actions.
const (
	ActionAuthenticate      = "AUTHENTICATE"
	ActionSubscribeAlerts   = "SUBSCRIBE_ALERTS"
	ActionUnsubscribeAlerts = "UNSUBSCRIBE_ALERTS"
	ActionPing              = "PING"
)

// Server message types.
const (
	MsgAuthenticated      = "AUTHENTICATED"
	MsgSubscribed         = "SUBSCRIBED"
	MsgUnsubscribed       = "UNSUBSCRIBED"
	MsgAlertNotification  = "ALERT_NOTIFICATION"
	MsgServerStatusUpdate = "SERVER_STATUS_UPDATE"
	MsgSystemEvent        = "SYSTEM_EVENT"
	MsgError              = "ERROR"
	MsgPong               = "PONG"
)

// ClientMessage is any inbound frame from a WebSocket client.
type ClientMessage struct {
	Action     string   `json:"action"`
	Token      string   `json:"token,omitempty"`
	Types      []string `json:"types,omitempty"`
	Severities []string `json:"severities,omitempty"`
}

// ServerMessage is the envelope for every outbound frame.
type ServerMessage struct {
	Type      string      `json:"type"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewServerMessage stamps an outbound frame with the current server time.
func NewServerMessage(msgType, message string, data interface{}) ServerMessage {
	return ServerMessage{
		Type:      msgType,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// SubscriptionFilter is the per-session event filter. Empty sets match everything.
type SubscriptionFilter struct {
	Severities map[Severity]bool
	Types      map[string]bool
}

// Matches reports whether an event with the given severity and type passes the filter.
func (f SubscriptionFilter) Matches(severity Severity, eventType string) bool {
	if len(f.Severities) > 0 && !f.Severities[severity] {
		return false
	}
	if len(f.Types) > 0 && !f.Types[eventType] {
		return false
	}
	return true
}
