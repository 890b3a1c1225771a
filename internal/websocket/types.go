package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeTransition represents a chat pipeline state transition
	EventTypeTransition EventType = "transition"
	// EventTypeRequestLog represents a request logging event
	EventTypeRequestLog EventType = "request_log"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
	// EventTypePong answers a client ping
	EventTypePong EventType = "pong"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	Data          any       `json:"data"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// TransitionEvent describes one pipeline step. It carries states and
// timings only, never prompt, response or entity text.
type TransitionEvent struct {
	CorrelationID string  `json:"correlation_id"`
	SessionID     string  `json:"session_id"`
	From          string  `json:"from"`
	Event         string  `json:"event"`
	To            string  `json:"to"`
	Committed     bool    `json:"committed"`
	Failed        bool    `json:"failed"`
	Warnings      int     `json:"warnings"`
	ElapsedMS     float64 `json:"elapsed_ms"`
}

// RequestLogEvent represents a request logging event
type RequestLogEvent struct {
	CorrelationID string        `json:"correlation_id"`
	Method        string        `json:"method"`
	Path          string        `json:"path"`
	StatusCode    int           `json:"status_code"`
	ClientIP      string        `json:"client_ip"`
	UserAgent     string        `json:"user_agent,omitempty"`
	Duration      time.Duration `json:"duration"`
	RequestSize   int64         `json:"request_size"`
	ResponseSize  int64         `json:"response_size"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action   string `json:"action"` // "connected", "disconnected"
	ClientID string `json:"client_id"`
	ClientIP string `json:"client_ip"`
	Message  string `json:"message,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type string               `json:"type"`
	Data *SubscriptionRequest `json:"data,omitempty"`
}

// SubscriptionRequest represents a client subscription request
type SubscriptionRequest struct {
	Events    []EventType `json:"events"`
	SessionID string      `json:"session_id,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID           string
	Conn         *websocket.Conn
	Send         chan Event
	Subscription *SubscriptionRequest
	ConnectedAt  time.Time
	IP           string
	UserAgent    string
}
