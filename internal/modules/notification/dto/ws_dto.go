package dto

import (
	"encoding/json"
	"time"
)

// Websocket event names.
const (
	EventNotification = "notification"
	EventSubscribe    = "subscribe"
	EventUnsubscribe  = "unsubscribe"
	EventPing         = "ping"
	EventPong         = "pong"
	EventError        = "error"
)

// ClientFrame is a client-initiated request. ID is optional and echoed back.
type ClientFrame struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ServerFrame is anything the server pushes to a client.
type ServerFrame struct {
	Event string `json:"event"`
	ID    string `json:"id,omitempty"`
	Data  any    `json:"data"`
}

type SubscribeRequest struct {
	UserID   string   `json:"userId,omitempty"`
	Channels []string `json:"channels,omitempty"`
}

type SubscribedTo struct {
	UserID   string   `json:"userId,omitempty"`
	Channels []string `json:"channels"`
}

type SubscribeAck struct {
	Success      bool         `json:"success"`
	SubscribedTo SubscribedTo `json:"subscribedTo"`
}

type UnsubscribeAck struct {
	Success bool `json:"success"`
}

type PongData struct {
	Timestamp time.Time `json:"timestamp"`
}

type ErrorData struct {
	Message string `json:"message"`
}
