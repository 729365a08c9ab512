package ws

import "time"

// Frame is the JSON envelope for every message on a live connection.
type Frame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Server -> client frame types
const (
	EventConnected          = "connected"
	EventNotification       = "notification"
	EventPing               = "ping"
	EventForceDisconnect    = "force_disconnect"
	EventInactiveDisconnect = "inactive_disconnect"
	EventSystemMessage      = "system_message"
	EventError              = "error"
)

// Client -> server frame types
const (
	EventPong         = "pong"
	EventUserActivity = "user_activity"
	EventMarkRead     = "mark_read"
)

// Disconnect reasons
const (
	ReasonSuperseded = "superseded"
	ReasonInactive   = "inactive"
	ReasonShutdown   = "server_shutdown"
)

type ConnectedPayload struct {
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

type DisconnectPayload struct {
	Reason        string `json:"reason"`
	InactiveForMs int64  `json:"inactive_for_ms,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type SystemMessagePayload struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type MarkReadPayload struct {
	ID string `json:"id"`
}
