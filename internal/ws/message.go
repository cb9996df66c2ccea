package ws

type EventType string

const (
	EventConnected      EventType = "connected"
	EventSessionRevoked EventType = "session_revoked"
	EventUserDisabled   EventType = "user_disabled"
	EventPing           EventType = "ping"
	EventPong           EventType = "pong"
	EventError          EventType = "error"
)

// IncomingMessage is what the client sends to the server.
type IncomingMessage struct {
	Type EventType `json:"type"`
}

// OutgoingMessage is what the server sends to the client.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

type ConnectedPayload struct {
	UserID string `json:"user_id"`
	Room   string `json:"room"`
}

// RevokedPayload accompanies session_revoked and user_disabled; the server closes the
// connection right after sending it.
type RevokedPayload struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason,omitempty"`
}

// envelope is the cross-instance form of a room delivery.
type envelope struct {
	Room    string          `json:"room"`
	Message OutgoingMessage `json:"message"`
	// Close disconnects every client of the room after delivering Message.
	Close bool `json:"close,omitempty"`
}
