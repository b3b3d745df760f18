package chathub

import "sanctuary/backend/internal/models"

// EventType labels what an Event carries to a live client.
type EventType string

const (
	EventMessage      EventType = "message"
	EventSessionStart EventType = "session_started"
	EventSessionEnd   EventType = "session_ended"
	EventNotice       EventType = "notice"
	EventError        EventType = "error"
)

// Event is what the hub pushes to a connected client.
type Event struct {
	Type      EventType        `json:"type"`
	SessionID string           `json:"session_id,omitempty"`
	Delivery  *models.Delivery `json:"delivery,omitempty"`
	Text      string           `json:"text,omitempty"`
}

// Client is the interface for any live connection (e.g., a counselor's
// WebSocket console). It lets the hub manage connections uniformly.
type Client interface {
	// GetParticipantID returns the user or counselor id behind the connection.
	GetParticipantID() string
	// GetSendChannel returns the channel the hub writes events to.
	GetSendChannel() chan<- Event
	// Run starts the client's read and write pumps.
	Run()
	// Close gracefully shuts down the connection.
	Close()
}
