package model

import (
	"time"
)

// EventType represents the type of conversation event.
type EventType string

const (
	EventTypeError   EventType = "error"
	EventTypeTimeout EventType = "timeout"
	EventTypeCreated EventType = "created"
)

// ConversationEvent is an out-of-band notification about a conversation,
// published to the event stream. Events never carry transcript content.
type ConversationEvent struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	OwnerID        string         `json:"owner_id"`
	Type           EventType      `json:"type"`
	Reason         string         `json:"reason"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}
