// Package model defines data structures for conversation actors.
package model

import (
	"encoding/json"
	"time"
)

// AnonymousOwner is the owner id used for conversations without a known user.
const AnonymousOwner = ""

// ConversationKey identifies a Conversation Actor.
type ConversationKey struct {
	OwnerID        string
	ConversationID string
}

// Anonymous reports whether the key has no known owner.
func (k ConversationKey) Anonymous() bool {
	return k.OwnerID == AnonymousOwner
}

// String renders the key for logs.
func (k ConversationKey) String() string {
	owner := k.OwnerID
	if k.Anonymous() {
		owner = "anonymous"
	}
	return owner + "/" + k.ConversationID
}

// ConversationThread is the durable state of one conversation: the opaque
// agent continuation token plus the append-only transcript.
type ConversationThread struct {
	OwnerID   string          `json:"owner_id"`
	Token     json.RawMessage `json:"token,omitempty"`
	Messages  []Message       `json:"messages"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Empty reports whether nothing has been recorded in the thread yet.
func (t *ConversationThread) Empty() bool {
	return len(t.Messages) == 0
}

// Clone returns a deep copy of the thread.
func (t *ConversationThread) Clone() *ConversationThread {
	out := &ConversationThread{
		OwnerID:   t.OwnerID,
		UpdatedAt: t.UpdatedAt,
		Messages:  make([]Message, len(t.Messages)),
	}
	if t.Token != nil {
		out.Token = append(json.RawMessage(nil), t.Token...)
	}
	for i, m := range t.Messages {
		out.Messages[i] = m.Clone()
	}
	return out
}

// IndexEntry is one conversation listed for an owner.
type IndexEntry struct {
	ConversationID string `json:"conversation_id"`
	Title          string `json:"title"`
}

// ConversationIndex is the durable state of one owner's index.
type ConversationIndex struct {
	Entries map[string]IndexEntry `json:"entries"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []IndexEntry `json:"conversations"`
	Total         int          `json:"total"`
}
