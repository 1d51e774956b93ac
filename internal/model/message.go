package model

import "strings"

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a role a transcript message may carry.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Attachment references a blob stored by an external file-storage collaborator.
type Attachment struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	MediaType   string `json:"media_type"`
	Text        string `json:"text,omitempty"`
}

// Message is one transcript entry. Messages are immutable once appended.
type Message struct {
	Text        string       `json:"text"`
	Role        Role         `json:"role"`
	Attachments []Attachment `json:"attachments"`
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	out := m
	if m.Attachments != nil {
		out.Attachments = make([]Attachment, len(m.Attachments))
		copy(out.Attachments, m.Attachments)
	}
	return out
}

// String renders the message for prompts and logs.
func (m Message) String() string {
	var b strings.Builder
	b.WriteString(m.Text)
	for _, a := range m.Attachments {
		b.WriteString("\n[attachment ")
		b.WriteString(a.DisplayName)
		b.WriteString(" (")
		b.WriteString(a.MediaType)
		b.WriteString(")]")
		if a.Text != "" {
			b.WriteString(" ")
			b.WriteString(a.Text)
		}
	}
	return b.String()
}

// NewAssistantMessage builds an assistant-role message with no attachments.
func NewAssistantMessage(text string) Message {
	return Message{Text: text, Role: RoleAssistant, Attachments: []Attachment{}}
}

// SubmitMessageRequest is the inbound body for a user turn.
type SubmitMessageRequest struct {
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// HistoryResponse is the response for a history read.
type HistoryResponse struct {
	ConversationID string    `json:"conversation_id"`
	Messages       []Message `json:"messages"`
}

// SubmitMessageResponse is the response for a user turn.
type SubmitMessageResponse struct {
	ConversationID string  `json:"conversation_id"`
	Message        Message `json:"message"`
}
