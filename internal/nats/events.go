package nats

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/conversation-actors/internal/model"
)

const (
	// StreamName is the name of the conversation events stream.
	StreamName = "CONVERSATION_EVENTS"

	// SubjectPrefix is the prefix for all conversation event subjects.
	SubjectPrefix = "conv"
)

// publisher is the subset of jetstream.JetStream used to publish events.
type publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// EventPublisher publishes conversation events to JetStream.
type EventPublisher struct {
	js publisher
}

// NewEventPublisher creates a new event publisher.
func NewEventPublisher(client *Client) *EventPublisher {
	return &EventPublisher{js: client.JetStream()}
}

// EnsureStream ensures the events stream exists with proper configuration.
func EnsureStream(ctx context.Context, client *Client) error {
	js := client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      30 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Conversation lifecycle and failure events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// subjectToken encodes an id so it is a single valid subject token.
func subjectToken(id string) string {
	if id == "" {
		return "_"
	}
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}

// EventSubject returns the subject for an event.
func EventSubject(ownerID, conversationID string, eventType model.EventType) string {
	return fmt.Sprintf("%s.%s.%s.event.%s", SubjectPrefix, subjectToken(ownerID), subjectToken(conversationID), eventType)
}

// Publish publishes an event to JetStream.
func (p *EventPublisher) Publish(ctx context.Context, event *model.ConversationEvent) error {
	subject := EventSubject(event.OwnerID, event.ConversationID, event.Type)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	var opts []jetstream.PublishOpt
	if event.ID != "" {
		opts = append(opts, jetstream.WithMsgID(event.ID))
	}

	if _, err := p.js.Publish(ctx, subject, data, opts...); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}
