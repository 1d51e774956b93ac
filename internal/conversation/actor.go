// Package conversation implements the conversation and conversation index
// actors. Both are hosted by internal/actor, which guarantees that calls for
// one key never overlap; the actors themselves hold no locks.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/conversation-actors/internal/model"
	"github.com/capitalize-ai/conversation-actors/internal/orchestration"
	"github.com/capitalize-ai/conversation-actors/internal/store"
	"github.com/capitalize-ai/conversation-actors/pkg/logger"
	"github.com/capitalize-ai/conversation-actors/pkg/metrics"
	"github.com/capitalize-ai/conversation-actors/pkg/tracing"
)

const (
	// Kind is the state store entity kind of conversation actors.
	Kind = "conversation"

	threadSlot = "thread"

	// TimeoutReply is returned when orchestration misses its deadline.
	TimeoutReply = "Request timed out."

	errorReplyPrefix = "An error occurred: "

	persistTimeout = 10 * time.Second
	eventTimeout   = 5 * time.Second
)

// Orchestrator produces one reply for one user turn. *orchestration.Engine
// implements it.
type Orchestrator interface {
	Run(ctx context.Context, req orchestration.Request) (*orchestration.Reply, error)
}

// EventSink receives conversation events. Delivery is best effort.
type EventSink interface {
	Publish(ctx context.Context, event *model.ConversationEvent) error
}

// IndexNotifier is told when a known owner's conversation records its first
// turn. Implementations must return immediately.
type IndexNotifier interface {
	ConversationStarted(key model.ConversationKey, seed model.Message)
}

// Deps are the collaborators of a conversation actor.
type Deps struct {
	Store    store.Store
	Engine   Orchestrator
	Events   EventSink
	Notifier IndexNotifier
	Logger   *logger.Logger
	Now      func() time.Time
}

// Actor owns the thread of one conversation.
type Actor struct {
	key    model.ConversationKey
	deps   Deps
	thread *model.ConversationThread
	logger *logger.Logger
	tracer trace.Tracer
}

// ThreadRef is where the thread of key is persisted.
func ThreadRef(key model.ConversationKey) store.Ref {
	return store.Ref{Kind: Kind, Key: key.OwnerID + "\x00" + key.ConversationID, Slot: threadSlot}
}

// Activate loads the persisted thread of key, or starts an empty one.
func Activate(ctx context.Context, key model.ConversationKey, deps Deps) (*Actor, error) {
	if deps.Store == nil || deps.Engine == nil {
		return nil, errors.New("conversation actor requires a store and an engine")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	thread, found, err := store.Load[model.ConversationThread](ctx, deps.Store, ThreadRef(key))
	if err != nil {
		return nil, err
	}
	if !found {
		thread = &model.ConversationThread{OwnerID: key.OwnerID, Messages: []model.Message{}}
	}

	a := &Actor{
		key:    key,
		deps:   deps,
		thread: thread,
		logger: logger.OrNop(deps.Logger).Named("conversation").WithConversation(key.OwnerID, key.ConversationID),
		tracer: tracing.Tracer(),
	}
	a.logger.Debug("conversation loaded", zap.Bool("found", found), zap.Int("messages", len(thread.Messages)))

	return a, nil
}

// Key returns the actor's identity.
func (a *Actor) Key() model.ConversationKey {
	return a.key
}

// HandleMessage runs one user turn. Orchestration failures become fallback
// replies; the user message and the reply are persisted before returning in
// every case. Only a persistence failure is returned as an error, in which
// case nothing changes.
func (a *Actor) HandleMessage(ctx context.Context, incoming model.Message) (model.Message, error) {
	ctx, span := a.tracer.Start(ctx, "conversation.handle_message", trace.WithAttributes(
		attribute.String("conversation.id", a.key.ConversationID),
		attribute.Bool("conversation.anonymous", a.key.Anonymous()),
	))
	defer span.End()

	incoming = incoming.Clone()
	incoming.Role = model.RoleUser
	if incoming.Attachments == nil {
		incoming.Attachments = []model.Attachment{}
	}

	started := a.thread.Empty()
	next := a.thread.Clone()

	// Only the orchestration deadline ends a run; a departed caller does not.
	var reply model.Message
	result, err := a.deps.Engine.Run(context.WithoutCancel(ctx), orchestration.Request{
		Utterance:   incoming.Text,
		Attachments: incoming.Attachments,
		Token:       a.thread.Token,
	})
	if err != nil {
		reply = a.fallback(err)
		span.RecordError(err)
	} else {
		reply = result.Message
		next.Token = result.Token
	}

	next.Messages = append(next.Messages, incoming, reply.Clone())
	next.UpdatedAt = a.deps.Now().UTC()

	// The turn is recorded even when the caller has gone away.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := store.Save(persistCtx, a.deps.Store, ThreadRef(a.key), next); err != nil {
		a.logger.Error("failed to persist conversation", zap.Error(err))
		span.RecordError(err)
		return model.Message{}, fmt.Errorf("conversation %s not recorded: %w", a.key, err)
	}
	a.thread = next

	metrics.MessagesTotal.WithLabelValues(string(model.RoleUser)).Inc()
	metrics.MessagesTotal.WithLabelValues(string(model.RoleAssistant)).Inc()

	if started {
		a.publish(model.EventTypeCreated, "first message recorded")
		if !a.key.Anonymous() && a.deps.Notifier != nil {
			a.deps.Notifier.ConversationStarted(a.key, incoming.Clone())
		}
	}

	return reply, nil
}

// History returns the transcript if ownerID owns the conversation and an
// empty sequence otherwise.
func (a *Actor) History(ownerID string) []model.Message {
	if ownerID != a.thread.OwnerID {
		a.logger.Warn("history requested by another owner", zap.String("requester", ownerID))
		return []model.Message{}
	}
	return a.thread.Clone().Messages
}

// Thread returns a copy of the current thread.
func (a *Actor) Thread() *model.ConversationThread {
	return a.thread.Clone()
}

func (a *Actor) fallback(err error) model.Message {
	if errors.Is(err, orchestration.ErrTimeout) {
		a.logger.Warn("orchestration timed out", zap.Error(err))
		a.publish(model.EventTypeTimeout, err.Error())
		return model.NewAssistantMessage(TimeoutReply)
	}

	a.logger.Error("orchestration failed", zap.Error(err))
	a.publish(model.EventTypeError, err.Error())
	return model.NewAssistantMessage(errorReplyPrefix + err.Error())
}

// publish sends an event without blocking the reply path.
func (a *Actor) publish(eventType model.EventType, reason string) {
	if a.deps.Events == nil {
		return
	}

	event := &model.ConversationEvent{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: a.key.ConversationID,
		OwnerID:        a.key.OwnerID,
		Type:           eventType,
		Reason:         reason,
		CreatedAt:      a.deps.Now().UTC(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		defer cancel()
		if err := a.deps.Events.Publish(ctx, event); err != nil {
			a.logger.Warn("failed to publish conversation event",
				zap.String("event_type", string(eventType)),
				zap.Error(err),
			)
		}
	}()
}
