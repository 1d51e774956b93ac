// Package service exposes conversations over the actor hosts.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/conversation-actors/internal/actor"
	"github.com/capitalize-ai/conversation-actors/internal/conversation"
	"github.com/capitalize-ai/conversation-actors/internal/model"
	"github.com/capitalize-ai/conversation-actors/internal/store"
	"github.com/capitalize-ai/conversation-actors/pkg/logger"
)

const defaultIndexTimeout = 30 * time.Second

var (
	// ErrInvalidMessage is returned for a turn with neither text nor attachments.
	ErrInvalidMessage = errors.New("message must have text or attachments")

	// ErrMissingConversationID is returned when no conversation id is given.
	ErrMissingConversationID = errors.New("conversation id is required")
)

// Config configures a ConversationService.
type Config struct {
	Store      store.Store
	Engine     conversation.Orchestrator
	Summarizer conversation.Summarizer
	Events     conversation.EventSink

	IdleTTL       time.Duration
	SweepInterval time.Duration
	MailboxSize   int
	// IndexTimeout bounds one background index update.
	IndexTimeout time.Duration
}

// ConversationService routes user turns, history reads and index reads to
// the conversation and index actors.
type ConversationService struct {
	conversations *actor.Host[model.ConversationKey, *conversation.Actor]
	indexes       *actor.Host[string, *conversation.IndexActor]
	indexTimeout  time.Duration
	logger        *logger.Logger

	// pending background index updates
	background sync.WaitGroup
}

// NewConversationService creates the service and its actor hosts.
func NewConversationService(cfg Config, log *logger.Logger) *ConversationService {
	log = logger.OrNop(log)
	if cfg.IndexTimeout <= 0 {
		cfg.IndexTimeout = defaultIndexTimeout
	}

	s := &ConversationService{
		indexTimeout: cfg.IndexTimeout,
		logger:       log.Named("conversation-service"),
	}

	convDeps := conversation.Deps{
		Store:    cfg.Store,
		Engine:   cfg.Engine,
		Events:   cfg.Events,
		Notifier: s,
		Logger:   log,
	}
	s.conversations = actor.NewHost[model.ConversationKey, *conversation.Actor](
		actor.Options{
			Kind:          conversation.Kind,
			IdleTTL:       cfg.IdleTTL,
			SweepInterval: cfg.SweepInterval,
			MailboxSize:   cfg.MailboxSize,
			Logger:        log,
		},
		func(ctx context.Context, key model.ConversationKey) (*conversation.Actor, error) {
			return conversation.Activate(ctx, key, convDeps)
		},
		nil,
	)

	indexDeps := conversation.IndexDeps{
		Store:      cfg.Store,
		Summarizer: cfg.Summarizer,
		Logger:     log,
	}
	s.indexes = actor.NewHost[string, *conversation.IndexActor](
		actor.Options{
			Kind:          conversation.IndexKind,
			IdleTTL:       cfg.IdleTTL,
			SweepInterval: cfg.SweepInterval,
			MailboxSize:   cfg.MailboxSize,
			Logger:        log,
		},
		func(ctx context.Context, ownerID string) (*conversation.IndexActor, error) {
			return conversation.ActivateIndex(ctx, ownerID, indexDeps)
		},
		nil,
	)

	return s
}

// Submit delivers one user turn and returns the reply. An error means the turn
// was not durably recorded.
func (s *ConversationService) Submit(ctx context.Context, key model.ConversationKey, msg model.Message) (model.Message, error) {
	if strings.TrimSpace(key.ConversationID) == "" {
		return model.Message{}, ErrMissingConversationID
	}
	if strings.TrimSpace(msg.Text) == "" && len(msg.Attachments) == 0 {
		return model.Message{}, ErrInvalidMessage
	}

	var reply model.Message
	err := s.conversations.Do(ctx, key, func(ctx context.Context, a *conversation.Actor) error {
		var err error
		reply, err = a.HandleMessage(ctx, msg)
		return err
	})
	if err != nil {
		return model.Message{}, fmt.Errorf("failed to submit message: %w", err)
	}
	return reply, nil
}

// GetHistory returns the transcript of a conversation owned by ownerID, or an
// empty sequence.
func (s *ConversationService) GetHistory(ctx context.Context, key model.ConversationKey) ([]model.Message, error) {
	if strings.TrimSpace(key.ConversationID) == "" {
		return nil, ErrMissingConversationID
	}

	var history []model.Message
	err := s.conversations.Do(ctx, key, func(_ context.Context, a *conversation.Actor) error {
		history = a.History(key.OwnerID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return history, nil
}

// ListConversations returns the index of ownerID. Anonymous owners have none.
func (s *ConversationService) ListConversations(ctx context.Context, ownerID string) ([]model.IndexEntry, error) {
	if ownerID == model.AnonymousOwner {
		return []model.IndexEntry{}, nil
	}

	var entries []model.IndexEntry
	err := s.indexes.Do(ctx, ownerID, func(_ context.Context, a *conversation.IndexActor) error {
		entries = a.ListConversations()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return entries, nil
}

// ConversationStarted records a new conversation in its owner's index in the
// background. It never blocks and failures are only logged.
func (s *ConversationService) ConversationStarted(key model.ConversationKey, seed model.Message) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.indexTimeout)
		defer cancel()

		err := s.indexes.Do(ctx, key.OwnerID, func(ctx context.Context, a *conversation.IndexActor) error {
			_, err := a.RecordConversation(ctx, key.ConversationID, seed)
			return err
		})
		if err != nil {
			s.logger.Warn("failed to index conversation",
				zap.String("owner_id", key.OwnerID),
				zap.String("conversation_id", key.ConversationID),
				zap.Error(err),
			)
		}
	}()
}

// ActiveConversations returns the number of activated conversation actors.
func (s *ConversationService) ActiveConversations() int {
	return s.conversations.Len()
}

// Close drains the conversation host, waits for background index updates and
// then drains the index host.
func (s *ConversationService) Close(ctx context.Context) error {
	if err := s.conversations.Close(ctx); err != nil {
		return fmt.Errorf("failed to close conversation actors: %w", err)
	}

	done := make(chan struct{})
	go func() {
		s.background.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := s.indexes.Close(ctx); err != nil {
		return fmt.Errorf("failed to close index actors: %w", err)
	}
	return nil
}

var _ conversation.IndexNotifier = (*ConversationService)(nil)
