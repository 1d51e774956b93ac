package conversation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/conversation-actors/internal/model"
	"github.com/capitalize-ai/conversation-actors/internal/store"
	"github.com/capitalize-ai/conversation-actors/pkg/logger"
	"github.com/capitalize-ai/conversation-actors/pkg/metrics"
)

const (
	// IndexKind is the state store entity kind of index actors.
	IndexKind = "conversation_index"

	indexSlot = "entries"

	// PlaceholderTitle is used when no title could be generated.
	PlaceholderTitle = "Some conversation going on"

	maxTitleWords = 10
)

// Summarizer produces a short title for a conversation from its first message.
type Summarizer interface {
	Summarize(ctx context.Context, seed model.Message) (string, error)
}

// IndexDeps are the collaborators of an index actor.
type IndexDeps struct {
	Store      store.Store
	Summarizer Summarizer
	Logger     *logger.Logger
}

// IndexActor owns the conversation list of one owner.
type IndexActor struct {
	ownerID string
	deps    IndexDeps
	index   *model.ConversationIndex
	logger  *logger.Logger
}

// IndexRef is where the index of ownerID is persisted.
func IndexRef(ownerID string) store.Ref {
	return store.Ref{Kind: IndexKind, Key: ownerID, Slot: indexSlot}
}

// ActivateIndex loads the persisted index of ownerID, or starts an empty one.
func ActivateIndex(ctx context.Context, ownerID string, deps IndexDeps) (*IndexActor, error) {
	if deps.Store == nil {
		return nil, errors.New("index actor requires a store")
	}

	index, _, err := store.Load[model.ConversationIndex](ctx, deps.Store, IndexRef(ownerID))
	if err != nil {
		return nil, err
	}
	if index == nil {
		index = &model.ConversationIndex{}
	}
	if index.Entries == nil {
		index.Entries = make(map[string]model.IndexEntry)
	}

	return &IndexActor{
		ownerID: ownerID,
		deps:    deps,
		index:   index,
		logger:  logger.OrNop(deps.Logger).Named("index").With(zap.String("owner_id", ownerID)),
	}, nil
}

// RecordConversation adds conversationID with a generated title unless it is
// already indexed. It reports whether an entry was added.
func (a *IndexActor) RecordConversation(ctx context.Context, conversationID string, seed model.Message) (bool, error) {
	if _, ok := a.index.Entries[conversationID]; ok {
		return false, nil
	}

	entry := model.IndexEntry{ConversationID: conversationID, Title: a.title(ctx, seed)}

	next := &model.ConversationIndex{Entries: make(map[string]model.IndexEntry, len(a.index.Entries)+1)}
	for id, e := range a.index.Entries {
		next.Entries[id] = e
	}
	next.Entries[conversationID] = entry

	// A slow summarizer may use up ctx; the placeholder entry is still saved.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := store.Save(persistCtx, a.deps.Store, IndexRef(a.ownerID), next); err != nil {
		return false, fmt.Errorf("failed to persist index: %w", err)
	}
	a.index = next

	a.logger.Info("conversation indexed",
		zap.String("conversation_id", conversationID),
		zap.String("title", entry.Title),
	)
	return true, nil
}

// ListConversations returns every indexed conversation, sorted by title.
func (a *IndexActor) ListConversations() []model.IndexEntry {
	entries := make([]model.IndexEntry, 0, len(a.index.Entries))
	for _, e := range a.index.Entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Title != entries[j].Title {
			return entries[i].Title < entries[j].Title
		}
		return entries[i].ConversationID < entries[j].ConversationID
	})
	return entries
}

func (a *IndexActor) title(ctx context.Context, seed model.Message) string {
	if a.deps.Summarizer == nil {
		metrics.IndexTitlesTotal.WithLabelValues("placeholder").Inc()
		return PlaceholderTitle
	}

	raw, err := a.deps.Summarizer.Summarize(ctx, seed)
	if err != nil {
		a.logger.Warn("failed to summarize conversation", zap.Error(err))
		metrics.IndexTitlesTotal.WithLabelValues("placeholder").Inc()
		return PlaceholderTitle
	}

	title := CleanTitle(raw)
	if title == "" {
		metrics.IndexTitlesTotal.WithLabelValues("placeholder").Inc()
		return PlaceholderTitle
	}

	metrics.IndexTitlesTotal.WithLabelValues("generated").Inc()
	return title
}

// CleanTitle strips quoting and keeps at most ten words.
func CleanTitle(raw string) string {
	words := strings.Fields(strings.Trim(strings.TrimSpace(raw), "\"'`"))
	if len(words) > maxTitleWords {
		words = words[:maxTitleWords]
	}
	return strings.Trim(strings.Join(words, " "), "\"'`")
}
