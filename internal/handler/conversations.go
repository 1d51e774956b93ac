// Package handler provides HTTP handlers for the API.
package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/conversation-actors/internal/middleware"
	"github.com/capitalize-ai/conversation-actors/internal/model"
	"github.com/capitalize-ai/conversation-actors/internal/service"
	"github.com/capitalize-ai/conversation-actors/pkg/logger"
)

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	service *service.ConversationService
	logger  *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(svc *service.ConversationService, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		service: svc,
		logger:  logger.OrNop(log),
	}
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID := middleware.GetOwnerID(ctx)

	entries, err := h.service.ListConversations(ctx, ownerID)
	if err != nil {
		h.logger.Error("failed to list conversations", zap.String("owner_id", ownerID), zap.Error(err))
		writeError(w, statusFor(err), "failed to list conversations")
		return
	}

	writeJSON(w, http.StatusOK, &model.ListConversationsResponse{
		Conversations: entries,
		Total:         len(entries),
	})
}
