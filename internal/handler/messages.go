package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/conversation-actors/internal/middleware"
	"github.com/capitalize-ai/conversation-actors/internal/model"
	"github.com/capitalize-ai/conversation-actors/internal/service"
	"github.com/capitalize-ai/conversation-actors/pkg/logger"
)

const maxBodyBytes = 1 << 20

// MessageHandler handles message endpoints.
type MessageHandler struct {
	service *service.ConversationService
	logger  *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(svc *service.ConversationService, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		service: svc,
		logger:  logger.OrNop(log),
	}
}

// List handles GET /api/v1/conversations/{id}/messages
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := model.ConversationKey{OwnerID: middleware.GetOwnerID(ctx), ConversationID: conversationID}
	history, err := h.service.GetHistory(ctx, key)
	if err != nil {
		h.logger.WithConversation(key.OwnerID, key.ConversationID).Error("failed to get history", zap.Error(err))
		writeError(w, statusFor(err), "failed to get messages")
		return
	}

	writeJSON(w, http.StatusOK, &model.HistoryResponse{
		ConversationID: conversationID,
		Messages:       history,
	})
}

// Send handles POST /api/v1/conversations/{id}/messages
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.SubmitMessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateSubmitRequest(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := model.ConversationKey{OwnerID: middleware.GetOwnerID(ctx), ConversationID: conversationID}
	msg := model.Message{
		Text:        req.Text,
		Role:        model.RoleUser,
		Attachments: req.Attachments,
	}
	if msg.Attachments == nil {
		msg.Attachments = []model.Attachment{}
	}

	reply, err := h.service.Submit(ctx, key, msg)
	if err != nil {
		if errors.Is(err, service.ErrInvalidMessage) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.WithConversation(key.OwnerID, key.ConversationID).Error("failed to send message", zap.Error(err))
		writeError(w, statusFor(err), "failed to send message")
		return
	}

	writeJSON(w, http.StatusOK, &model.SubmitMessageResponse{
		ConversationID: conversationID,
		Message:        reply,
	})
}
