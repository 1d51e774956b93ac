package middleware

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/capitalize-ai/conversation-actors/internal/model"
)

const (
	maxContentLength = 100000 // ~100KB
	maxAttachments   = 10
	maxNameLength    = 256
)

// ValidateMessageContent validates message text. Text may be empty when the
// message carries attachments.
func ValidateMessageContent(content string, attachments int) error {
	if strings.TrimSpace(content) == "" && attachments == 0 {
		return errors.New("content cannot be empty")
	}
	if len(content) > maxContentLength {
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateConversationID validates a conversation ID.
func ValidateConversationID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid conversation ID format")
	}
	return nil
}

// ValidateAttachments validates attachment handles. Blobs are stored
// elsewhere, so only the references are checked.
func ValidateAttachments(attachments []model.Attachment) error {
	if len(attachments) > maxAttachments {
		return fmt.Errorf("at most %d attachments are allowed", maxAttachments)
	}
	for i, a := range attachments {
		if strings.TrimSpace(a.ID) == "" {
			return fmt.Errorf("attachment %d is missing an id", i)
		}
		if len(a.DisplayName) > maxNameLength || !utf8.ValidString(a.DisplayName) {
			return fmt.Errorf("attachment %d has an invalid display name", i)
		}
		if a.MediaType == "" || !strings.Contains(a.MediaType, "/") {
			return fmt.Errorf("attachment %d has an invalid media type", i)
		}
		if len(a.Text) > maxContentLength {
			return fmt.Errorf("attachment %d text exceeds maximum length", i)
		}
	}
	return nil
}

// ValidateSubmitRequest validates an inbound user turn.
func ValidateSubmitRequest(req *model.SubmitMessageRequest) error {
	if err := ValidateMessageContent(req.Text, len(req.Attachments)); err != nil {
		return err
	}
	return ValidateAttachments(req.Attachments)
}
