package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/capitalize-ai/conversation-actors/internal/model"
)

const summarizerInstructions = "You are a helpful chat summary agent that summarizes chat conversations. " +
	"I don't need more than 10 words. So try to ensure it is below it. The shorter the better. " +
	"Reply with the summary only."

// Summarizer produces short conversation titles with a chat model.
type Summarizer struct {
	client Client
	model  string
}

// NewSummarizer creates a summarizer.
func NewSummarizer(client Client, model string) *Summarizer {
	return &Summarizer{client: client, model: model}
}

// Summarize returns a short title for a conversation opened by msg.
func (s *Summarizer) Summarize(ctx context.Context, msg model.Message) (string, error) {
	resp, err := s.client.Complete(ctx, &CompletionRequest{
		Model:     s.model,
		System:    summarizerInstructions,
		Messages:  []ChatMessage{{Role: string(model.RoleUser), Content: msg.String()}},
		MaxTokens: 64,
	})
	if err != nil {
		return "", fmt.Errorf("%s completion failed: %w", s.client.Name(), err)
	}
	return strings.TrimSpace(resp.Content), nil
}
