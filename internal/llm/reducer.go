package llm

import (
	"context"
	"fmt"

	"github.com/capitalize-ai/conversation-actors/internal/model"
	"github.com/capitalize-ai/conversation-actors/internal/orchestration"
)

const reducerInstructions = `Rewrite the assistant response you are given as a JSON object with this shape:
{"text": "<the full answer for the user>", "attachments": [{"id": "...", "display_name": "...", "media_type": "..."}]}
Keep the answer's content unchanged. Use an empty attachments list unless the response refers to files by id.
Reply with only the JSON object.`

// StructuredReducer coerces free-form agent output into a reply. Output that
// already parses is used as is; anything else is rewritten by a chat model.
type StructuredReducer struct {
	client Client
	model  string
	parser orchestration.JSONReducer
}

// NewStructuredReducer creates a model-backed reducer.
func NewStructuredReducer(client Client, model string) *StructuredReducer {
	return &StructuredReducer{client: client, model: model}
}

// Reduce implements orchestration.Reducer.
func (r *StructuredReducer) Reduce(ctx context.Context, raw string) (model.Message, error) {
	if msg, err := r.parser.Reduce(ctx, raw); err == nil {
		return msg, nil
	}

	resp, err := r.client.Complete(ctx, &CompletionRequest{
		Model:     r.model,
		System:    reducerInstructions,
		Messages:  []ChatMessage{{Role: string(model.RoleUser), Content: raw}},
		MaxTokens: 4096,
	})
	if err != nil {
		return model.Message{}, fmt.Errorf("%s completion failed: %w", r.client.Name(), err)
	}

	return r.parser.Reduce(ctx, resp.Content)
}

var _ orchestration.Reducer = (*StructuredReducer)(nil)
