package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/capitalize-ai/conversation-actors/internal/orchestration"
	"github.com/capitalize-ai/conversation-actors/pkg/logger"
)

const managerInstructions = `You coordinate a team of assistants answering a user's request.
Pick which assistant should speak next, or decide the answer is complete.
Reply with only a JSON object: {"next": "<assistant name>", "done": <true|false>}.
Set "done" to true only when the last response fully answers the request.`

// Manager asks a chat model to choose the next speaker of a manager-driven run.
type Manager struct {
	client Client
	model  string
	logger *logger.Logger
}

// NewManager creates a manager.
func NewManager(client Client, model string, log *logger.Logger) *Manager {
	return &Manager{
		client: client,
		model:  model,
		logger: logger.OrNop(log).Named("manager"),
	}
}

// Decide implements orchestration.Manager. An unparseable decision ends the
// run once anyone has spoken, and defers to list order before that.
func (m *Manager) Decide(ctx context.Context, run *orchestration.Run) (orchestration.Decision, error) {
	resp, err := m.client.Complete(ctx, &CompletionRequest{
		Model:       m.model,
		System:      managerInstructions,
		Messages:    []ChatMessage{{Role: "user", Content: managerPrompt(run)}},
		MaxTokens:   256,
		Temperature: 0,
	})
	if err != nil {
		return orchestration.Decision{}, fmt.Errorf("%s completion failed: %w", m.client.Name(), err)
	}

	decision, ok := parseDecision(resp.Content)
	if !ok {
		m.logger.Warn("unparseable manager decision",
			zap.Int("round", run.Round),
			zap.String("raw", resp.Content),
		)
		return orchestration.Decision{Done: run.Round > 0}, nil
	}
	return decision, nil
}

func parseDecision(raw string) (orchestration.Decision, bool) {
	doc := orchestration.ExtractJSON(raw)
	if doc == "" || !gjson.Valid(doc) {
		return orchestration.Decision{}, false
	}
	parsed := gjson.Parse(doc)
	next, done := parsed.Get("next"), parsed.Get("done")
	if !next.Exists() && !done.Exists() {
		return orchestration.Decision{}, false
	}
	return orchestration.Decision{
		Next: strings.TrimSpace(next.String()),
		Done: done.Bool(),
	}, true
}

func managerPrompt(run *orchestration.Run) string {
	var b strings.Builder
	b.WriteString("Assistants:\n")
	for _, a := range run.Agents {
		fmt.Fprintf(&b, "- %s: %s\n", a.Name(), a.Description())
	}
	b.WriteString("\nRequest:\n")
	b.WriteString(run.Utterance)
	if len(run.Transcript) == 0 {
		b.WriteString("\n\nNobody has responded yet.")
	} else {
		b.WriteString("\n\nResponses so far:\n\n")
		b.WriteString(orchestration.RenderTranscript(run.Transcript))
	}
	fmt.Fprintf(&b, "\n\n%d of the allowed responses have been used.", run.Round)
	return b.String()
}

var _ orchestration.Manager = (*Manager)(nil)
