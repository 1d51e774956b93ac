package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/conversation-actors/internal/model"
	"github.com/capitalize-ai/conversation-actors/internal/orchestration"
	"github.com/capitalize-ai/conversation-actors/pkg/logger"
)

const (
	// DefaultInstructions is the system prompt of the default chat agent.
	DefaultInstructions = "You are a helpful assistant. When the user asks a question, provide a clear and accurate response."

	defaultMaxHistory = 40
)

// AgentConfig configures a ChatAgent.
type AgentConfig struct {
	Name         string
	Description  string
	Instructions string
	Model        string
	MaxTokens    int
	Temperature  float64
	// MaxHistory bounds the dialogue kept in the continuation token.
	MaxHistory int
}

// ChatAgent is a resumable orchestration agent backed by a chat model. Its
// continuation token is the JSON encoded dialogue.
type ChatAgent struct {
	client Client
	cfg    AgentConfig
	logger *logger.Logger
}

// dialogue is the content of a ChatAgent continuation token.
type dialogue struct {
	Messages []ChatMessage `json:"messages"`
}

// NewChatAgent creates a chat agent.
func NewChatAgent(client Client, cfg AgentConfig, log *logger.Logger) *ChatAgent {
	if cfg.Name == "" {
		cfg.Name = "assistant"
	}
	if cfg.Instructions == "" {
		cfg.Instructions = DefaultInstructions
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = defaultMaxHistory
	}
	return &ChatAgent{
		client: client,
		cfg:    cfg,
		logger: logger.OrNop(log).Named("agent").With(zap.String("agent", cfg.Name)),
	}
}

func (a *ChatAgent) Name() string        { return a.cfg.Name }
func (a *ChatAgent) Description() string { return a.cfg.Description }

// Invoke resumes the dialogue in token and asks the model to speak.
func (a *ChatAgent) Invoke(ctx context.Context, in orchestration.Input, token json.RawMessage) (orchestration.Result, error) {
	history := a.decode(token)

	request := append(history.Messages[:len(history.Messages):len(history.Messages)], ChatMessage{
		Role:    string(model.RoleUser),
		Content: a.prompt(in),
	})

	resp, err := a.client.Complete(ctx, &CompletionRequest{
		Model:       a.cfg.Model,
		System:      a.cfg.Instructions,
		Messages:    request,
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: a.cfg.Temperature,
	})
	if err != nil {
		return orchestration.Result{}, fmt.Errorf("%s completion failed: %w", a.client.Name(), err)
	}

	text := strings.TrimSpace(resp.Content)
	a.logger.Debug("agent completed",
		zap.Int("round", in.Round),
		zap.Int("tokens_in", resp.TokensIn),
		zap.Int("tokens_out", resp.TokensOut),
		zap.Int64("latency_ms", resp.LatencyMs),
	)

	// The stored dialogue records what the user said, not the deliberation
	// prompt, so a later conversation turn resumes from the user's view.
	next := dialogue{Messages: append(history.Messages[:len(history.Messages):len(history.Messages)],
		ChatMessage{Role: string(model.RoleUser), Content: utterance(in)},
		ChatMessage{Role: string(model.RoleAssistant), Content: text},
	)}
	next.trim(a.cfg.MaxHistory)

	encoded, err := json.Marshal(next)
	if err != nil {
		return orchestration.Result{}, fmt.Errorf("failed to encode dialogue: %w", err)
	}

	return orchestration.Result{
		Turns: []orchestration.Turn{{Agent: a.cfg.Name, Text: text}},
		Token: encoded,
	}, nil
}

func (a *ChatAgent) decode(token json.RawMessage) dialogue {
	var d dialogue
	if len(token) == 0 {
		return d
	}
	if err := json.Unmarshal(token, &d); err != nil {
		a.logger.Warn("ignoring unreadable continuation token", zap.Error(err))
		return dialogue{}
	}
	return d
}

// prompt is the user content for this round: the utterance on the first
// round, the utterance plus the deliberation so far afterwards.
func (a *ChatAgent) prompt(in orchestration.Input) string {
	if in.FirstRound() {
		return utterance(in)
	}

	var b strings.Builder
	b.WriteString(utterance(in))
	b.WriteString("\n\nOther participants have responded so far:\n\n")
	b.WriteString(orchestration.RenderTranscript(in.Transcript))
	b.WriteString("\n\nRespond as ")
	b.WriteString(a.cfg.Name)
	b.WriteString(", improving on the answers above.")
	return b.String()
}

func utterance(in orchestration.Input) string {
	return model.Message{Text: in.Utterance, Attachments: in.Attachments}.String()
}

// trim keeps at most limit messages, dropping the oldest, and makes sure the
// dialogue starts with a user message.
func (d *dialogue) trim(limit int) {
	if len(d.Messages) > limit {
		d.Messages = d.Messages[len(d.Messages)-limit:]
	}
	for len(d.Messages) > 0 && d.Messages[0].Role != string(model.RoleUser) {
		d.Messages = d.Messages[1:]
	}
}

var _ orchestration.Agent = (*ChatAgent)(nil)
