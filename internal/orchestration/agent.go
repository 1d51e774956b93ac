// Package orchestration drives a bounded exchange among agents and reduces
// their output to one reply.
package orchestration

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/capitalize-ai/conversation-actors/internal/model"
)

// Turn is one message produced by an agent during a run.
type Turn struct {
	Agent string `json:"agent"`
	Text  string `json:"text"`
}

// Input is what an agent sees when it is asked to speak.
type Input struct {
	// Utterance is the user's message text.
	Utterance   string
	Attachments []model.Attachment
	// Transcript holds the turns produced so far in this run. It is empty on
	// the first round.
	Transcript []Turn
	// Round is the 1-based number of the invocation being made.
	Round int
}

// FirstRound reports whether no agent has spoken yet in this run.
func (in Input) FirstRound() bool {
	return len(in.Transcript) == 0
}

// Result is the output of one agent invocation.
type Result struct {
	Turns []Turn
	// Token is the agent's updated continuation token. Nil leaves the token
	// unchanged.
	Token json.RawMessage
}

// Agent is a participant in an orchestration run. Invoke must be resumable:
// passing back a token it returned earlier continues the same dialogue.
type Agent interface {
	Name() string
	Description() string
	Invoke(ctx context.Context, in Input, token json.RawMessage) (Result, error)
}

// AgentFunc adapts a function to the Agent interface.
type AgentFunc struct {
	AgentName        string
	AgentDescription string
	Fn               func(ctx context.Context, in Input, token json.RawMessage) (Result, error)
}

func (f AgentFunc) Name() string        { return f.AgentName }
func (f AgentFunc) Description() string { return f.AgentDescription }

func (f AgentFunc) Invoke(ctx context.Context, in Input, token json.RawMessage) (Result, error) {
	return f.Fn(ctx, in, token)
}

// RenderTranscript formats turns as "name: text" paragraphs for prompts.
func RenderTranscript(turns []Turn) string {
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(t.Agent)
		b.WriteString(": ")
		b.WriteString(t.Text)
	}
	return b.String()
}
