// Package llm provides LLM client interfaces and implementations, and the
// agents built on them.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/capitalize-ai/conversation-actors/pkg/metrics"
)

// CompletionRequest is one chat completion call. Model may be empty to use
// the client's default.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// ChatMessage is a role/content pair. It is also the unit persisted in a
// ChatAgent continuation token.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client is the interface for LLM providers.
type Client interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

const defaultMaxTokens = 4096

// ClientConfig selects and configures a provider.
type ClientConfig struct {
	Provider Provider
	APIKey   string
	// Model replaces the provider's default model for requests that name none.
	Model string
}

// NewClient creates an instrumented client for cfg.Provider. An empty
// provider means Anthropic.
func NewClient(cfg ClientConfig) (Client, error) {
	var (
		c   Client
		err error
	)
	switch cfg.Provider {
	case ProviderAnthropic, "":
		c, err = NewAnthropicClient(cfg.APIKey, cfg.Model)
	case ProviderOpenAI:
		c, err = NewOpenAIClient(cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return Instrument(c), nil
}

type instrumented struct {
	next Client
}

// Instrument wraps c so every completion is recorded in the LLM metrics.
func Instrument(c Client) Client {
	return &instrumented{next: c}
}

func (i *instrumented) Name() string { return i.next.Name() }

func (i *instrumented) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()
	resp, err := i.next.Complete(ctx, req)
	var in, out int
	if resp != nil {
		in, out = resp.TokensIn, resp.TokensOut
	}
	metrics.RecordCompletion(i.next.Name(), err, time.Since(start).Seconds(), in, out)
	return resp, err
}
