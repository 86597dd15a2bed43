// Package model provides LLM provider adapters behind a common chat
// interface.
package model

import (
	"context"
	"errors"
	"strings"

	"github.com/dshills/aura-go/fault"
)

// ChatModel abstracts a chat-based LLM provider. Implementations handle
// authentication, request formatting, and error classification; callers get
// text and token usage back.
//
// Implementations must respect context cancellation and are safe for
// concurrent use.
type ChatModel interface {
	// Chat sends the conversation and returns the model's reply.
	Chat(ctx context.Context, messages []Message, opts Options) (ChatOut, error)

	// Name identifies the provider ("anthropic", "openai", "google", "mock").
	Name() string
}

// Message is a single turn in an LLM conversation.
type Message struct {
	Role    string
	Content string
}

// Conversation roles shared by all providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Options tunes a single chat call. Zero values take provider defaults.
type Options struct {
	// Temperature controls sampling randomness. Providers that reject
	// explicit temperatures ignore it.
	Temperature float64

	// MaxTokens caps the response length. Zero uses the provider default.
	MaxTokens int

	// JSONOnly asks the provider for a strict JSON response where the API
	// supports it; otherwise the prompt must carry the instruction.
	JSONOnly bool
}

// ChatOut is the provider's reply.
type ChatOut struct {
	Text  string
	Usage Usage
}

// Usage is the token accounting for one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Add accumulates usage from another call.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// ClassifyErr maps a provider SDK error onto the shared fault taxonomy so
// retry policies can decide uniformly. SDK error types differ per provider,
// so classification falls back to status-code and keyword matching on the
// error text.
func ClassifyErr(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fault.Wrap(fault.KindUpstreamTimeout, err, provider+" request timed out")
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "429") ||
		strings.Contains(lower, "too many requests"):
		return fault.Wrap(fault.KindRateLimited, err, provider+" rate limit exceeded")

	case strings.Contains(lower, "401") ||
		strings.Contains(lower, "403") ||
		strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "api key") ||
		strings.Contains(lower, "authentication"):
		return fault.Wrap(fault.KindNonRetryable, err, provider+" authentication failed")

	case strings.Contains(lower, "quota") ||
		strings.Contains(lower, "billing"):
		return fault.Wrap(fault.KindNonRetryable, err, provider+" quota exceeded")

	case strings.Contains(lower, "500") ||
		strings.Contains(lower, "502") ||
		strings.Contains(lower, "503") ||
		strings.Contains(lower, "504") ||
		strings.Contains(lower, "internal server error") ||
		strings.Contains(lower, "bad gateway") ||
		strings.Contains(lower, "service unavailable") ||
		strings.Contains(lower, "overloaded"):
		return fault.Wrap(fault.KindUpstreamUnavailable, err, provider+" server error")

	case strings.Contains(lower, "connection") ||
		strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "network"):
		return fault.Wrap(fault.KindTransient, err, provider+" network error")
	}

	return fault.Wrap(fault.KindInternal, err, provider+" request failed")
}
