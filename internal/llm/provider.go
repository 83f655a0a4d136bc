// Package llm provides the language-model backends used for summarization.
//
// Providers perform exactly one upstream call per Complete. Retries, rate
// limiting and per-call deadlines are applied by the caller through the
// resilience package.
package llm

import (
	"context"
)

// Request is a single-turn completion request.
type Request struct {
	// System is the system prompt.
	System string
	// Prompt is the user message.
	Prompt string
	// MaxTokens caps the completion length. Zero uses the provider default.
	MaxTokens int
	// Temperature overrides the provider's configured temperature when non-nil.
	Temperature *float64
}

// Response is the provider's completion.
type Response struct {
	Text         string
	Model        string
	FinishReason string
	InputTokens  int
	OutputTokens int
}

// Provider is a language-model backend.
type Provider interface {
	// Complete sends req and returns the completion text. Failures are
	// *APIError values where the provider answered, or wrap ctx.Err().
	Complete(ctx context.Context, req Request) (*Response, error)

	// Provider returns the backend name.
	Provider() string

	// Model returns the model identifier in use.
	Model() string
}

// Disabled is the Provider used when no backend is configured. Every call
// fails with ErrNotConfigured.
type Disabled struct{}

// Complete implements Provider.
func (Disabled) Complete(context.Context, Request) (*Response, error) {
	return nil, ErrNotConfigured
}

// Provider implements Provider.
func (Disabled) Provider() string { return "disabled" }

// Model implements Provider.
func (Disabled) Model() string { return "" }
