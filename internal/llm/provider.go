// Package llm provides a unified interface for vision-capable LLM providers.
package llm

import (
	"context"
	"time"
)

// Page is one document page attached to an invocation. Image pages carry
// Data with a MIME type; text pages (extracted from PDFs) carry Text.
type Page struct {
	Number int
	MIME   string
	Data   []byte
	Text   string
}

// IsImage reports whether the page carries an image payload.
func (p Page) IsImage() bool { return len(p.Data) > 0 }

// Usage tracks token consumption for one invocation.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Add accumulates usage from another invocation.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

// Request is a single extraction invocation over a group of pages.
type Request struct {
	System      string
	Prompt      string
	Pages       []Page
	MaxTokens   int
	Temperature float64
}

// Response is the raw model output. Content is free-form text that is
// supposed to be JSON but frequently is not; callers run it through the
// repair engine.
type Response struct {
	Content      string
	FinishReason string
	Usage        Usage
}

// Provider is the core abstraction over LLM backends.
type Provider interface {
	// Invoke sends pages plus an extraction prompt and returns raw output.
	Invoke(ctx context.Context, req Request) (Response, error)

	// Name returns the provider identifier.
	Name() string
}

// ProviderConfig holds common configuration for providers.
type ProviderConfig struct {
	APIKey  string
	BaseURL string // for Ollama or OpenAI-compatible endpoints
	Model   string
	Timeout time.Duration
}

// DefaultProviderConfig returns sensible defaults.
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Timeout: 120 * time.Second,
	}
}
