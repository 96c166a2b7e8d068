// Package llm defines the completion contract used by the LLM-backed
// translator.
//
// Implementations wrap a hosted or local model API (OpenAI, any-llm-go
// backends such as Anthropic, Gemini or Ollama) and must be safe for
// concurrent use: the translation fan-out calls Complete from one goroutine
// per target language.
package llm

import "context"

// Message is a single chat turn.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	Content string
}

// Request carries everything the model needs to produce a reply.
type Request struct {
	// System is an optional instruction sent ahead of Messages.
	System string

	// Messages is the ordered conversation. Must not be empty.
	Messages []Message

	// Temperature in [0, 2]. Zero means the provider default.
	Temperature float64

	// MaxTokens caps the reply length. Zero means the provider default.
	MaxTokens int
}

// Usage holds token accounting reported by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is the model reply.
type Response struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any chat completion backend.
type Provider interface {
	// Complete sends req and waits for the full reply. It returns promptly
	// when ctx is cancelled.
	Complete(ctx context.Context, req Request) (*Response, error)
}
