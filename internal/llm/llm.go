// Package llm is the language-model provider contract used by the council:
// a single Complete call that either returns text or fails with a typed,
// classifiable error.
package llm

import "context"

type Message struct {
	Role    string
	Content string
}

type Request struct {
	// Model is the configured model id; providers map it to an upstream name.
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	// EstimatedInputTokens lets callers skip models that cannot hold the prompt.
	EstimatedInputTokens int
}

type Usage struct {
	InputTokens  int
	OutputTokens int
}

func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

type Completion struct {
	Text  string
	Usage Usage
}

type Provider interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, req Request) (*Completion, error)

func (f ProviderFunc) Complete(ctx context.Context, req Request) (*Completion, error) {
	return f(ctx, req)
}
