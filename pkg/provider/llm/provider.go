// Package llm defines the Provider interface for text chat backends.
//
// The mentor chat screens send the whole conversation history on every turn
// and wait for one complete reply, so the interface is a single blocking
// Complete call. Backends live in sub-packages (llm/anyllm for hosted models,
// llm/mock for tests).
//
// Implementations must be safe for concurrent use.
package llm

import (
	"context"
	"errors"
)

// ErrEmptyReply is returned when the backend answers with no text, which
// Gemini does when a reply is withheld by its safety filters.
var ErrEmptyReply = errors.New("llm: empty reply")

// CompletionRequest carries everything the model needs to produce a reply.
type CompletionRequest struct {
	// SystemPrompt is sent ahead of the history. Backends without a native
	// system field prepend it as a RoleSystem message.
	SystemPrompt string

	// Messages is the ordered conversation history. The last message is the
	// one being answered.
	Messages []Message

	// Temperature controls randomness. Zero selects the backend default.
	Temperature float64

	// MaxTokens caps the reply length. Zero selects the backend default.
	MaxTokens int
}

// CompletionResponse is the model's full reply.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over a chat completion backend.
type Provider interface {
	// Complete sends req and waits for the reply. It returns promptly with
	// ctx.Err() when ctx is cancelled.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
