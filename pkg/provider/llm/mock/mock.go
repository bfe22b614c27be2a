// Package mock provides a scripted llm.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/FlavioMarcoHaux/MiniMax/pkg/provider/llm"
)

// Call is one recorded Complete invocation. Messages are copied so later
// mutation by the caller does not change the record.
type Call struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider answers Complete from, in order of precedence: CompleteFunc,
// then the Replies queue, then CompleteResponse and CompleteErr.
// Set fields before use or between calls, not during one.
type Provider struct {
	mu    sync.Mutex
	calls []Call

	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	// Replies are consumed one per call as plain-text responses. Once
	// empty, the static fields apply again.
	Replies []string

	// CompleteFunc, when set, computes the result for each call.
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

var _ llm.Provider = (*Provider)(nil)

// Complete records the call and returns the scripted result. A cancelled
// ctx is reported before anything else, like a real backend.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	req.Messages = append([]llm.Message(nil), req.Messages...)
	p.calls = append(p.calls, Call{Ctx: ctx, Req: req})

	fn := p.CompleteFunc
	var reply *string
	if fn == nil && len(p.Replies) > 0 {
		reply = &p.Replies[0]
		p.Replies = p.Replies[1:]
	}
	resp, err := p.CompleteResponse, p.CompleteErr
	p.mu.Unlock()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	switch {
	case fn != nil:
		return fn(ctx, req)
	case reply != nil:
		return &llm.CompletionResponse{Content: *reply}, nil
	}
	return resp, err
}

// Calls returns a copy of the recorded calls.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}
