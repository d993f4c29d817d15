// Package llmtest provides an in-memory llm.Provider for tests.
package llmtest

import (
	"context"
	"sync"

	"github.com/oceanbase/agentmem-go/pkg/llm"
)

// Call records one Complete invocation.
type Call struct {
	SystemRole string
	Prompt     string
}

// Provider answers every prompt through Respond and records the calls.
type Provider struct {
	Respond func(ctx context.Context, systemRole, prompt string) (string, error)

	mu    sync.Mutex
	calls []Call
}

// NewProvider returns a provider backed by respond.
func NewProvider(respond func(ctx context.Context, systemRole, prompt string) (string, error)) *Provider {
	return &Provider{Respond: respond}
}

// Fixed returns a provider that always answers text.
func Fixed(text string) *Provider {
	return NewProvider(func(context.Context, string, string) (string, error) {
		return text, nil
	})
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, systemRole, prompt string, _ ...llm.GenerateOption) (*llm.Completion, error) {
	p.mu.Lock()
	p.calls = append(p.calls, Call{SystemRole: systemRole, Prompt: prompt})
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text, err := p.Respond(ctx, systemRole, prompt)
	if err != nil {
		return nil, err
	}
	return &llm.Completion{Text: text, TotalTokens: len(prompt) / 4}, nil
}

// Calls returns a copy of the recorded calls.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// Close implements llm.Provider.
func (p *Provider) Close() error { return nil }
