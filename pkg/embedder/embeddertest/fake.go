// Package embeddertest provides a deterministic embedder.Provider for tests.
package embeddertest

import (
	"context"
	"fmt"
	"sync"
)

// Provider returns preset vectors by text. Unknown texts fail unless a
// Fallback is set.
type Provider struct {
	Dims     int
	Fallback func(text string) []float64

	mu      sync.Mutex
	vectors map[string][]float64
}

// NewProvider creates an embedder producing dims-dimensional vectors.
func NewProvider(dims int) *Provider {
	return &Provider{Dims: dims, vectors: make(map[string][]float64)}
}

// Set fixes the vector returned for text.
func (p *Provider) Set(text string, vector []float64) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.vectors[text] = vector
	return p
}

// Embed implements embedder.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	v, ok := p.vectors[text]
	p.mu.Unlock()

	switch {
	case ok:
		return append([]float64(nil), v...), nil
	case p.Fallback != nil:
		return p.Fallback(text), nil
	default:
		return nil, fmt.Errorf("embeddertest: no vector for %q", text)
	}
}

// EmbedBatch implements embedder.Provider.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		v, err := p.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions implements embedder.Provider.
func (p *Provider) Dimensions() int { return p.Dims }

// Close implements embedder.Provider.
func (p *Provider) Close() error { return nil }

// Constant returns a fallback that maps every text to the same unit vector.
func Constant(dims int) func(string) []float64 {
	return func(string) []float64 {
		v := make([]float64, dims)
		v[0] = 1
		return v
	}
}
