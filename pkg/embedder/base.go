// Package embedder provides interfaces for text embedding providers.
//
// It defines the Provider interface that all embedding implementations must satisfy,
// enabling text-to-vector conversion for relevance scoring.
package embedder

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/oceanbase/agentmem-go/pkg/llm"
)

// Provider defines the interface for embedding providers.
type Provider interface {
	// Embed converts a text string into a vector embedding.
	Embed(ctx context.Context, text string) ([]float64, error)

	// EmbedBatch converts multiple text strings into vector embeddings,
	// in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)

	// Dimensions returns the dimension of embedding vectors produced by this provider.
	Dimensions() int

	// Close closes the provider and releases resources.
	Close() error
}

// DefaultDimensions returns the native vector width of well-known embedding
// models, or 1536 when the model is unknown.
func DefaultDimensions(model string) int {
	switch model {
	case "nomic-embed-text":
		return 768
	case "mxbai-embed-large":
		return 1024
	case "all-minilm":
		return 384
	case "text-embedding-3-large":
		return 3072
	default:
		return 1536
	}
}

// Retrying applies an llm.RetryPolicy to every embedding request.
type Retrying struct {
	inner  Provider
	policy llm.RetryPolicy
	logger *zap.Logger
}

// NewRetrying wraps inner so that rate limits and gateway errors are retried
// with the same budget as model completions.
//
// Parameters:
//   - inner: Provider performing the actual requests
//   - policy: Attempt budget and backoff bounds
//   - logger: Receives one warning per retry; nil disables logging
func NewRetrying(inner Provider, policy llm.RetryPolicy, logger *zap.Logger) *Retrying {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrying{inner: inner, policy: policy, logger: logger}
}

func (r *Retrying) onRetry(attempt int, err error, wait time.Duration) {
	r.logger.Warn("transient embedding failure, retrying",
		zap.Int("attempt", attempt),
		zap.Duration("backoff", wait),
		zap.Error(err))
}

// Embed implements Provider.
func (r *Retrying) Embed(ctx context.Context, text string) ([]float64, error) {
	v, _, err := llm.Retry(ctx, r.policy, func(ctx context.Context) ([]float64, error) {
		return r.inner.Embed(ctx, text)
	}, r.onRetry)
	return v, err
}

// EmbedBatch implements Provider.
func (r *Retrying) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	v, _, err := llm.Retry(ctx, r.policy, func(ctx context.Context) ([][]float64, error) {
		return r.inner.EmbedBatch(ctx, texts)
	}, r.onRetry)
	return v, err
}

// Dimensions implements Provider.
func (r *Retrying) Dimensions() int {
	return r.inner.Dimensions()
}

// Close implements Provider.
func (r *Retrying) Close() error {
	return r.inner.Close()
}
