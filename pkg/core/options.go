package core

import (
	"time"

	"go.uber.org/zap"

	"github.com/oceanbase/agentmem-go/pkg/embedder"
	"github.com/oceanbase/agentmem-go/pkg/llm"
	"github.com/oceanbase/agentmem-go/pkg/metrics"
	"github.com/oceanbase/agentmem-go/pkg/storage"
)

// ClientOption is a function type for configuring NewClient.
//
// Options are applied using the functional options pattern. Every provider
// option replaces the component the Config would otherwise build.
type ClientOption func(*clientOptions)

type clientOptions struct {
	store    storage.MemoryStore
	llm      llm.Provider
	embedder embedder.Provider
	logger   *zap.Logger
	metrics  *metrics.Recorder
	clock    func() time.Time
}

// WithStore uses store instead of the one described by Config.Store.
func WithStore(store storage.MemoryStore) ClientOption {
	return func(o *clientOptions) {
		o.store = store
	}
}

// WithLLM uses provider instead of the one described by Config.LLM. It is
// still wrapped in the retry policy.
func WithLLM(provider llm.Provider) ClientOption {
	return func(o *clientOptions) {
		o.llm = provider
	}
}

// WithEmbedder uses provider instead of the one described by Config.Embedder.
func WithEmbedder(provider embedder.Provider) ClientOption {
	return func(o *clientOptions) {
		o.embedder = provider
	}
}

// WithLogger sets the logger shared by every component.
//
// Example:
//
//	logger, _ := zap.NewProduction()
//	client, _ := core.NewClient(config, core.WithLogger(logger))
func WithLogger(logger *zap.Logger) ClientOption {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// WithMetrics records model calls, memories, retrievals and reflections.
func WithMetrics(m *metrics.Recorder) ClientOption {
	return func(o *clientOptions) {
		o.metrics = m
	}
}

// WithClock replaces time.Now for the memory stream.
func WithClock(clock func() time.Time) ClientOption {
	return func(o *clientOptions) {
		o.clock = clock
	}
}

func applyClientOptions(opts []ClientOption) *clientOptions {
	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RetrieveOption is a function type for configuring Retrieve operations.
type RetrieveOption func(*RetrieveOptions)

// RetrieveOptions contains configuration options for Retrieve operations.
type RetrieveOptions struct {
	// Limit keeps only the best Limit results. Zero keeps the whole window.
	Limit int
}

// WithLimit keeps only the n best ranked memories.
//
// Example:
//
//	top, _ := client.Retrieve(ctx, "query", core.WithLimit(5))
func WithLimit(n int) RetrieveOption {
	return func(opts *RetrieveOptions) {
		opts.Limit = n
	}
}

func applyRetrieveOptions(opts []RetrieveOption) *RetrieveOptions {
	o := &RetrieveOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
