package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/oceanbase/agentmem-go/pkg/embedder"
	openaiEmbedder "github.com/oceanbase/agentmem-go/pkg/embedder/openai"
	"github.com/oceanbase/agentmem-go/pkg/llm"
	anthropicLLM "github.com/oceanbase/agentmem-go/pkg/llm/anthropic"
	deepseekLLM "github.com/oceanbase/agentmem-go/pkg/llm/deepseek"
	ollamaLLM "github.com/oceanbase/agentmem-go/pkg/llm/ollama"
	openaiLLM "github.com/oceanbase/agentmem-go/pkg/llm/openai"
	"github.com/oceanbase/agentmem-go/pkg/memory"
	"github.com/oceanbase/agentmem-go/pkg/metrics"
	"github.com/oceanbase/agentmem-go/pkg/reflection"
	"github.com/oceanbase/agentmem-go/pkg/storage"
	jsonfileStore "github.com/oceanbase/agentmem-go/pkg/storage/jsonfile"
	"github.com/oceanbase/agentmem-go/pkg/storage/oceanbase"
	postgresStore "github.com/oceanbase/agentmem-go/pkg/storage/postgres"
	redisStore "github.com/oceanbase/agentmem-go/pkg/storage/redis"
	sqliteStore "github.com/oceanbase/agentmem-go/pkg/storage/sqlite"
	"github.com/oceanbase/agentmem-go/pkg/summary"
	"github.com/oceanbase/agentmem-go/pkg/workerpool"
)

// Client is the agentmem client for one character.
//
// It provides a complete interface for the character's memory stream:
//   - Idempotent seeding from a list of initial memories
//   - Recording observations rated for importance by the LLM
//   - Retrieval ranked by recency, importance and relevance
//   - Reflections synthesized from recent memories
//   - Status, memory summaries and bio generation
//
// The client is safe for concurrent use from multiple goroutines.
//
// Example usage:
//
//	config, _ := core.LoadConfigFromEnv()
//	client, _ := core.NewClient(config)
//	defer client.Close()
//
//	firstRun, _ := client.Bootstrap(ctx, []string{"Ana works at the library"})
//	_, _ = client.Record(ctx, "Ana lost a chess match to Bruno")
//	memories, _ := client.Retrieve(ctx, "How is Ana doing at chess?")
type Client struct {
	config *Config

	store    storage.MemoryStore
	llm      llm.Provider
	embedder embedder.Provider
	pool     *workerpool.Pool

	index      *memory.Index
	reflector  *reflection.Engine
	status     *summary.StatusGenerator
	summarizer *summary.Summarizer

	logger  *zap.Logger
	metrics *metrics.Recorder

	// memories recorded since the last reflection and the last bio
	sinceReflection atomic.Int64
	sinceBio        atomic.Int64

	bioMu sync.RWMutex
	bio   string
}

// NewClient creates a new agentmem client.
//
// The client is initialized with:
//   - Memory store (SQLite, PostgreSQL, OceanBase, Redis or a JSON file)
//   - LLM provider (OpenAI, Anthropic, DeepSeek, Ollama) behind the retry policy
//   - Embedding provider (OpenAI or Ollama) behind the same policy
//   - A worker pool shared by reflections and summaries
//
// Options replace any of these, mainly for tests.
//
// Parameters:
//   - cfg: Configuration containing agent, storage, LLM and embedding settings
//   - opts: Optional component overrides (WithStore, WithLLM, WithEmbedder, ...)
//
// Returns a new Client, or an error if validation or initialization fails.
//
// Call Bootstrap before using the memory stream.
func NewClient(cfg *Config, opts ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := applyClientOptions(opts)
	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("agent", cfg.Agent.Name))

	store := o.store
	if store == nil {
		s, err := initStorage(context.Background(), cfg.Store, cfg.Agent.Name, cfg.Embedder.dimensions())
		if err != nil {
			return nil, err
		}
		store = s
	}

	provider := o.llm
	if provider == nil {
		p, err := initLLM(cfg.LLM)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		provider = p
	}
	provider = llm.NewRetryingProvider(provider, cfg.retryPolicy(),
		llm.WithLogger(logger),
		llm.WithMetrics(o.metrics),
		llm.WithProviderName(cfg.LLM.Provider))

	emb := o.embedder
	if emb == nil {
		e, err := initEmbedder(cfg.Embedder)
		if err != nil {
			_ = store.Close()
			_ = provider.Close()
			return nil, err
		}
		emb = e
	}
	emb = embedder.NewRetrying(emb, cfg.retryPolicy(), logger)

	indexOpts := []memory.Option{
		memory.WithLogger(logger),
		memory.WithMetrics(o.metrics),
		memory.WithCharacterDescription(cfg.Agent.Description),
		memory.WithWindowSize(cfg.Agent.WindowSize),
	}
	if cfg.Agent.NodeID > 0 {
		indexOpts = append(indexOpts, memory.WithNodeID(cfg.Agent.NodeID))
	}
	if o.clock != nil {
		indexOpts = append(indexOpts, memory.WithClock(o.clock))
	}

	index, err := memory.NewIndex(store, provider, emb, indexOpts...)
	if err != nil {
		_ = store.Close()
		_ = provider.Close()
		_ = emb.Close()
		return nil, NewMemoryError("NewClient", err)
	}

	pool := workerpool.New(cfg.poolConfig(), logger)

	return &Client{
		config:   cfg,
		store:    store,
		llm:      provider,
		embedder: emb,
		pool:     pool,
		index:    index,
		reflector: reflection.NewEngine(index, provider, pool,
			reflection.WithCharacterName(cfg.Agent.Name),
			reflection.WithLogger(logger),
			reflection.WithMetrics(o.metrics)),
		status:     summary.NewStatusGenerator(index, store, provider, cfg.Agent.Name, logger),
		summarizer: summary.NewSummarizer(index, provider, pool, logger),
		logger:     logger,
		metrics:    o.metrics,
	}, nil
}

// Bootstrap seeds the memory stream and loads it.
//
// Seeds whose exact text is already stored are skipped, so calling Bootstrap
// on every start is safe. It reports whether any seed was created. When it
// was and Reflection.OnFirstRun is set, an initial reflection runs before
// Bootstrap returns.
func (c *Client) Bootstrap(ctx context.Context, seeds []string) (bool, error) {
	firstRun, err := c.index.Bootstrap(ctx, seeds)
	if err != nil {
		return false, NewMemoryError("Bootstrap", err)
	}

	if firstRun && c.config.Reflection.OnFirstRun {
		if _, err := c.GenerateReflections(ctx); err != nil {
			return true, NewMemoryError("Bootstrap", err)
		}
	}
	return firstRun, nil
}

// FirstRun reports whether the last Bootstrap created the stream.
func (c *Client) FirstRun() bool {
	return c.index.FirstRun()
}

// Record stores a new observation.
//
// The memory is rated for importance, embedded and persisted before it is
// added to the stream; it counts toward both the reflection and bio triggers.
//
// Parameters:
//   - ctx: Context for cancellation
//   - description: Observation text, non-blank
//
// Returns the recorded entry, or a *MemoryError wrapping ErrInvalidInput,
// ErrMalformedModelResponse or ErrPersistence.
func (c *Client) Record(ctx context.Context, description string) (*memory.Entry, error) {
	entry, err := c.index.Record(ctx, description)
	if err != nil {
		return nil, NewMemoryError("Record", err)
	}
	c.sinceReflection.Add(1)
	c.sinceBio.Add(1)
	return entry, nil
}

// Retrieve ranks the recent window against query, best first.
//
// Parameters:
//   - ctx: Context for cancellation
//   - query: Text embedded once and compared with every candidate
//   - opts: Optional parameters (WithLimit)
//
// Returns at most the limit entries, each touched as retrieved.
//
// Example:
//
//	top, err := client.Retrieve(ctx, "What does Ana think of Bruno?", core.WithLimit(5))
func (c *Client) Retrieve(ctx context.Context, query string, opts ...RetrieveOption) ([]*memory.Entry, error) {
	scored, err := c.RetrieveScored(ctx, query, opts...)
	if err != nil {
		return nil, err
	}
	out := make([]*memory.Entry, len(scored))
	for i, s := range scored {
		out[i] = s.Entry
	}
	return out, nil
}

// RetrieveScored is Retrieve with the score breakdown.
func (c *Client) RetrieveScored(ctx context.Context, query string, opts ...RetrieveOption) ([]memory.Scored, error) {
	o := applyRetrieveOptions(opts)

	scored, err := c.index.RetrieveScored(ctx, query)
	if err != nil {
		return nil, NewMemoryError("Retrieve", err)
	}
	if o.Limit > 0 && o.Limit < len(scored) {
		scored = scored[:o.Limit]
	}
	return scored, nil
}

// Memories returns every live memory, newest first.
func (c *Client) Memories() []*memory.Entry {
	return c.index.Memories()
}

// Get returns the memory with id.
func (c *Client) Get(id int64) (*memory.Entry, error) {
	e, ok := c.index.Get(id)
	if !ok {
		return nil, NewMemoryError("Get", fmt.Errorf("%w: memory %d", ErrNotFound, id))
	}
	return e, nil
}

// GenerateReflections runs one reflection cycle and resets the reflection
// trigger. Individual insights that fail to save are listed in
// Report.Failed; the call itself only fails when questions or insights
// could not be generated.
func (c *Client) GenerateReflections(ctx context.Context) (*reflection.Report, error) {
	report, err := c.reflector.GenerateReflections(ctx)
	if err != nil {
		return nil, NewMemoryError("GenerateReflections", err)
	}
	c.sinceReflection.Store(0)
	return report, nil
}

// ReflectionDue reports whether Reflection.Every memories were recorded
// since the last reflection.
func (c *Client) ReflectionDue() bool {
	every := c.config.Reflection.Every
	return every > 0 && c.sinceReflection.Load() >= int64(every)
}

// MaybeReflect runs GenerateReflections when ReflectionDue. The returned
// report is nil when no reflection was due.
func (c *Client) MaybeReflect(ctx context.Context) (*reflection.Report, error) {
	if !c.ReflectionDue() {
		return nil, nil
	}
	return c.GenerateReflections(ctx)
}

// ReflectionState returns the phase of a running reflection.
func (c *Client) ReflectionState() reflection.State {
	return c.reflector.State()
}

// Status returns the stored status, generating one when none exists yet.
func (c *Client) Status(ctx context.Context) (string, error) {
	status, err := c.store.GetStatus(ctx)
	if err == nil {
		return status, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return "", NewMemoryError("Status", err)
	}
	return c.RefreshStatus(ctx)
}

// RefreshStatus derives a new status from the 30 most recent memories and
// stores it.
func (c *Client) RefreshStatus(ctx context.Context) (string, error) {
	status, err := c.status.Generate(ctx)
	if err != nil {
		return "", NewMemoryError("RefreshStatus", err)
	}
	return status, nil
}

// Summarize answers every question with a summary of the memories it
// retrieves. Results keep question order.
func (c *Client) Summarize(ctx context.Context, questions []string) ([]string, error) {
	out, err := c.summarizer.Summarize(ctx, questions)
	if err != nil {
		return nil, NewMemoryError("Summarize", err)
	}
	return out, nil
}

// Bio rebuilds the character's bio from its memories and resets the bio
// trigger. The new bio becomes the character description that later
// importance ratings are made from.
func (c *Client) Bio(ctx context.Context) (string, error) {
	bio, err := c.summarizer.Bio(ctx, c.config.Agent.Name)
	if err != nil {
		return "", NewMemoryError("Bio", err)
	}

	c.bioMu.Lock()
	c.bio = bio
	c.bioMu.Unlock()
	c.index.SetCharacterDescription(summary.Describe(c.config.Agent.Name, bio))
	c.sinceBio.Store(0)
	return bio, nil
}

// CurrentBio returns the last generated bio, or "" before the first one.
func (c *Client) CurrentBio() string {
	c.bioMu.RLock()
	defer c.bioMu.RUnlock()
	return c.bio
}

// CharacterDescription returns the system role importance ratings use:
// Agent.Description until a bio is generated, then the bio.
func (c *Client) CharacterDescription() string {
	return c.index.CharacterDescription()
}

// BioDue reports whether Bio.Every memories were recorded since the last
// bio.
func (c *Client) BioDue() bool {
	every := c.config.Bio.Every
	return every > 0 && c.sinceBio.Load() >= int64(every)
}

// MaybeRefreshBio runs Bio when BioDue. It reports whether a new bio was
// generated.
func (c *Client) MaybeRefreshBio(ctx context.Context) (string, bool, error) {
	if !c.BioDue() {
		return c.CurrentBio(), false, nil
	}
	bio, err := c.Bio(ctx)
	if err != nil {
		return "", false, err
	}
	return bio, true, nil
}

// Close closes the client and releases all resources.
//
// This method:
//   - Waits for pool tasks to finish
//   - Closes the store connection
//   - Closes the LLM provider
//   - Closes the embedder provider
//
// Returns the first error encountered during cleanup, or nil if all resources
// were closed successfully.
func (c *Client) Close() error {
	c.pool.Close()

	var errs []error
	if err := c.store.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.llm.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.embedder.Close(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// initStorage initializes the memory store.
func initStorage(ctx context.Context, cfg StoreConfig, agentName string, dims int) (storage.MemoryStore, error) {
	m := cfg.Config
	switch cfg.Provider {
	case "oceanbase":
		return oceanbase.NewClient(&oceanbase.Config{
			Host:               configString(m, "host", "127.0.0.1"),
			Port:               configInt(m, "port", 2881),
			User:               configString(m, "user", "root@sys"),
			Password:           configString(m, "password", ""),
			DBName:             configString(m, "db_name", "agentmem"),
			CollectionName:     configString(m, "collection_name", "memories"),
			AgentName:          agentName,
			EmbeddingModelDims: configInt(m, "embedding_model_dims", dims),
		})
	case "sqlite":
		return sqliteStore.NewClient(&sqliteStore.Config{
			DBPath:         configString(m, "db_path", "./agentmem.db"),
			CollectionName: configString(m, "collection_name", "memories"),
			AgentName:      agentName,
		})
	case "postgres":
		return postgresStore.NewClient(&postgresStore.Config{
			Host:               configString(m, "host", "localhost"),
			Port:               configInt(m, "port", 5432),
			User:               configString(m, "user", "postgres"),
			Password:           configString(m, "password", ""),
			DBName:             configString(m, "db_name", "agentmem"),
			CollectionName:     configString(m, "collection_name", "memories"),
			AgentName:          agentName,
			EmbeddingModelDims: configInt(m, "embedding_model_dims", dims),
			SSLMode:            configString(m, "ssl_mode", "disable"),
		})
	case "redis":
		return redisStore.NewClient(ctx, &redisStore.Config{
			URL:       configString(m, "url", "redis://localhost:6379/0"),
			KeyPrefix: configString(m, "key_prefix", "agentmem"),
			AgentName: agentName,
		})
	case "jsonfile":
		return jsonfileStore.NewClient(&jsonfileStore.Config{
			Path:      configString(m, "path", agentName+".json"),
			AgentName: agentName,
		})
	default:
		return nil, NewMemoryError("initStorage", fmt.Errorf("%w: unknown store provider %q", ErrInvalidConfig, cfg.Provider))
	}
}

// initLLM initializes the LLM provider.
func initLLM(cfg LLMConfig) (llm.Provider, error) {
	var (
		p   llm.Provider
		err error
	)
	switch cfg.Provider {
	case "openai":
		p, err = openaiLLM.NewClient(&openaiLLM.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
	case "deepseek":
		p, err = deepseekLLM.NewClient(&deepseekLLM.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
	case "ollama":
		p, err = ollamaLLM.NewClient(&ollamaLLM.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
	case "anthropic":
		p, err = anthropicLLM.NewClient(&anthropicLLM.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
	default:
		return nil, NewMemoryError("initLLM", fmt.Errorf("%w: unknown llm provider %q", ErrInvalidConfig, cfg.Provider))
	}
	if err != nil {
		return nil, NewMemoryError("initLLM", fmt.Errorf("%w: %w", ErrLLMOperation, err))
	}
	return p, nil
}

// initEmbedder initializes the embedder provider.
func initEmbedder(cfg EmbedderConfig) (embedder.Provider, error) {
	var (
		p   embedder.Provider
		err error
	)
	switch cfg.Provider {
	case "openai":
		p, err = openaiEmbedder.NewClient(&openaiEmbedder.Config{
			APIKey:     cfg.APIKey,
			Model:      cfg.model(),
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.dimensions(),
		})
	case "ollama":
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = "ollama"
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434/v1"
		}
		p, err = openaiEmbedder.NewClient(&openaiEmbedder.Config{
			APIKey:     apiKey,
			Model:      cfg.model(),
			BaseURL:    baseURL,
			Dimensions: cfg.dimensions(),
		})
	default:
		return nil, NewMemoryError("initEmbedder", fmt.Errorf("%w: unknown embedder provider %q", ErrInvalidConfig, cfg.Provider))
	}
	if err != nil {
		return nil, NewMemoryError("initEmbedder", fmt.Errorf("%w: %w", ErrEmbeddingFailed, err))
	}
	return p, nil
}
