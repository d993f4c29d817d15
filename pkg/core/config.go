package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/oceanbase/agentmem-go/pkg/embedder"
	"github.com/oceanbase/agentmem-go/pkg/llm"
	"github.com/oceanbase/agentmem-go/pkg/workerpool"
)

// Config contains the complete configuration for an agentmem client.
//
// It includes settings for:
//   - the character whose memory this is
//   - LLM provider (importance ratings, reflections, summaries)
//   - Embedding provider (vector generation)
//   - Memory store (persistence and status)
//   - Worker pool, retry policy and reflection schedule
//
// Example:
//
//	config := &core.Config{
//	    Agent: core.AgentConfig{
//	        Name:        "Ana",
//	        Description: "Ana is a librarian who loves chess.",
//	    },
//	    LLM: core.LLMConfig{
//	        Provider: "openai",
//	        APIKey:   "sk-...",
//	        Model:    "gpt-4o-mini",
//	    },
//	    Embedder: core.EmbedderConfig{
//	        Provider:   "openai",
//	        APIKey:     "sk-...",
//	        Model:      "text-embedding-3-small",
//	        Dimensions: 1536,
//	    },
//	    Store: core.StoreConfig{
//	        Provider: "sqlite",
//	        Config: map[string]interface{}{
//	            "db_path": "./agentmem.db",
//	        },
//	    },
//	}
type Config struct {
	// Agent describes the character.
	Agent AgentConfig `json:"agent"`

	// LLM contains LLM provider configuration.
	LLM LLMConfig `json:"llm"`

	// Embedder contains embedding provider configuration.
	Embedder EmbedderConfig `json:"embedder"`

	// Store contains memory store configuration.
	Store StoreConfig `json:"store"`

	// Pool sizes the shared worker pool.
	Pool PoolConfig `json:"pool"`

	// Retry bounds retries of transient model failures.
	Retry RetryConfig `json:"retry"`

	// Reflection schedules automatic reflections.
	Reflection ReflectionConfig `json:"reflection"`

	// Bio schedules bio regeneration.
	Bio BioConfig `json:"bio"`
}

// AgentConfig describes the character whose memory stream is managed.
type AgentConfig struct {
	// Name is used in prompts and scopes the stored status.
	Name string `json:"name"`

	// Description is sent as the system role when rating importance.
	Description string `json:"description"`

	// NodeID is the snowflake node for memory ids (0-1023). Processes that
	// share a store must use different values. Default: 1
	NodeID int64 `json:"node_id,omitempty"`

	// WindowSize is how many recent memories a retrieval scores. Default: 70
	WindowSize int `json:"window_size,omitempty"`
}

// LLMConfig contains configuration for the LLM provider.
//
// Supported providers: openai, anthropic, deepseek, ollama
type LLMConfig struct {
	// Provider is the LLM provider name (openai, anthropic, deepseek, ollama).
	Provider string `json:"provider"`

	// APIKey is the API key for the LLM provider.
	APIKey string `json:"api_key"`

	// Model is the model name to use (e.g., "gpt-4o-mini", "deepseek-chat").
	Model string `json:"model"`

	// BaseURL is the base URL for the API (optional, uses provider default if empty).
	BaseURL string `json:"base_url,omitempty"`

	// TimeoutSeconds caps every model call attempt. Expiry counts as a
	// transient failure. Default: 60
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

// Timeout returns the per-attempt deadline.
func (c LLMConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return llm.DefaultRetryPolicy().AttemptTimeout
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// EmbedderConfig contains configuration for the embedding provider.
//
// Supported providers: openai, ollama (through its OpenAI-compatible endpoint)
type EmbedderConfig struct {
	// Provider is the embedding provider name (openai, ollama).
	Provider string `json:"provider"`

	// APIKey is the API key for the embedding provider.
	APIKey string `json:"api_key"`

	// Model is the embedding model name (e.g., "text-embedding-3-small").
	Model string `json:"model"`

	// BaseURL is the base URL for the API (optional, uses provider default if empty).
	BaseURL string `json:"base_url,omitempty"`

	// Dimensions is the dimension of the embedding vectors (e.g., 1536).
	Dimensions int `json:"dimensions,omitempty"`
}

// model returns the configured model or the provider's default.
func (c EmbedderConfig) model() string {
	switch {
	case c.Model != "":
		return c.Model
	case c.Provider == "ollama":
		return "nomic-embed-text"
	default:
		return "text-embedding-3-small"
	}
}

// dimensions returns the configured width or the model's native one.
func (c EmbedderConfig) dimensions() int {
	if c.Dimensions > 0 {
		return c.Dimensions
	}
	return embedder.DefaultDimensions(c.model())
}

// StoreConfig contains configuration for the memory store.
//
// Supported providers: sqlite, postgres, oceanbase, redis, jsonfile
type StoreConfig struct {
	// Provider is the store provider name.
	Provider string `json:"provider"`

	// Config contains provider-specific configuration.
	// For SQLite: db_path, collection_name
	// For OceanBase: host, port, user, password, db_name, collection_name, embedding_model_dims
	// For PostgreSQL: host, port, user, password, db_name, collection_name, embedding_model_dims, ssl_mode
	// For Redis: url, key_prefix
	// For JSON file: path
	Config map[string]interface{} `json:"config"`
}

// PoolConfig sizes the worker pool shared by reflections and summaries.
type PoolConfig struct {
	// MaxWorkers is the number of concurrent tasks. Default: 4
	MaxWorkers int `json:"max_workers,omitempty"`

	// MaxQueued is how many tasks may wait for a worker before new ones are
	// rejected with ErrPoolSaturated. Negative means unbounded. Default: 64
	MaxQueued int `json:"max_queued,omitempty"`
}

// RetryConfig bounds retries of transient model failures.
type RetryConfig struct {
	// MaxAttempts counts the first call. Default: 5
	MaxAttempts int `json:"max_attempts,omitempty"`

	// InitialIntervalMs is the first backoff wait. Default: 500
	InitialIntervalMs int `json:"initial_interval_ms,omitempty"`

	// MaxIntervalMs caps a single backoff wait. Default: 10000
	MaxIntervalMs int `json:"max_interval_ms,omitempty"`

	// Multiplier grows the wait after every retry. Default: 2.0
	Multiplier float64 `json:"multiplier,omitempty"`
}

// ReflectionConfig schedules automatic reflections.
type ReflectionConfig struct {
	// Every makes ReflectionDue report true once this many memories were
	// recorded since the last reflection. Zero disables the trigger.
	Every int `json:"every,omitempty"`

	// OnFirstRun runs a reflection when Bootstrap created the stream.
	OnFirstRun bool `json:"on_first_run,omitempty"`
}

// BioConfig schedules bio regeneration.
type BioConfig struct {
	// Every makes BioDue report true once this many memories were recorded
	// since the last bio. Zero disables the trigger.
	Every int `json:"every,omitempty"`
}

func (c *Config) poolConfig() workerpool.Config {
	cfg := workerpool.DefaultConfig()
	if c.Pool.MaxWorkers > 0 {
		cfg.MaxWorkers = c.Pool.MaxWorkers
	}
	if c.Pool.MaxQueued != 0 {
		cfg.MaxQueued = c.Pool.MaxQueued
	}
	return cfg
}

func (c *Config) retryPolicy() llm.RetryPolicy {
	p := llm.DefaultRetryPolicy()
	if c.Retry.MaxAttempts > 0 {
		p.MaxAttempts = c.Retry.MaxAttempts
	}
	if c.Retry.InitialIntervalMs > 0 {
		p.InitialInterval = time.Duration(c.Retry.InitialIntervalMs) * time.Millisecond
	}
	if c.Retry.MaxIntervalMs > 0 {
		p.MaxInterval = time.Duration(c.Retry.MaxIntervalMs) * time.Millisecond
	}
	if c.Retry.Multiplier > 0 {
		p.Multiplier = c.Retry.Multiplier
	}
	p.AttemptTimeout = c.LLM.Timeout()
	return p
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function:
//  1. Searches for .env or .env.example files (up to 5 directory levels up)
//  2. Loads environment variables from the found file
//  3. Parses environment variables into a Config struct
//
// Supported environment variables:
//   - AGENT_NAME, AGENT_DESCRIPTION, AGENT_NODE_ID
//   - DATABASE_PROVIDER (sqlite, postgres, oceanbase, redis, jsonfile)
//   - SQLITE_PATH, SQLITE_COLLECTION
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER, POSTGRES_PASSWORD, etc.
//   - OCEANBASE_HOST, OCEANBASE_PORT, OCEANBASE_USER, OCEANBASE_PASSWORD, etc.
//   - REDIS_URL, REDIS_KEY_PREFIX
//   - JSONFILE_PATH
//   - LLM_PROVIDER, LLM_API_KEY, LLM_MODEL, LLM_BASE_URL, LLM_TIMEOUT_SECONDS
//   - EMBEDDING_PROVIDER, EMBEDDING_API_KEY, EMBEDDING_MODEL, EMBEDDING_BASE_URL, EMBEDDING_DIMS
//   - WORKER_POOL_SIZE, WORKER_QUEUE_DEPTH, LLM_MAX_ATTEMPTS, REFLECT_EVERY, REFLECT_ON_FIRST_RUN, BIO_EVERY
//
// Returns a Config instance, or an error if loading fails.
//
// Example:
//
//	config, err := core.LoadConfigFromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
func LoadConfigFromEnv() (*Config, error) {
	// Use FindEnvFile to locate .env file (supports upward search)
	envPath, found := FindEnvFile()
	if found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	agentName := getEnvOrDefault("AGENT_NAME", "agent")
	provider := getEnvOrDefault("DATABASE_PROVIDER", "sqlite")

	embedderProvider := getEnvOrDefault("EMBEDDING_PROVIDER", "openai")
	embedderBaseURL := os.Getenv("EMBEDDING_BASE_URL")
	embedderModel := os.Getenv("EMBEDDING_MODEL")
	switch embedderProvider {
	case "ollama":
		if embedderBaseURL == "" {
			embedderBaseURL = "http://localhost:11434/v1"
		}
		if embedderModel == "" {
			embedderModel = "nomic-embed-text"
		}
	default:
		if embedderModel == "" {
			embedderModel = "text-embedding-3-small"
		}
	}

	embeddingDims := getEnvInt("EMBEDDING_DIMS", embedder.DefaultDimensions(embedderModel))

	var storeConfig map[string]interface{}
	switch provider {
	case "oceanbase":
		storeConfig = map[string]interface{}{
			"host":                 getEnvOrDefault("OCEANBASE_HOST", "127.0.0.1"),
			"port":                 getEnvInt("OCEANBASE_PORT", 2881),
			"user":                 getEnvOrDefault("OCEANBASE_USER", "root@sys"),
			"password":             os.Getenv("OCEANBASE_PASSWORD"),
			"db_name":              getEnvOrDefault("OCEANBASE_DATABASE", "agentmem"),
			"collection_name":      getEnvOrDefault("OCEANBASE_COLLECTION", "memories"),
			"embedding_model_dims": getEnvInt("OCEANBASE_EMBEDDING_MODEL_DIMS", embeddingDims),
		}
	case "sqlite":
		storeConfig = map[string]interface{}{
			"db_path":         getEnvOrDefault("SQLITE_PATH", "./agentmem.db"),
			"collection_name": getEnvOrDefault("SQLITE_COLLECTION", "memories"),
		}
	case "postgres":
		storeConfig = map[string]interface{}{
			"host":                 getEnvOrDefault("POSTGRES_HOST", "localhost"),
			"port":                 getEnvInt("POSTGRES_PORT", 5432),
			"user":                 getEnvOrDefault("POSTGRES_USER", "postgres"),
			"password":             os.Getenv("POSTGRES_PASSWORD"),
			"db_name":              getEnvOrDefault("POSTGRES_DATABASE", "agentmem"),
			"collection_name":      getEnvOrDefault("POSTGRES_COLLECTION", "memories"),
			"embedding_model_dims": getEnvInt("POSTGRES_EMBEDDING_MODEL_DIMS", embeddingDims),
			"ssl_mode":             getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		}
	case "redis":
		storeConfig = map[string]interface{}{
			"url":        getEnvOrDefault("REDIS_URL", "redis://localhost:6379/0"),
			"key_prefix": getEnvOrDefault("REDIS_KEY_PREFIX", "agentmem"),
		}
	case "jsonfile":
		storeConfig = map[string]interface{}{
			"path": getEnvOrDefault("JSONFILE_PATH", fmt.Sprintf("./%s.json", agentName)),
		}
	}

	// Provider-specific base URL and default model
	llmProvider := getEnvOrDefault("LLM_PROVIDER", "openai")
	llmBaseURL := os.Getenv("LLM_BASE_URL")
	var defaultModel string
	switch llmProvider {
	case "deepseek":
		defaultModel = "deepseek-chat"
	case "ollama":
		if llmBaseURL == "" {
			llmBaseURL = "http://localhost:11434"
		}
		defaultModel = "llama3.1:70b"
	case "anthropic":
		defaultModel = "claude-3-5-sonnet-20240620"
	default:
		defaultModel = "gpt-4o-mini"
	}

	config := &Config{
		Agent: AgentConfig{
			Name:        agentName,
			Description: os.Getenv("AGENT_DESCRIPTION"),
			NodeID:      int64(getEnvInt("AGENT_NODE_ID", 1)),
		},
		LLM: LLMConfig{
			Provider:       llmProvider,
			APIKey:         os.Getenv("LLM_API_KEY"),
			Model:          getEnvOrDefault("LLM_MODEL", defaultModel),
			BaseURL:        llmBaseURL,
			TimeoutSeconds: getEnvInt("LLM_TIMEOUT_SECONDS", 60),
		},
		Embedder: EmbedderConfig{
			Provider:   embedderProvider,
			APIKey:     getEnvOrDefault("EMBEDDING_API_KEY", os.Getenv("LLM_API_KEY")),
			Model:      embedderModel,
			BaseURL:    embedderBaseURL,
			Dimensions: embeddingDims,
		},
		Store: StoreConfig{
			Provider: provider,
			Config:   storeConfig,
		},
		Pool: PoolConfig{
			MaxWorkers: getEnvInt("WORKER_POOL_SIZE", 4),
			MaxQueued:  getEnvInt("WORKER_QUEUE_DEPTH", 64),
		},
		Retry: RetryConfig{
			MaxAttempts: getEnvInt("LLM_MAX_ATTEMPTS", 5),
		},
		Reflection: ReflectionConfig{
			Every:      getEnvInt("REFLECT_EVERY", 0),
			OnFirstRun: os.Getenv("REFLECT_ON_FIRST_RUN") == "true",
		},
		Bio: BioConfig{
			Every: getEnvInt("BIO_EVERY", 0),
		},
	}

	return config, nil
}

// LoadConfigFromEnvFile loads configuration from a specific .env file.
func LoadConfigFromEnvFile(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	return LoadConfigFromEnv()
}

// LoadConfigFromJSON loads configuration from a JSON file.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewMemoryError("LoadConfigFromJSON", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, NewMemoryError("LoadConfigFromJSON", err)
	}

	return &config, nil
}

// Validate validates the configuration.
//
// Checks that all required fields are set:
//   - Agent name must be specified
//   - LLM, embedder and store providers must be specified
//   - Node id must fit a snowflake node
//   - Reflection.Every and Bio.Every must not be negative
//
// Returns an error wrapping ErrInvalidConfig if validation fails, nil otherwise.
func (c *Config) Validate() error {
	switch {
	case c.Agent.Name == "":
		return NewMemoryError("Validate", fmt.Errorf("%w: agent name is required", ErrInvalidConfig))
	case c.LLM.Provider == "":
		return NewMemoryError("Validate", fmt.Errorf("%w: llm provider is required", ErrInvalidConfig))
	case c.Embedder.Provider == "":
		return NewMemoryError("Validate", fmt.Errorf("%w: embedder provider is required", ErrInvalidConfig))
	case c.Store.Provider == "":
		return NewMemoryError("Validate", fmt.Errorf("%w: store provider is required", ErrInvalidConfig))
	case c.Agent.NodeID < 0 || c.Agent.NodeID > 1023:
		return NewMemoryError("Validate", fmt.Errorf("%w: node id %d outside [0, 1023]", ErrInvalidConfig, c.Agent.NodeID))
	case c.Reflection.Every < 0:
		return NewMemoryError("Validate", fmt.Errorf("%w: negative reflection interval", ErrInvalidConfig))
	case c.Bio.Every < 0:
		return NewMemoryError("Validate", fmt.Errorf("%w: negative bio interval", ErrInvalidConfig))
	}
	return nil
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt parses an integer environment variable, falling back to
// defaultValue when it is unset or not a number.
func getEnvInt(key string, defaultValue int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return n
}

// FindEnvFile searches for .env or .env.example files.
//
// The search:
//  1. Checks the current directory
//  2. Searches up to 5 directory levels up
//  3. Returns the first .env or .env.example file found
func FindEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")

		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}

// configString reads a string store option.
func configString(m map[string]interface{}, key, defaultValue string) string {
	if s, ok := m[key].(string); ok && s != "" {
		return s
	}
	return defaultValue
}

// configInt reads an integer store option. JSON decoding yields float64 and
// env values may arrive as strings, so both are accepted.
func configInt(m map[string]interface{}, key string, defaultValue int) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}
